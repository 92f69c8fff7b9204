package billing

import (
	"context"

	"github.com/stripe/stripe-go/v79"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// Invoice is the part of a Stripe invoice worth telling a user about
type Invoice struct {
	ID             string
	UserID         string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string
	AmountDue      int64
	AmountPaid     int64
	Currency       string
	AttemptCount   int64
	HostedURL      string
}

// InvoiceNotifier is told about payment outcomes. It runs in the
// background after the webhook has been acknowledged and must not touch
// entitlement state.
type InvoiceNotifier interface {
	PaymentSucceeded(ctx context.Context, invoice Invoice) error
	PaymentFailed(ctx context.Context, invoice Invoice) error
}

// LogNotifier writes payment outcomes to the log
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PaymentSucceeded(ctx context.Context, invoice Invoice) error {
	n.fields(invoice).Info("invoice paid")
	return nil
}

func (n *LogNotifier) PaymentFailed(ctx context.Context, invoice Invoice) error {
	n.fields(invoice).WithField("attempt_count", invoice.AttemptCount).Warn("invoice payment failed")
	return nil
}

func (n *LogNotifier) fields(invoice Invoice) *observability.Logger {
	return n.logger.WithFields(map[string]interface{}{
		"invoice_id":      invoice.ID,
		"user_id":         invoice.UserID,
		"customer_id":     invoice.CustomerID,
		"subscription_id": invoice.SubscriptionID,
		"amount_due":      invoice.AmountDue,
		"amount_paid":     invoice.AmountPaid,
		"currency":        invoice.Currency,
	})
}

func invoiceSummary(inv *stripe.Invoice, userID string) Invoice {
	out := Invoice{
		ID:            inv.ID,
		UserID:        userID,
		CustomerEmail: inv.CustomerEmail,
		AmountDue:     inv.AmountDue,
		AmountPaid:    inv.AmountPaid,
		Currency:      string(inv.Currency),
		AttemptCount:  inv.AttemptCount,
		HostedURL:     inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	return out
}
