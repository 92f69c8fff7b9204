package billing

import (
	"github.com/stripe/stripe-go/v79"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
)

// EventKind is the closed set of provider events the reconciler handles
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindSubscriptionCreated
	EventKindSubscriptionUpdated
	EventKindSubscriptionDeleted
	EventKindInvoicePaymentSucceeded
	EventKindInvoicePaymentFailed
	EventKindCheckoutSessionCompleted
)

var eventKindNames = map[EventKind]string{
	EventKindUnknown:                  "unknown",
	EventKindSubscriptionCreated:      "customer.subscription.created",
	EventKindSubscriptionUpdated:      "customer.subscription.updated",
	EventKindSubscriptionDeleted:      "customer.subscription.deleted",
	EventKindInvoicePaymentSucceeded:  "invoice.payment_succeeded",
	EventKindInvoicePaymentFailed:     "invoice.payment_failed",
	EventKindCheckoutSessionCompleted: "checkout.session.completed",
}

// ParseEventKind maps a Stripe event type onto an EventKind. Unhandled
// types map to EventKindUnknown.
func ParseEventKind(eventType string) EventKind {
	for kind, name := range eventKindNames {
		if kind != EventKindUnknown && name == eventType {
			return kind
		}
	}
	return EventKindUnknown
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return eventKindNames[EventKindUnknown]
}

// MapStatus projects a Stripe subscription status onto the local status.
// Unrecognised statuses map to canceled.
func MapStatus(status stripe.SubscriptionStatus) entitlements.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return entitlements.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return entitlements.StatusPastDue
	default:
		return entitlements.StatusCanceled
	}
}

// GrantsTier reports whether a subscription in this raw status keeps its
// paid tier. Past-due subscriptions keep access while Stripe retries.
func GrantsTier(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:
		return true
	}
	return false
}
