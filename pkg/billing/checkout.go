package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// CheckoutSession is a hosted payment page the client redirects to
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// CustomerRequest describes a customer to create
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// SessionRequest describes a subscription checkout
type SessionRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutGateway is the slice of the Stripe API checkout needs
type CheckoutGateway interface {
	// FindCustomerByEmail returns "" when no customer has the email
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (CheckoutSession, error)
	// CreatePortalSession returns the portal URL
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripeGateway implements CheckoutGateway with the Stripe API client
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway authenticated with secretKey
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := g.api.Customers.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to list customers: %w", err)
	}
	return "", nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(req.Email),
		Metadata: map[string]string{metadataUserID: req.UserID},
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}
	return s.URL, nil
}

// CheckoutConfig configures a CheckoutService
type CheckoutConfig struct {
	ProPriceID string
	// AppURL is the frontend origin used for redirect URLs
	AppURL  string
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// CheckoutService starts paid subscriptions and opens the billing portal
type CheckoutService struct {
	gateway CheckoutGateway
	records entitlements.RecordReader
	config  CheckoutConfig
	logger  *observability.Logger
}

// NewCheckoutService creates a checkout service
func NewCheckoutService(gateway CheckoutGateway, records entitlements.RecordReader, config CheckoutConfig) *CheckoutService {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	config.AppURL = strings.TrimRight(config.AppURL, "/")
	return &CheckoutService{gateway: gateway, records: records, config: config, logger: config.Logger}
}

// CreateCheckout opens a subscription checkout for tier, which must be pro.
// The session and the subscription it creates both carry userId and tier
// metadata so webhooks can be correlated without a customer lookup.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID, tier string) (CheckoutSession, error) {
	if entitlements.Tier(strings.ToLower(strings.TrimSpace(tier))) != entitlements.TierPro {
		s.count(tier, "invalid_tier")
		return CheckoutSession{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if s.gateway == nil || s.config.ProPriceID == "" {
		return CheckoutSession{}, ErrNotConfigured
	}

	rec, err := s.records.Get(ctx, userID)
	if err != nil {
		return CheckoutSession{}, err
	}

	customerID, err := s.customerFor(ctx, rec)
	if err != nil {
		s.count(tier, "error")
		return CheckoutSession{}, err
	}

	tierName := string(entitlements.TierPro)
	session, err := s.gateway.CreateCheckoutSession(ctx, SessionRequest{
		CustomerID: customerID,
		PriceID:    s.config.ProPriceID,
		SuccessURL: fmt.Sprintf("%s/?success=true&tier=%s", s.config.AppURL, tierName),
		CancelURL:  s.config.AppURL + "/?canceled=true",
		Metadata: map[string]string{
			metadataUserID: userID,
			metadataTier:   tierName,
		},
	})
	if err != nil {
		s.count(tierName, "error")
		return CheckoutSession{}, err
	}

	s.count(tierName, "created")
	s.logger.WithUser(userID).WithField("session_id", session.ID).Info("checkout session created")
	return session, nil
}

// customerFor reuses the stored customer, then one found by email, and
// creates a new customer only as a last resort.
func (s *CheckoutService) customerFor(ctx context.Context, rec *entitlements.Record) (string, error) {
	if rec.ExternalCustomerID != "" {
		return rec.ExternalCustomerID, nil
	}
	if rec.Email != "" {
		id, err := s.gateway.FindCustomerByEmail(ctx, rec.Email)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return s.gateway.CreateCustomer(ctx, CustomerRequest{
		UserID: rec.UserID,
		Email:  rec.Email,
		Name:   rec.FullName,
	})
}

// Portal returns a billing portal URL for a user who has paid before.
// A non-empty returnURL must share the scheme and host of AppURL.
func (s *CheckoutService) Portal(ctx context.Context, userID, returnURL string) (string, error) {
	if s.gateway == nil {
		return "", ErrNotConfigured
	}
	if returnURL != "" && !s.sameOrigin(returnURL) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReturnURL, returnURL)
	}
	rec, err := s.records.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec.ExternalCustomerID == "" {
		return "", ErrNoCustomer
	}
	if returnURL == "" {
		returnURL = s.config.AppURL + "/"
	}
	return s.gateway.CreatePortalSession(ctx, rec.ExternalCustomerID, returnURL)
}

func (s *CheckoutService) sameOrigin(raw string) bool {
	app, err := url.Parse(s.config.AppURL)
	if err != nil || app.Host == "" {
		return false
	}
	target, err := url.Parse(raw)
	if err != nil || target.User != nil {
		return false
	}
	return strings.EqualFold(target.Scheme, app.Scheme) && strings.EqualFold(target.Host, app.Host)
}

func (s *CheckoutService) count(tier, result string) {
	if s.config.Metrics != nil {
		s.config.Metrics.CheckoutSessionsTotal.WithLabelValues(tier, result).Inc()
	}
}

// IsClientError reports whether err was caused by the request rather than
// by Stripe or the store
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTier) || errors.Is(err, ErrNoCustomer) ||
		errors.Is(err, ErrInvalidReturnURL) || errors.Is(err, entitlements.ErrNotProvisioned)
}
