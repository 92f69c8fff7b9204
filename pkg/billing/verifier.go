package billing

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// SignatureHeader carries the provider signature on webhook requests
const SignatureHeader = "Stripe-Signature"

// Verifier authenticates webhook payloads with the endpoint secret
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier using Stripe's default timestamp tolerance
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify checks the signature header against payload and decodes the
// event. Nothing in the payload is trusted before this returns nil.
func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrUnverifiedEvent, ErrNotConfigured)
	}
	if header == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing %s header", ErrUnverifiedEvent, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrUnverifiedEvent, err)
	}
	return event, nil
}
