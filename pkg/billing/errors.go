package billing

import "errors"

var (
	// ErrUnverifiedEvent is returned when the signature header does not
	// match the payload and shared secret
	ErrUnverifiedEvent = errors.New("webhook signature verification failed")

	// ErrUnresolvableEvent marks a verified event that cannot be tied to a
	// local user. Callers acknowledge it so the provider stops retrying.
	ErrUnresolvableEvent = errors.New("event cannot be correlated to a user")

	// ErrAmbiguousCustomer is returned when a customer id matches several
	// users. It is always wrapped together with ErrUnresolvableEvent.
	ErrAmbiguousCustomer = errors.New("customer id matches more than one user")

	// ErrInvalidTier is returned when checkout is requested for a tier that
	// cannot be purchased
	ErrInvalidTier = errors.New("invalid subscription tier")

	// ErrNoCustomer is returned when a billing portal is requested for a
	// user without a stored customer id
	ErrNoCustomer = errors.New("user has no billing customer")

	// ErrInvalidReturnURL is returned when a portal return URL does not
	// point at the application origin
	ErrInvalidReturnURL = errors.New("return url is not on the application origin")

	// ErrNotConfigured is returned when Stripe credentials are missing
	ErrNotConfigured = errors.New("billing is not configured")
)
