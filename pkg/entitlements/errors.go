package entitlements

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotProvisioned is returned by a Store when no record exists for
	// the user yet. The resolver treats it as a deny, not a failure.
	ErrNotProvisioned = errors.New("entitlement record not provisioned")

	// ErrStoreUnavailable wraps any persistence failure surfaced by the
	// resolver or ledger.
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	// ErrStaleChange is returned by ApplySubscription when the user already
	// holds a change from a later event. Nothing was written.
	ErrStaleChange = errors.New("subscription change is older than the applied state")
)

// QuotaExceededError describes a denied metered action
type QuotaExceededError struct {
	Used    int
	Limit   int
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded: %d of %d used, resets %s",
		e.Used, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
