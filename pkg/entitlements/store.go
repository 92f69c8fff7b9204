package entitlements

import (
	"context"
	"time"
)

// RecordReader reads entitlement records
type RecordReader interface {
	// Get returns ErrNotProvisioned when the user has no record
	Get(ctx context.Context, userID string) (*Record, error)
}

// UsageStore holds the counter operations. Each must be a single atomic
// statement at the storage layer.
type UsageStore interface {
	// ResetPeriodIfStale zeroes the counter and sets last_reset_date to
	// period.Today only when last_reset_date < period.Start. Reports
	// whether a row changed.
	ResetPeriodIfStale(ctx context.Context, userID string, period Period) (bool, error)
	// ResetStalePeriods applies the same conditional reset to every record
	ResetStalePeriods(ctx context.Context, period Period) (int64, error)
	// IncrementUsage adds one to the counter in place. Returns
	// ErrNotProvisioned when no row matched.
	IncrementUsage(ctx context.Context, userID string) error
}

// SubscriptionStore holds the reconciler's write operations
type SubscriptionStore interface {
	// FindByCustomerID returns every user id whose stored customer id
	// matches. Callers decide what to do with zero or several matches.
	FindByCustomerID(ctx context.Context, customerID string) ([]string, error)
	// ApplySubscription upserts the subscription keyed by its external id
	// and projects tier, status, limit and correlation ids onto the user.
	// Changes apply last-write-wins on OccurredAt. Returns
	// ErrNotProvisioned when the user does not exist and ErrStaleChange
	// when a later event was already applied.
	ApplySubscription(ctx context.Context, change SubscriptionChange) error
	// RevertToFree downgrades the user to free, status canceled, clears
	// expiry and subscription id. subscriptionID marks the projection row.
	// The downgrade is unconditional; occurredAt advances the user's last
	// applied event time so older changes arriving later are rejected.
	RevertToFree(ctx context.Context, userID, subscriptionID string, occurredAt time.Time) error
}

// ProvisioningStore creates records at sign-in
type ProvisioningStore interface {
	// Provision inserts a free record or refreshes profile fields of an
	// existing one. Tier and usage fields of existing rows are untouched.
	Provision(ctx context.Context, profile Profile, today time.Time) (*Record, error)
}

// MigrationStore rewrites legacy tier values
type MigrationStore interface {
	MigrateLegacyTiers(ctx context.Context) (MigrationReport, error)
}

// Store is the full persistence contract
type Store interface {
	RecordReader
	UsageStore
	SubscriptionStore
	ProvisioningStore
	MigrationStore
}
