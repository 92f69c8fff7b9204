package entitlements

import "time"

// Record is the per-user entitlement state. Exactly one exists per user; it
// is created at first sign-in and never deleted.
type Record struct {
	UserID    string
	Email     string
	Username  string
	FullName  string
	AvatarURL string

	Tier           Tier
	Status         SubscriptionStatus
	MonthlyLimit   int
	UsedThisPeriod int
	LastResetDate  time.Time

	SubscriptionExpiresAt  *time.Time
	ExternalSubscriptionID string
	ExternalCustomerID     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is the identity data written at sign-in
type Profile struct {
	UserID    string
	Email     string
	Username  string
	FullName  string
	AvatarURL string
}

// DenyReason explains a negative Decision
type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonNotProvisioned   DenyReason = "not_provisioned"
	ReasonQuotaExceeded    DenyReason = "quota_exceeded"
	ReasonStoreUnavailable DenyReason = "store_unavailable"
)

// Decision is the outcome of Resolver.Evaluate
type Decision struct {
	CanAct bool
	// Used is the reported usage: always 0 for privileged users and
	// unlimited tiers.
	Used int
	// Limit is the reported quota, Unlimited for privileged users and
	// unlimited tiers.
	Limit int
	// ResetAt is local midnight on the 1st of next month. Informational.
	ResetAt time.Time

	Tier                  Tier
	Status                SubscriptionStatus
	SubscriptionExpiresAt *time.Time
	Privileged            bool
	Reason                DenyReason
}

// Unlimited reports whether no quota applies to the decision
func (d Decision) Unlimited() bool {
	return d.Limit == Unlimited
}

// Remaining returns the actions left this period, or Unlimited
func (d Decision) Remaining() int {
	if d.Unlimited() {
		return Unlimited
	}
	if left := d.Limit - d.Used; left > 0 {
		return left
	}
	return 0
}

// Err converts a quota deny into a *QuotaExceededError, nil otherwise
func (d Decision) Err() error {
	if d.Reason != ReasonQuotaExceeded {
		return nil
	}
	return &QuotaExceededError{Used: d.Used, Limit: d.Limit, ResetAt: d.ResetAt}
}

// SubscriptionChange is the projection of a billing event onto a user.
// Empty ids, a nil ExpiresAt and an empty PriceID mean the event did not
// carry the value; stores keep what they have.
type SubscriptionChange struct {
	UserID                 string
	Tier                   Tier
	Status                 SubscriptionStatus
	ExternalSubscriptionID string
	ExternalCustomerID     string
	ExpiresAt              *time.Time
	// ProviderStatus is the billing provider's raw status string
	ProviderStatus string
	PriceID        string
	// OccurredAt is when the provider created the event. A change older
	// than the last one applied to the user is rejected with
	// ErrStaleChange. The zero value skips the check.
	OccurredAt time.Time
}

// MigrationReport summarises a legacy tier migration
type MigrationReport struct {
	// Migrated counts rewritten rows per legacy tier name
	Migrated map[string]int64
	// LimitsRepaired counts rows whose monthly limit disagreed with their tier
	LimitsRepaired int64
}

// Total returns the number of rows touched
func (r MigrationReport) Total() int64 {
	total := r.LimitsRepaired
	for _, n := range r.Migrated {
		total += n
	}
	return total
}
