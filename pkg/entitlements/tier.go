package entitlements

import (
	"fmt"
	"strings"
)

// Tier is a named entitlement level
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Unlimited is the MonthlyLimit sentinel for tiers without a quota
const Unlimited = -1

// FreeMonthlyLimit is the number of metered actions a free user gets per month
const FreeMonthlyLimit = 30

// Legacy tier names still present in older rows
const (
	legacyExplorer = "explorer"
	legacyBuilder  = "builder"
	legacyExpert   = "expert"
)

// MonthlyLimit returns the quota for the tier
func (t Tier) MonthlyLimit() int {
	switch t {
	case TierPro:
		return Unlimited
	default:
		return FreeMonthlyLimit
	}
}

// Metered reports whether usage is counted for the tier
func (t Tier) Metered() bool {
	return t.MonthlyLimit() != Unlimited
}

// Paid reports whether the tier requires a subscription
func (t Tier) Paid() bool {
	return t == TierPro
}

// Valid reports whether t is one of the current tiers
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier maps a stored or event-supplied tier name onto the current tier
// set. Legacy names map to free (explorer) or pro (builder, expert).
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(TierFree), legacyExplorer:
		return TierFree, nil
	case string(TierPro), legacyBuilder, legacyExpert:
		return TierPro, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// IsLegacyTier reports whether s is one of the retired tier names
func IsLegacyTier(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case legacyExplorer, legacyBuilder, legacyExpert:
		return true
	}
	return false
}

// LegacyTierMapping lists every retired tier name with its replacement
func LegacyTierMapping() map[string]Tier {
	return map[string]Tier{
		legacyExplorer: TierFree,
		legacyBuilder:  TierPro,
		legacyExpert:   TierPro,
	}
}

// SubscriptionStatus mirrors the billing provider's subscription lifecycle
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ParseSubscriptionStatus reads a stored status; empty means none
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(s) {
	case "", StatusNone:
		return StatusNone, nil
	case StatusActive, StatusPastDue, StatusCanceled:
		return SubscriptionStatus(s), nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
}
