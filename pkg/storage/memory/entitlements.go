// Package memory provides in-process stores for local development and
// tests. Data is lost when the process exits.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
)

// Subscription is the projection row kept per external subscription id
type Subscription struct {
	UserID         string
	SubscriptionID string
	CustomerID     string
	Status         string
	PriceID        string
	Tier           entitlements.Tier
	PeriodEnd      *time.Time
	LastEventAt    time.Time
	UpdatedAt      time.Time
}

// EntitlementStore implements entitlements.Store with a mutex-guarded map.
// Every method holds the lock for its whole body, which gives the same
// per-row atomicity the SQL store gets from single statements.
type EntitlementStore struct {
	mu            sync.Mutex
	records       map[string]*entitlements.Record
	subscriptions map[string]*Subscription
	// lastEvent is the newest applied billing event time per user
	lastEvent map[string]time.Time
	now       func() time.Time
}

// NewEntitlementStore creates an empty store
func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{
		records:       make(map[string]*entitlements.Record),
		subscriptions: make(map[string]*Subscription),
		lastEvent:     make(map[string]time.Time),
		now:           time.Now,
	}
}

// Seed inserts or replaces a record verbatim. Test helper.
func (s *EntitlementStore) Seed(rec entitlements.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.records[rec.UserID] = &cp
}

// Subscription returns a copy of the projection row for subscriptionID
func (s *EntitlementStore) Subscription(subscriptionID string) (Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Get implements entitlements.RecordReader
func (s *EntitlementStore) Get(ctx context.Context, userID string) (*entitlements.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, entitlements.ErrNotProvisioned
	}
	return copyRecord(rec), nil
}

// ResetPeriodIfStale implements entitlements.UsageStore
func (s *EntitlementStore) ResetPeriodIfStale(ctx context.Context, userID string, period entitlements.Period) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return false, nil
	}
	return s.resetLocked(rec, period), nil
}

// ResetStalePeriods implements entitlements.UsageStore
func (s *EntitlementStore) ResetStalePeriods(ctx context.Context, period entitlements.Period) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.records {
		if s.resetLocked(rec, period) {
			n++
		}
	}
	return n, nil
}

func (s *EntitlementStore) resetLocked(rec *entitlements.Record, period entitlements.Period) bool {
	if !period.Stale(rec.LastResetDate) {
		return false
	}
	rec.UsedThisPeriod = 0
	rec.LastResetDate = period.Today
	rec.UpdatedAt = s.now()
	return true
}

// IncrementUsage implements entitlements.UsageStore
func (s *EntitlementStore) IncrementUsage(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return entitlements.ErrNotProvisioned
	}
	rec.UsedThisPeriod++
	rec.UpdatedAt = s.now()
	return nil
}

// FindByCustomerID implements entitlements.SubscriptionStore
func (s *EntitlementStore) FindByCustomerID(ctx context.Context, customerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.records {
		if rec.ExternalCustomerID == customerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ApplySubscription implements entitlements.SubscriptionStore
func (s *EntitlementStore) ApplySubscription(ctx context.Context, change entitlements.SubscriptionChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[change.UserID]
	if !ok {
		return entitlements.ErrNotProvisioned
	}

	if last, ok := s.lastEvent[change.UserID]; ok && !change.OccurredAt.IsZero() && change.OccurredAt.Before(last) {
		return entitlements.ErrStaleChange
	}
	s.advance(change.UserID, change.OccurredAt)

	now := s.now()
	rec.Tier = change.Tier
	rec.Status = change.Status
	rec.MonthlyLimit = change.Tier.MonthlyLimit()
	if change.ExpiresAt != nil {
		rec.SubscriptionExpiresAt = copyTime(change.ExpiresAt)
	}
	if change.ExternalSubscriptionID != "" {
		rec.ExternalSubscriptionID = change.ExternalSubscriptionID
	}
	if change.ExternalCustomerID != "" {
		rec.ExternalCustomerID = change.ExternalCustomerID
	}
	rec.UpdatedAt = now

	if change.ExternalSubscriptionID == "" {
		return nil
	}
	sub, ok := s.subscriptions[change.ExternalSubscriptionID]
	if !ok {
		sub = &Subscription{SubscriptionID: change.ExternalSubscriptionID}
		s.subscriptions[change.ExternalSubscriptionID] = sub
	}
	sub.UserID = change.UserID
	if change.ExternalCustomerID != "" {
		sub.CustomerID = change.ExternalCustomerID
	}
	sub.Status = change.ProviderStatus
	sub.Tier = change.Tier
	if change.PriceID != "" {
		sub.PriceID = change.PriceID
	}
	if change.ExpiresAt != nil {
		sub.PeriodEnd = copyTime(change.ExpiresAt)
	}
	if change.OccurredAt.After(sub.LastEventAt) {
		sub.LastEventAt = change.OccurredAt
	}
	sub.UpdatedAt = now
	return nil
}

// advance moves the user's last applied event time forward. Caller holds mu.
func (s *EntitlementStore) advance(userID string, occurredAt time.Time) {
	if occurredAt.IsZero() {
		return
	}
	if last, ok := s.lastEvent[userID]; !ok || occurredAt.After(last) {
		s.lastEvent[userID] = occurredAt
	}
}

// RevertToFree implements entitlements.SubscriptionStore
func (s *EntitlementStore) RevertToFree(ctx context.Context, userID, subscriptionID string, occurredAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return entitlements.ErrNotProvisioned
	}

	s.advance(userID, occurredAt)

	now := s.now()
	rec.Tier = entitlements.TierFree
	rec.Status = entitlements.StatusCanceled
	rec.MonthlyLimit = entitlements.FreeMonthlyLimit
	rec.SubscriptionExpiresAt = nil
	rec.ExternalSubscriptionID = ""
	rec.UpdatedAt = now

	if sub, ok := s.subscriptions[subscriptionID]; ok {
		sub.Status = "canceled"
		if occurredAt.After(sub.LastEventAt) {
			sub.LastEventAt = occurredAt
		}
		sub.UpdatedAt = now
	}
	return nil
}

// Provision implements entitlements.ProvisioningStore
func (s *EntitlementStore) Provision(ctx context.Context, profile entitlements.Profile, today time.Time) (*entitlements.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[profile.UserID]
	if !ok {
		rec = &entitlements.Record{
			UserID:        profile.UserID,
			Tier:          entitlements.TierFree,
			Status:        entitlements.StatusNone,
			MonthlyLimit:  entitlements.FreeMonthlyLimit,
			LastResetDate: today,
			CreatedAt:     now,
		}
		s.records[profile.UserID] = rec
	}
	rec.Email = profile.Email
	rec.Username = profile.Username
	rec.FullName = profile.FullName
	rec.AvatarURL = profile.AvatarURL
	rec.UpdatedAt = now
	return copyRecord(rec), nil
}

// MigrateLegacyTiers implements entitlements.MigrationStore
func (s *EntitlementStore) MigrateLegacyTiers(ctx context.Context) (entitlements.MigrationReport, error) {
	if err := ctx.Err(); err != nil {
		return entitlements.MigrationReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	report := entitlements.MigrationReport{Migrated: make(map[string]int64)}
	mapping := entitlements.LegacyTierMapping()
	now := s.now()
	for _, rec := range s.records {
		if target, legacy := mapping[string(rec.Tier)]; legacy {
			report.Migrated[string(rec.Tier)]++
			rec.Tier = target
			rec.MonthlyLimit = target.MonthlyLimit()
			rec.UpdatedAt = now
			continue
		}
		if rec.MonthlyLimit != rec.Tier.MonthlyLimit() {
			rec.MonthlyLimit = rec.Tier.MonthlyLimit()
			rec.UpdatedAt = now
			report.LimitsRepaired++
		}
	}
	return report, nil
}

func copyRecord(rec *entitlements.Record) *entitlements.Record {
	cp := *rec
	cp.SubscriptionExpiresAt = copyTime(rec.SubscriptionExpiresAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ entitlements.Store = (*EntitlementStore)(nil)
