package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/async"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/storage/memory"
)

const proPrice = "price_pro_monthly"

// recordingNotifier captures invoice notifications
type recordingNotifier struct {
	mu        sync.Mutex
	succeeded []billing.Invoice
	failed    []billing.Invoice
}

func (n *recordingNotifier) PaymentSucceeded(_ context.Context, inv billing.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded = append(n.succeeded, inv)
	return nil
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, inv billing.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, inv)
	return nil
}

// brokenStore fails every write with a non-sentinel error
type brokenStore struct {
	*memory.EntitlementStore
}

var errDiskFull = errors.New("disk full")

func (brokenStore) ApplySubscription(context.Context, entitlements.SubscriptionChange) error {
	return errDiskFull
}

func (brokenStore) RevertToFree(context.Context, string, string, time.Time) error {
	return errDiskFull
}

func newReconciler(store entitlements.SubscriptionStore, metrics *observability.Metrics) *billing.Reconciler {
	return billing.NewReconciler(store, billing.ReconcilerConfig{
		ProPriceID: proPrice,
		Metrics:    metrics,
	})
}

func TestReconciler_SubscriptionCreated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	store.Seed(freeUser("u1", 12))
	metrics := observability.NewNopMetrics()

	event := newEvent(t, "evt_1", "customer.subscription.created",
		withPrice(subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1", "tier": "pro"}), proPrice))

	result, err := newReconciler(store, metrics).Apply(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, billing.ActionApplied, result.Action)
	assert.Equal(t, billing.EventKindSubscriptionCreated, result.Kind)
	assert.Equal(t, "u1", result.UserID)

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierPro, rec.Tier)
	assert.Equal(t, entitlements.StatusActive, rec.Status)
	assert.Equal(t, entitlements.Unlimited, rec.MonthlyLimit)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", rec.ExternalCustomerID)
	require.NotNil(t, rec.SubscriptionExpiresAt)
	assert.True(t, periodEnd.Equal(*rec.SubscriptionExpiresAt))
	assert.Equal(t, 12, rec.UsedThisPeriod, "usage is not touched by billing")

	sub, ok := store.Subscription("sub_1")
	require.True(t, ok)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, proPrice, sub.PriceID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("customer.subscription.created", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SubscriptionTransitions.WithLabelValues("pro", "active")))
}

func TestReconciler_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	store.Seed(freeUser("u1", 0))
	r := newReconciler(store, nil)

	event := newEvent(t, "evt_1", "customer.subscription.updated",
		subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1"}))

	_, err := r.Apply(ctx, event)
	require.NoError(t, err)
	first, _ := store.Get(ctx, "u1")

	_, err = r.Apply(ctx, event)
	require.NoError(t, err)
	second, _ := store.Get(ctx, "u1")

	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.MonthlyLimit, second.MonthlyLimit)
	assert.Equal(t, first.ExternalSubscriptionID, second.ExternalSubscriptionID)
	assert.Equal(t, first.SubscriptionExpiresAt, second.SubscriptionExpiresAt)
}

func TestReconciler_StatusProjection(t *testing.T) {
	tests := []struct {
		status string
		tier   entitlements.Tier
		want   entitlements.SubscriptionStatus
	}{
		{"active", entitlements.TierPro, entitlements.StatusActive},
		{"trialing", entitlements.TierPro, entitlements.StatusActive},
		{"past_due", entitlements.TierPro, entitlements.StatusPastDue},
		{"unpaid", entitlements.TierFree, entitlements.StatusPastDue},
		{"incomplete", entitlements.TierFree, entitlements.StatusPastDue},
		{"canceled", entitlements.TierFree, entitlements.StatusCanceled},
		{"incomplete_expired", entitlements.TierFree, entitlements.StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewEntitlementStore()
			store.Seed(freeUser("u1", 0))

			event := newEvent(t, "evt_1", "customer.subscription.updated",
				subscription("sub_1", "cus_1", tt.status, map[string]string{"userId": "u1", "tier": "pro"}))
			_, err := newReconciler(store, nil).Apply(ctx, event)
			require.NoError(t, err)

			rec, _ := store.Get(ctx, "u1")
			assert.Equal(t, tt.tier, rec.Tier)
			assert.Equal(t, tt.want, rec.Status)
			assert.Equal(t, tt.tier.MonthlyLimit(), rec.MonthlyLimit)
		})
	}
}

func TestReconciler_TierResolution(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		price    string
	}{
		{"metadata pro", map[string]string{"userId": "u1", "tier": "pro"}, ""},
		{"legacy builder", map[string]string{"userId": "u1", "tier": "builder"}, ""},
		{"legacy expert", map[string]string{"userId": "u1", "tier": "expert"}, ""},
		{"price only", map[string]string{"userId": "u1"}, proPrice},
		{"no hints", map[string]string{"userId": "u1"}, ""},
		{"garbage tier", map[string]string{"userId": "u1", "tier": "platinum"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewEntitlementStore()
			store.Seed(freeUser("u1", 0))

			sub := subscription("sub_1", "cus_1", "active", tt.metadata)
			if tt.price != "" {
				sub = withPrice(sub, tt.price)
			}
			_, err := newReconciler(store, nil).Apply(ctx, newEvent(t, "evt_1", "customer.subscription.created", sub))
			require.NoError(t, err)

			rec, _ := store.Get(ctx, "u1")
			assert.Equal(t, entitlements.TierPro, rec.Tier)
		})
	}

	t.Run("legacy explorer is free", func(t *testing.T) {
		ctx := context.Background()
		store := memory.NewEntitlementStore()
		store.Seed(freeUser("u1", 0))

		sub := subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1", "tier": "explorer"})
		_, err := newReconciler(store, nil).Apply(ctx, newEvent(t, "evt_1", "customer.subscription.created", sub))
		require.NoError(t, err)

		rec, _ := store.Get(ctx, "u1")
		assert.Equal(t, entitlements.TierFree, rec.Tier)
		assert.Equal(t, entitlements.StatusActive, rec.Status)
	})
}

func TestReconciler_DeletionDominates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	store.Seed(freeUser("u1", 5))
	r := newReconciler(store, nil)

	for _, status := range []string{"active", "past_due"} {
		_, err := r.Apply(ctx, newEvent(t, "evt_"+status, "customer.subscription.updated",
			subscription("sub_1", "cus_1", status, map[string]string{"userId": "u1"})))
		require.NoError(t, err)
	}

	// Stripe still reports the deleted subscription as active in some payloads
	result, err := r.Apply(ctx, newEvent(t, "evt_del", "customer.subscription.deleted",
		subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1"})))
	require.NoError(t, err)
	assert.Equal(t, billing.ActionReverted, result.Action)

	rec, _ := store.Get(ctx, "u1")
	assert.Equal(t, entitlements.TierFree, rec.Tier)
	assert.Equal(t, entitlements.StatusCanceled, rec.Status)
	assert.Equal(t, entitlements.FreeMonthlyLimit, rec.MonthlyLimit)
	assert.Nil(t, rec.SubscriptionExpiresAt)
	assert.Empty(t, rec.ExternalSubscriptionID)
	assert.Equal(t, 5, rec.UsedThisPeriod)

	sub, ok := store.Subscription("sub_1")
	require.True(t, ok)
	assert.Equal(t, "canceled", sub.Status)
}

func TestReconciler_CustomerFallback(t *testing.T) {
	ctx := context.Background()

	withCustomer := func(id, customer string) entitlements.Record {
		rec := freeUser(id, 0)
		rec.ExternalCustomerID = customer
		return rec
	}

	t.Run("single match", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		store.Seed(withCustomer("u1", "cus_1"))

		result, err := newReconciler(store, nil).Apply(ctx, newEvent(t, "evt_1", "customer.subscription.updated",
			subscription("sub_1", "cus_1", "active", nil)))
		require.NoError(t, err)
		assert.Equal(t, "u1", result.UserID)

		rec, _ := store.Get(ctx, "u1")
		assert.Equal(t, entitlements.TierPro, rec.Tier)
	})

	t.Run("no match", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		store.Seed(withCustomer("u1", "cus_other"))
		metrics := observability.NewNopMetrics()

		_, err := newReconciler(store, metrics).Apply(ctx, newEvent(t, "evt_1", "customer.subscription.updated",
			subscription("sub_1", "cus_1", "active", nil)))
		assert.ErrorIs(t, err, billing.ErrUnresolvableEvent)
		assert.NotErrorIs(t, err, billing.ErrAmbiguousCustomer)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("customer.subscription.updated", "unresolvable")))

		rec, _ := store.Get(ctx, "u1")
		assert.Equal(t, entitlements.TierFree, rec.Tier)
	})

	t.Run("ambiguous", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		store.Seed(withCustomer("u1", "cus_1"))
		store.Seed(withCustomer("u2", "cus_1"))

		_, err := newReconciler(store, nil).Apply(ctx, newEvent(t, "evt_1", "customer.subscription.deleted",
			subscription("sub_1", "cus_1", "canceled", nil)))
		assert.ErrorIs(t, err, billing.ErrUnresolvableEvent)
		assert.ErrorIs(t, err, billing.ErrAmbiguousCustomer)
	})

	t.Run("no metadata and no customer", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		_, err := newReconciler(store, nil).Apply(ctx, newEvent(t, "evt_1", "customer.subscription.updated",
			subscription("sub_1", "", "active", nil)))
		assert.ErrorIs(t, err, billing.ErrUnresolvableEvent)
	})
}

func TestReconciler_UnknownUserIsUnresolvable(t *testing.T) {
	store := memory.NewEntitlementStore()
	_, err := newReconciler(store, nil).Apply(context.Background(), newEvent(t, "evt_1", "customer.subscription.created",
		subscription("sub_1", "cus_1", "active", map[string]string{"userId": "ghost"})))
	assert.ErrorIs(t, err, billing.ErrUnresolvableEvent)
	assert.ErrorIs(t, err, entitlements.ErrNotProvisioned)
}

func TestReconciler_StoreFailureIsRetryable(t *testing.T) {
	store := brokenStore{memory.NewEntitlementStore()}
	metrics := observability.NewNopMetrics()
	r := newReconciler(store, metrics)

	_, err := r.Apply(context.Background(), newEvent(t, "evt_1", "customer.subscription.created",
		subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1"})))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, billing.ErrUnresolvableEvent)

	_, err = r.Apply(context.Background(), newEvent(t, "evt_2", "customer.subscription.deleted",
		subscription("sub_1", "cus_1", "canceled", map[string]string{"userId": "u1"})))
	assert.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("apply_subscription")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("revert_to_free")))
}

func TestReconciler_MalformedAndUnknown(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	r := newReconciler(store, nil)

	result, err := r.Apply(ctx, newEvent(t, "evt_1", "customer.created", map[string]string{"id": "cus_1"}))
	require.NoError(t, err)
	assert.Equal(t, billing.ActionIgnored, result.Action)
	assert.Equal(t, billing.EventKindUnknown, result.Kind)

	_, err = r.Apply(ctx, newEvent(t, "evt_2", "customer.subscription.updated",
		map[string]interface{}{"id": "sub_1", "status": 42}))
	assert.ErrorIs(t, err, billing.ErrUnresolvableEvent)
}

func TestReconciler_CheckoutCompleted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	store.Seed(freeUser("u1", 30))
	r := newReconciler(store, nil)

	session := map[string]interface{}{
		"id":           "cs_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata":     map[string]string{"userId": "u1", "tier": "pro"},
	}
	event := newEvent(t, "evt_1", "checkout.session.completed", session)

	for i := 0; i < 2; i++ {
		result, err := r.Apply(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.ActionApplied, result.Action)
	}

	rec, _ := store.Get(ctx, "u1")
	assert.Equal(t, entitlements.TierPro, rec.Tier)
	assert.Equal(t, entitlements.StatusActive, rec.Status)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", rec.ExternalCustomerID)

	t.Run("payment mode ignored", func(t *testing.T) {
		payment := map[string]interface{}{
			"id": "cs_2", "object": "checkout.session", "mode": "payment",
			"metadata": map[string]string{"userId": "u1"},
		}
		result, err := r.Apply(ctx, newEvent(t, "evt_2", "checkout.session.completed", payment))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionIgnored, result.Action)
	})
}

func TestReconciler_CheckoutAfterSubscriptionKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	store.Seed(freeUser("u1", 0))
	r := newReconciler(store, nil)

	created := newEventAt(t, "evt_sub", "customer.subscription.created",
		withPrice(subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1", "tier": "pro"}), proPrice),
		eventEpoch)
	_, err := r.Apply(ctx, created)
	require.NoError(t, err)

	session := map[string]interface{}{
		"id":           "cs_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata":     map[string]string{"userId": "u1", "tier": "pro"},
	}
	result, err := r.Apply(ctx, newEventAt(t, "evt_cs", "checkout.session.completed", session, eventEpoch.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, billing.ActionApplied, result.Action)

	rec, _ := store.Get(ctx, "u1")
	assert.Equal(t, entitlements.TierPro, rec.Tier)
	require.NotNil(t, rec.SubscriptionExpiresAt, "checkout without an expanded subscription keeps the expiry")
	assert.True(t, periodEnd.Equal(*rec.SubscriptionExpiresAt))

	sub, ok := store.Subscription("sub_1")
	require.True(t, ok)
	require.NotNil(t, sub.PeriodEnd)
	assert.True(t, periodEnd.Equal(*sub.PeriodEnd))
	assert.Equal(t, proPrice, sub.PriceID)
}

func TestReconciler_OutOfOrderEvents(t *testing.T) {
	ctx := context.Background()
	meta := map[string]string{"userId": "u1", "tier": "pro"}
	session := map[string]interface{}{
		"id":           "cs_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata":     meta,
	}

	t.Run("older created after newer past_due", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		store.Seed(freeUser("u1", 0))
		metrics := observability.NewNopMetrics()
		r := newReconciler(store, metrics)

		_, err := r.Apply(ctx, newEventAt(t, "evt_upd", "customer.subscription.updated",
			subscription("sub_1", "cus_1", "past_due", meta), eventEpoch.Add(time.Hour)))
		require.NoError(t, err)

		result, err := r.Apply(ctx, newEventAt(t, "evt_new", "customer.subscription.created",
			subscription("sub_1", "cus_1", "active", meta), eventEpoch))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionStale, result.Action)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("customer.subscription.created", "stale")))

		rec, _ := store.Get(ctx, "u1")
		assert.Equal(t, entitlements.StatusPastDue, rec.Status)
	})

	t.Run("older checkout does not override past_due", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		store.Seed(freeUser("u1", 0))
		r := newReconciler(store, nil)

		_, err := r.Apply(ctx, newEventAt(t, "evt_upd", "customer.subscription.updated",
			subscription("sub_1", "cus_1", "past_due", meta), eventEpoch.Add(time.Hour)))
		require.NoError(t, err)

		result, err := r.Apply(ctx, newEventAt(t, "evt_cs", "checkout.session.completed", session, eventEpoch))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionStale, result.Action)

		rec, _ := store.Get(ctx, "u1")
		assert.Equal(t, entitlements.StatusPastDue, rec.Status)
	})

	t.Run("update older than deletion stays free", func(t *testing.T) {
		store := memory.NewEntitlementStore()
		store.Seed(freeUser("u1", 0))
		r := newReconciler(store, nil)

		_, err := r.Apply(ctx, newEventAt(t, "evt_del", "customer.subscription.deleted",
			subscription("sub_1", "cus_1", "canceled", meta), eventEpoch.Add(time.Hour)))
		require.NoError(t, err)

		result, err := r.Apply(ctx, newEventAt(t, "evt_upd", "customer.subscription.updated",
			subscription("sub_1", "cus_1", "active", meta), eventEpoch))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionStale, result.Action)

		rec, _ := store.Get(ctx, "u1")
		assert.Equal(t, entitlements.TierFree, rec.Tier)
		assert.Equal(t, entitlements.StatusCanceled, rec.Status)
	})
}

func TestReconciler_InvoiceNotifications(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntitlementStore()
	rec := freeUser("u1", 3)
	rec.ExternalCustomerID = "cus_1"
	store.Seed(rec)

	notifier := &recordingNotifier{}
	runner := async.NewRunner(nil)
	r := billing.NewReconciler(store, billing.ReconcilerConfig{
		Notifier: notifier,
		Runner:   runner,
	})

	invoice := func(id string) map[string]interface{} {
		return map[string]interface{}{
			"id":            id,
			"object":        "invoice",
			"customer":      "cus_1",
			"subscription":  "sub_1",
			"amount_due":    900,
			"amount_paid":   900,
			"currency":      "usd",
			"attempt_count": 1,
		}
	}

	result, err := r.Apply(ctx, newEvent(t, "evt_1", "invoice.payment_succeeded", invoice("in_1")))
	require.NoError(t, err)
	assert.Equal(t, billing.ActionNotified, result.Action)
	assert.Equal(t, "u1", result.UserID)

	_, err = r.Apply(ctx, newEvent(t, "evt_2", "invoice.payment_failed", invoice("in_2")))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(waitCtx))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.succeeded, 1)
	require.Len(t, notifier.failed, 1)
	assert.Equal(t, "in_1", notifier.succeeded[0].ID)
	assert.Equal(t, "sub_1", notifier.succeeded[0].SubscriptionID)
	assert.Equal(t, int64(900), notifier.succeeded[0].AmountPaid)
	assert.Equal(t, "usd", notifier.succeeded[0].Currency)
	assert.Equal(t, "in_2", notifier.failed[0].ID)

	after, _ := store.Get(ctx, "u1")
	assert.Equal(t, entitlements.TierFree, after.Tier, "invoices never change entitlements")
	assert.Equal(t, 3, after.UsedThisPeriod)
}

// Free user at 29 asks once more, hits the limit, upgrades and can ask again
func TestEndToEnd_UpgradeLiftsQuota(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 14, 15, 30, 0, 0, time.UTC)
	store := memory.NewEntitlementStore()
	store.Seed(freeUser("u1", 29))

	resolver := entitlements.NewResolver(store, nil,
		entitlements.WithClock(func() time.Time { return now }),
		entitlements.WithLocation(time.UTC),
	)

	decision, err := resolver.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.True(t, decision.CanAct)
	require.NoError(t, resolver.RecordUsage(ctx, "u1"))

	decision, err = resolver.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, decision.CanAct)
	assert.Equal(t, 30, decision.Used)
	assert.Equal(t, 30, decision.Limit)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), decision.ResetAt)
	assert.True(t, entitlements.IsQuotaExceeded(decision.Err()))

	payload := eventJSON(t, "evt_up", "customer.subscription.created",
		subscription("sub_1", "cus_1", "active", map[string]string{"userId": "u1", "tier": "pro"}))
	event, err := billing.NewVerifier(testSecret).Verify(payload, sign(payload, testSecret))
	require.NoError(t, err)
	_, err = newReconciler(store, nil).Apply(ctx, event)
	require.NoError(t, err)

	decision, err = resolver.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, decision.CanAct)
	assert.True(t, decision.Unlimited())
	assert.Equal(t, entitlements.TierPro, decision.Tier)
}
