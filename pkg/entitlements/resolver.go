package entitlements

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements")

// Privileged decides whether an identity bypasses quotas entirely
type Privileged interface {
	IsPrivileged(email string) bool
}

// PrivilegedFunc adapts a function to Privileged
type PrivilegedFunc func(email string) bool

func (f PrivilegedFunc) IsPrivileged(email string) bool {
	return f(email)
}

// NoPrivileged grants nobody an override
var NoPrivileged = PrivilegedFunc(func(string) bool { return false })

// ResolverStore is what the resolver needs from persistence
type ResolverStore interface {
	RecordReader
	UsageStore
}

// Resolver decides whether a metered action is permitted right now
type Resolver struct {
	store      ResolverStore
	ledger     *Ledger
	privileged Privileged
	opts       options
}

// NewResolver creates a resolver. privileged may be nil.
func NewResolver(store ResolverStore, privileged Privileged, opts ...Option) *Resolver {
	if privileged == nil {
		privileged = NoPrivileged
	}
	o := buildOptions(opts)
	return &Resolver{
		store:      store,
		ledger:     &Ledger{store: store, opts: o},
		privileged: privileged,
		opts:       o,
	}
}

// Ledger returns the ledger sharing the resolver's store and clock
func (r *Resolver) Ledger() *Ledger {
	return r.ledger
}

// Evaluate reports whether userID may perform one metered action now. It
// does not change the usage counter beyond rolling a stale period over.
//
// A missing record is a deny with ReasonNotProvisioned and a nil error. A
// store failure is a deny with ReasonStoreUnavailable and an error wrapping
// ErrStoreUnavailable.
func (r *Resolver) Evaluate(ctx context.Context, userID string) (Decision, error) {
	ctx, span := tracer.Start(ctx, "entitlements.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	period := r.opts.period()
	decision := Decision{
		Limit:   FreeMonthlyLimit,
		ResetAt: period.NextReset,
		Tier:    TierFree,
		Status:  StatusNone,
	}

	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotProvisioned) {
			decision.Reason = ReasonNotProvisioned
			r.observe(decision)
			span.SetAttributes(attribute.String("entitlements.reason", string(decision.Reason)))
			return decision, nil
		}
		decision.Reason = ReasonStoreUnavailable
		r.ledger.storeError("get_record")
		r.observe(decision)
		err = unavailable("failed to load entitlement record", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		return decision, err
	}

	if period.Stale(rec.LastResetDate) {
		// A failed rollover leaves the stored count, which can only be
		// higher than the reset value, so evaluation stays conservative.
		if err := r.ledger.EnsureCurrentPeriod(ctx, userID); err != nil {
			r.opts.logger.WithUser(userID).WithError(err).Warn("usage rollover failed, evaluating stored count")
		} else {
			rec.UsedThisPeriod = 0
			rec.LastResetDate = period.Today
		}
	}

	decision = r.decide(rec, period)
	r.observe(decision)
	span.SetAttributes(
		attribute.String("entitlements.tier", string(decision.Tier)),
		attribute.Bool("entitlements.can_act", decision.CanAct),
		attribute.Bool("entitlements.privileged", decision.Privileged),
	)
	return decision, nil
}

func (r *Resolver) decide(rec *Record, period Period) Decision {
	d := Decision{
		ResetAt:               period.NextReset,
		Tier:                  rec.Tier,
		Status:                rec.Status,
		SubscriptionExpiresAt: rec.SubscriptionExpiresAt,
	}

	if r.isPrivileged(rec) {
		d.CanAct = true
		d.Privileged = true
		d.Used = 0
		d.Limit = Unlimited
		return d
	}

	limit := rec.Tier.MonthlyLimit()
	if limit == Unlimited {
		d.CanAct = true
		d.Used = 0
		d.Limit = Unlimited
		return d
	}

	d.Used = rec.UsedThisPeriod
	d.Limit = limit
	d.CanAct = rec.UsedThisPeriod < limit
	if !d.CanAct {
		d.Reason = ReasonQuotaExceeded
	}
	return d
}

// RecordUsage counts one metered action. Call it only after the action
// succeeded. It re-reads the record so that a user upgraded or allow-listed
// since Evaluate is not charged, and is a no-op for privileged users and
// unlimited tiers. Callers should log a returned error, never fail the
// completed action on it.
func (r *Resolver) RecordUsage(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "entitlements.RecordUsage")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	err := r.recordUsage(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "usage not recorded")
		if r.opts.metrics != nil {
			r.opts.metrics.UsageRecordFailuresTotal.Inc()
		}
	}
	return err
}

func (r *Resolver) recordUsage(ctx context.Context, userID string) error {
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotProvisioned) {
			return err
		}
		r.ledger.storeError("get_record")
		return unavailable("failed to load entitlement record", err)
	}

	if r.isPrivileged(rec) || !rec.Tier.Metered() {
		return nil
	}

	return r.ledger.Increment(ctx, userID)
}

func (r *Resolver) isPrivileged(rec *Record) bool {
	email := strings.TrimSpace(rec.Email)
	return email != "" && r.privileged.IsPrivileged(email)
}

func (r *Resolver) observe(d Decision) {
	if r.opts.metrics == nil {
		return
	}
	outcome := "permit"
	switch {
	case d.Privileged:
		outcome = "privileged"
	case !d.CanAct:
		outcome = "deny_" + string(d.Reason)
	}
	r.opts.metrics.EntitlementDecisionsTotal.WithLabelValues(string(d.Tier), outcome).Inc()
}
