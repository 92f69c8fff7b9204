package entitlements

import (
	"context"
	"errors"
	"fmt"
)

// Ledger tracks metered usage per period. It never enforces a limit.
type Ledger struct {
	store UsageStore
	opts  options
}

// NewLedger creates a ledger over store
func NewLedger(store UsageStore, opts ...Option) *Ledger {
	return &Ledger{store: store, opts: buildOptions(opts)}
}

// CurrentPeriod returns the period for the ledger's clock
func (l *Ledger) CurrentPeriod() Period {
	return l.opts.period()
}

// EnsureCurrentPeriod rolls the user's counter over if its last reset lies
// in an earlier month. Safe to call any number of times concurrently: the
// post-condition is "counter belongs to the current month".
func (l *Ledger) EnsureCurrentPeriod(ctx context.Context, userID string) error {
	reset, err := l.store.ResetPeriodIfStale(ctx, userID, l.CurrentPeriod())
	if err != nil {
		l.storeError("reset_period")
		return unavailable("failed to roll over usage period", err)
	}
	if reset {
		l.opts.logger.WithUser(userID).Info("usage period rolled over")
		if l.opts.metrics != nil {
			l.opts.metrics.PeriodResetsTotal.WithLabelValues("request").Inc()
		}
	}
	return nil
}

// Increment records one unit of usage
func (l *Ledger) Increment(ctx context.Context, userID string) error {
	if err := l.store.IncrementUsage(ctx, userID); err != nil {
		if errors.Is(err, ErrNotProvisioned) {
			return fmt.Errorf("failed to increment usage: %w", err)
		}
		l.storeError("increment_usage")
		return unavailable("failed to increment usage", err)
	}
	if l.opts.metrics != nil {
		l.opts.metrics.UsageRecordedTotal.Inc()
	}
	return nil
}

// ResetAll rolls over every stale counter. Used by the monthly sweep.
func (l *Ledger) ResetAll(ctx context.Context) (int64, error) {
	n, err := l.store.ResetStalePeriods(ctx, l.CurrentPeriod())
	if err != nil {
		l.storeError("reset_all_periods")
		return 0, unavailable("failed to roll over usage periods", err)
	}
	if l.opts.metrics != nil && n > 0 {
		l.opts.metrics.PeriodResetsTotal.WithLabelValues("sweep").Add(float64(n))
	}
	return n, nil
}

func (l *Ledger) storeError(op string) {
	if l.opts.metrics != nil {
		l.opts.metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}
