package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultResetSchedule runs the rollover sweep at 00:05 on the 1st
const DefaultResetSchedule = "5 0 1 * *"

// Sweeper rolls every stale usage counter over on a cron schedule. The
// per-request rollover in Resolver.Evaluate stays authoritative; the sweep
// only keeps stored counters tidy for users who do not come back.
type Sweeper struct {
	ledger   *Ledger
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewSweeper creates a sweeper. An empty schedule uses DefaultResetSchedule.
func NewSweeper(ledger *Ledger, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultResetSchedule
	}
	c := cron.New(cron.WithLocation(ledger.opts.loc))
	s := &Sweeper{
		ledger:   ledger,
		schedule: schedule,
		timeout:  5 * time.Minute,
		cron:     c,
	}
	if _, err := c.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs one sweep and returns the number of counters reset
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.ledger.opts.logger.WithField("schedule", s.schedule)
	n, err := s.ledger.ResetAll(ctx)
	if err != nil {
		log.WithError(err).Error("usage rollover sweep failed")
		return 0
	}
	log.WithField("reset", n).Info("usage rollover sweep completed")
	return n
}

// Start runs one sweep immediately and then schedules the rest
func (s *Sweeper) Start(ctx context.Context) {
	s.RunOnce(ctx)
	s.cron.Start()
}

// Stop stops scheduling and returns a context done once a running sweep
// finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
