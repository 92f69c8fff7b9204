package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// Runner launches fire-and-forget tasks that must outlive the request that
// started them. Tasks keep the parent's context values but not its
// cancellation, run under their own timeout, and have panics recovered.
//
// Wait blocks until every launched task finished, which lets shutdown and
// tests drain in-flight work.
type Runner struct {
	logger *observability.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a Runner logging failures to logger
func NewRunner(logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{logger: logger}
}

// Go executes fn in a goroutine.
//
//	runner.Go(r.Context(), 5*time.Second, "invoice notification", func(ctx context.Context) error {
//	    return notifier.PaymentFailed(ctx, invoice)
//	})
func (r *Runner) Go(parent context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()

		defer func() {
			if rec := recover(); rec != nil {
				r.logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(rec),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			r.logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// Wait blocks until all tasks launched so far have returned or until ctx is
// done, whichever comes first.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
