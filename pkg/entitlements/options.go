package entitlements

import (
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// Option configures a Resolver, Ledger or Sweeper
type Option func(*options)

type options struct {
	clock   Clock
	loc     *time.Location
	logger  *observability.Logger
	metrics *observability.Metrics
}

func defaultOptions() options {
	return options{
		clock:  time.Now,
		loc:    time.Local,
		logger: observability.NopLogger(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLocation sets the timezone that defines month boundaries
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

func (o options) period() Period {
	return PeriodAt(o.clock(), o.loc)
}
