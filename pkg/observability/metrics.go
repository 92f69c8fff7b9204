package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementDecisionsTotal *prometheus.CounterVec
	UsageRecordedTotal        prometheus.Counter
	UsageRecordFailuresTotal  prometheus.Counter
	PeriodResetsTotal         *prometheus.CounterVec

	// Billing metrics
	WebhookEventsTotal      *prometheus.CounterVec
	WebhookDuplicatesTotal  prometheus.Counter
	WebhookApplyDuration    prometheus.Histogram
	CheckoutSessionsTotal   *prometheus.CounterVec
	SubscriptionTransitions *prometheus.CounterVec

	// Storage metrics
	StoreErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qa_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		EntitlementDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_entitlement_decisions_total",
				Help: "Entitlement decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		UsageRecordedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qa_usage_recorded_total",
				Help: "Metered actions recorded against a usage counter",
			},
		),
		UsageRecordFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qa_usage_record_failures_total",
				Help: "Usage recordings that failed after a successful action",
			},
		),
		PeriodResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_period_resets_total",
				Help: "Usage counters rolled over to a new period",
			},
			[]string{"source"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_webhook_events_total",
				Help: "Billing webhook events by kind and result",
			},
			[]string{"kind", "result"},
		),
		WebhookDuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qa_webhook_duplicates_total",
				Help: "Webhook deliveries skipped because the event was already applied",
			},
		),
		WebhookApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qa_webhook_apply_duration_seconds",
				Help:    "Time spent applying a verified webhook event",
				Buckets: prometheus.DefBuckets,
			},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_checkout_sessions_total",
				Help: "Checkout sessions created by tier and result",
			},
			[]string{"tier", "result"},
		),
		SubscriptionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_subscription_transitions_total",
				Help: "Subscription state projections applied by tier and status",
			},
			[]string{"tier", "status"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_store_errors_total",
				Help: "Persistent store failures by operation",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EntitlementDecisionsTotal,
		m.UsageRecordedTotal,
		m.UsageRecordFailuresTotal,
		m.PeriodResetsTotal,
		m.WebhookEventsTotal,
		m.WebhookDuplicatesTotal,
		m.WebhookApplyDuration,
		m.CheckoutSessionsTotal,
		m.SubscriptionTransitions,
		m.StoreErrorsTotal,
	)

	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling by the mux route
// template so ids in paths do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
