// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing setup.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithUser(userID).WithError(err).Warn("usage recording failed")
//
// Request-scoped logging picks up request and user ids from the context:
//
//	observability.FromContext(r.Context()).Info("question created")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.EntitlementDecisionsTotal.WithLabelValues("free", "deny").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Tracing
//
// InitOTel installs OTLP/gRPC tracer and meter providers globally. Packages
// create spans through otel.Tracer and need no reference to this package.
package observability
