package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/api"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/config"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/storage/memory"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/storage/postgres"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

// storage bundles the stores and the connections behind them. db and
// redisClient are nil when not configured.
type storage struct {
	entitlements entitlements.Store
	questions    questions.Store
	conns        *postgres.ConnectionManager
	db           *sql.DB
	redisClient  *redis.Client
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]interface{}{
		"version": version,
		"port":    cfg.Server.Port,
	}).Info("Starting Q&A server")

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	loc, err := cfg.Entitlements.Location()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}

	admins := entitlements.NewAllowList(cfg.Entitlements.AdminEmails...)
	if path := cfg.Entitlements.AdminAllowlistFile; path != "" {
		if err := admins.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load admin allow-list: %w", err)
		}
		if err := admins.Watch(ctx, path, logger); err != nil {
			logger.WithError(err).Warn("admin allow-list will not be reloaded")
		}
	}
	logger.WithField("admins", admins.Len()).Info("admin allow-list loaded")

	resolver := entitlements.NewResolver(store.entitlements, admins,
		entitlements.WithLocation(loc),
		entitlements.WithLogger(logger),
		entitlements.WithMetrics(metrics))

	sweeper, err := entitlements.NewSweeper(resolver.Ledger(), cfg.Entitlements.ResetSchedule)
	if err != nil {
		return err
	}
	sweeper.Start(ctx)

	tokens, err := newTokenVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		return err
	}

	deps := api.Dependencies{
		Store:     store.entitlements,
		Resolver:  resolver,
		Questions: questions.NewService(store.questions, nil, logger),
		Tokens:    tokens,
		Admins:    admins,
		Reconciler: billing.NewReconciler(store.entitlements, billing.ReconcilerConfig{
			ProPriceID:    cfg.Billing.ProPriceID,
			NotifyTimeout: cfg.Billing.NotifyTimeout,
			Logger:        logger,
			Metrics:       metrics,
		}),
		Limiter:  newLimiter(ctx, cfg.Server, store.redisClient),
		Location: loc,
		Logger:   logger,
		Metrics:  metrics,
	}
	if cfg.Billing.WebhookEnabled() {
		deps.Webhooks = billing.NewVerifier(cfg.Billing.WebhookSecret)
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be refused")
	}
	if store.redisClient != nil {
		deps.Dedup = billing.NewRedisDedup(store.redisClient, cfg.Billing.DedupTTL, logger)
	}
	if cfg.Billing.CheckoutEnabled() {
		deps.Checkout = billing.NewCheckoutService(billing.NewStripeGateway(cfg.Billing.SecretKey), store.entitlements,
			billing.CheckoutConfig{
				ProPriceID: cfg.Billing.ProPriceID,
				AppURL:     cfg.Billing.AppURL,
				Logger:     logger,
				Metrics:    metrics,
			})
	} else {
		logger.Warn("STRIPE_SECRET_KEY is not set, checkout is disabled")
	}

	server := api.NewServer(deps)
	if cfg.Observability.MetricsEnabled {
		server.Router().Use(observability.HTTPMetricsMiddleware(metrics))
	}

	handler := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
	)(server)
	handler = otelhttp.NewHandler(handler, "qaserver")

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(store.db, store.redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.Register("sweeper", func(ctx context.Context) error {
		select {
		case <-sweeper.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("reconciler", deps.Reconciler.Wait)
	if store.redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return store.redisClient.Close() })
	}
	if store.conns != nil {
		shutdown.Register("database", func(context.Context) error { return store.conns.Close() })
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API listening on %s", httpServer.Addr)
		return serve(httpServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", srv.Addr, err)
	}
	return nil
}

// openStorage selects Postgres when DATABASE_URL is set and the in-memory
// stores otherwise. Redis is optional in both cases.
func openStorage(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*storage, error) {
	s := &storage{}

	if cfg.Database.RedisURL != "" {
		client, err := postgres.NewRedisClient(ctx, cfg.Database.RedisURL, postgres.RedisOptions{})
		if err != nil {
			return nil, err
		}
		s.redisClient = client
		logger.Info("Connected to Redis")
	}

	if cfg.Database.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set, using in-memory storage")
		s.entitlements = memory.NewEntitlementStore()
		s.questions = memory.NewQuestionStore()
		return s, nil
	}

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.DatabaseURL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, conns.Primary()); err != nil {
		conns.Close()
		return nil, err
	}
	if conns.ReplicaCount() > 0 {
		conns.StartReplicaMonitor(ctx, 30*time.Second)
	}

	s.conns = conns
	s.db = conns.Primary()
	s.entitlements = postgres.NewEntitlementStore(conns.Primary())

	var questionStore questions.Store = postgres.NewQuestionStore(conns)
	if s.redisClient != nil {
		questionStore = postgres.NewCachedQuestionStore(questionStore, s.redisClient, cfg.Database.QuestionCacheTTL)
	}
	s.questions = questionStore
	return s, nil
}

func newTokenVerifier(ctx context.Context, cfg config.AuthConfig, logger *observability.Logger) (middleware.TokenVerifier, error) {
	switch {
	case cfg.OIDCIssuerURL != "":
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		return middleware.NewCachingVerifier(verifier, cfg.CacheSize, cfg.CacheTTL), nil
	case cfg.DevMode:
		logger.Warn("AUTH_DEV_MODE is enabled, unsigned dev tokens are accepted")
		return middleware.DevVerifier{}, nil
	default:
		return nil, errors.New("no identity provider configured: set OIDC_ISSUER_URL or AUTH_DEV_MODE")
	}
}

func newLimiter(ctx context.Context, cfg config.ServerConfig, client *redis.Client) middleware.Limiter {
	if cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.RateLimitBurst,
	}
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, limits, "")
	}
	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}
