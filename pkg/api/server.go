package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

// Dependencies are the services the API is built from. Checkout, Limiter
// and Dedup are optional.
type Dependencies struct {
	Store     entitlements.Store
	Resolver  *entitlements.Resolver
	Questions *questions.Service

	Tokens middleware.TokenVerifier
	Admins entitlements.Privileged

	Webhooks   *billing.Verifier
	Reconciler *billing.Reconciler
	Dedup      billing.Deduplicator
	Checkout   *billing.CheckoutService

	// Limiter throttles the public read endpoints
	Limiter middleware.Limiter

	// Location is the timezone provisioning dates are computed in
	Location *time.Location
	// Clock defaults to time.Now
	Clock    func() time.Time
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Server represents our API server
type Server struct {
	router *mux.Router
	deps   Dependencies

	requireAuth  *middleware.AuthMiddleware
	optionalAuth *middleware.AuthMiddleware
	quota        *middleware.QuotaMiddleware
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Dedup == nil {
		deps.Dedup = billing.NopDedup{}
	}
	if deps.Admins == nil {
		deps.Admins = entitlements.NoPrivileged
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	s := &Server{
		router:       mux.NewRouter(),
		deps:         deps,
		requireAuth:  middleware.NewAuthMiddleware(deps.Tokens, false),
		optionalAuth: middleware.NewAuthMiddleware(deps.Tokens, true),
		quota:        middleware.NewQuotaMiddleware(deps.Resolver),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.RegisterRoutes(&UsageHandlers{resolver: s.deps.Resolver, auth: s.requireAuth})
	s.RegisterRoutes(&QuestionHandlers{
		service:      s.deps.Questions,
		resolver:     s.deps.Resolver,
		requireAuth:  s.requireAuth,
		optionalAuth: s.optionalAuth,
		quota:        s.quota,
		limit:        s.rateLimit,
	})
	s.RegisterRoutes(&WebhookHandlers{
		verifier:   s.deps.Webhooks,
		reconciler: s.deps.Reconciler,
		dedup:      s.deps.Dedup,
		metrics:    s.deps.Metrics,
	})
	s.RegisterRoutes(&SubscriptionHandlers{checkout: s.deps.Checkout, auth: s.requireAuth})
	s.RegisterRoutes(&AccountHandlers{
		store:    s.deps.Store,
		location: s.deps.Location,
		now:      s.deps.Clock,
		auth:     s.requireAuth,
		admins:   s.deps.Admins,
	})

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "not found")
	})
}

// rateLimit wraps public read handlers when a limiter is configured
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	return middleware.RateLimitMiddleware(s.deps.Limiter)(next)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can wrap or extend it
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
