// Package middleware provides HTTP middleware for authentication, quota
// enforcement and rate limiting.
//
// # Overview
//
// Requests pass through authentication first, which attaches the caller's
// Identity to the context. Metered routes then pass through QuotaMiddleware,
// which asks the entitlement resolver whether one more action is allowed.
//
// # Middleware Components
//
// AuthMiddleware: Bearer token authentication
//
//	verifier := middleware.NewCachingVerifier(oidcVerifier, 10000, 5*time.Minute)
//	auth := middleware.NewAuthMiddleware(verifier, false)
//	router.Use(auth.Handler)
//
// Verifiers:
//
//   - OIDCVerifier: ID tokens from an OpenID Connect provider
//   - CachingVerifier: LRU of recent successful verifications
//   - DevVerifier: unsigned "dev:<user id>:<email>" tokens for local runs
//
// QuotaMiddleware: Monthly quota gate for metered endpoints
//
//	quota := middleware.NewQuotaMiddleware(resolver)
//	router.Handle("/api/questions", auth.Handler(quota.Enforce(create)))
//
// Denied requests get 429 with a QuotaDenial body. Usage is recorded by the
// handler once the action succeeded, never by the middleware.
//
// RateLimitMiddleware: Request rate limiting, in memory or in Redis
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit")
//	router.Use(middleware.RateLimitMiddleware(limiter))
//
// Keys are the user id for authenticated callers and the client IP
// otherwise. A failing Redis lets requests through.
//
// RequirePrivileged: Admin-only routes
//
//	router.Handle("/api/admin/migrate-tiers", auth.Handler(
//		middleware.RequirePrivileged(allowList)(migrate)))
//
// # Related Packages
//
//   - pkg/entitlements: Quota decisions and the admin allow-list
//   - pkg/contextkeys: Context keys shared with handlers
package middleware
