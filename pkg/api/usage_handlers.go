package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// UsageHandlers serves the caller's quota state
type UsageHandlers struct {
	resolver *entitlements.Resolver
	auth     *middleware.AuthMiddleware
}

// NewUsageHandlers creates a new UsageHandlers
func NewUsageHandlers(resolver *entitlements.Resolver, auth *middleware.AuthMiddleware) *UsageHandlers {
	return &UsageHandlers{resolver: resolver, auth: auth}
}

// RegisterRoutes registers usage routes
func (h *UsageHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/usage", h.auth.Handler(http.HandlerFunc(h.GetUsage))).Methods("GET")
}

// GetUsage reports tier, usage and whether the caller may ask now. It uses
// the same evaluation as the metered endpoint, so the two never disagree.
func (h *UsageHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	decision, err := h.resolver.Evaluate(r.Context(), identity.UserID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to evaluate usage")
		httputil.WriteServiceUnavailable(w, "Failed to fetch usage")
		return
	}
	if decision.Reason == entitlements.ReasonNotProvisioned {
		httputil.WriteNotFound(w, "User not found")
		return
	}

	httputil.WriteSuccess(w, newUsageResponse(decision))
}
