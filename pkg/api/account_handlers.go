package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// AccountHandlers provisions entitlement records at sign-in and runs the
// admin tier migration
type AccountHandlers struct {
	store    entitlements.Store
	location *time.Location
	now      func() time.Time
	auth     *middleware.AuthMiddleware
	admins   entitlements.Privileged
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/auth/sync-user", h.auth.Handler(http.HandlerFunc(h.SyncUser))).Methods("POST")

	migrate := h.auth.Handler(middleware.RequirePrivileged(h.admins)(http.HandlerFunc(h.MigrateTiers)))
	router.Handle("/api/admin/migrate-tiers", migrate).Methods("POST")
}

// SyncUser creates the caller's record on first sign-in and refreshes
// profile fields afterwards. Tier and usage are never touched here. The
// profile comes from the verified token, not from the request body.
func (h *AccountHandlers) SyncUser(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	profile := identity.Profile()
	if profile.Username == "" {
		profile.Username = emailLocalPart(profile.Email)
	}
	if profile.FullName == "" {
		profile.FullName = profile.Username
	}

	today := entitlements.PeriodAt(h.now(), h.location).Today
	rec, err := h.store.Provision(r.Context(), profile, today)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to sync user")
		httputil.WriteInternalError(w, "Failed to sync user")
		return
	}

	resp := SyncUserResponse{Success: true, Message: "User synced successfully"}
	resp.User.ID = rec.UserID
	resp.User.Email = rec.Email
	resp.User.Username = rec.Username
	resp.User.Tier = rec.Tier
	resp.User.MonthlyLimit = rec.MonthlyLimit
	httputil.WriteSuccess(w, resp)
}

// MigrateTiers rewrites legacy tier names on every record
func (h *AccountHandlers) MigrateTiers(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	report, err := entitlements.MigrateLegacyTiers(r.Context(), h.store, logger)
	if err != nil {
		logger.WithError(err).Error("tier migration failed")
		httputil.WriteInternalError(w, "Migration failed")
		return
	}

	httputil.WriteSuccess(w, MigrationResponse{
		Success:        true,
		Message:        "Tier migration completed",
		Migrated:       report.Migrated,
		LimitsRepaired: report.LimitsRepaired,
		Total:          report.Total(),
	})
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
