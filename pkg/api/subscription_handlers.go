package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// SubscriptionHandlers starts checkouts and opens the billing portal
type SubscriptionHandlers struct {
	checkout *billing.CheckoutService
	auth     *middleware.AuthMiddleware
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers. checkout may
// be nil when Stripe is not configured.
func NewSubscriptionHandlers(checkout *billing.CheckoutService, auth *middleware.AuthMiddleware) *SubscriptionHandlers {
	return &SubscriptionHandlers{checkout: checkout, auth: auth}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	create := h.auth.Handler(http.HandlerFunc(h.CreateCheckout))
	router.Handle("/api/subscriptions/create-checkout", create).Methods("POST")
	router.Handle("/api/create-checkout", create).Methods("POST")
	router.Handle("/api/subscriptions/portal", h.auth.Handler(http.HandlerFunc(h.CreatePortal))).Methods("POST")
}

// CreateCheckout starts a Stripe Checkout session for the pro tier
func (h *SubscriptionHandlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req checkoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if h.checkout == nil {
		httputil.WriteServiceUnavailable(w, "Billing is not configured")
		return
	}

	session, err := h.checkout.CreateCheckout(r.Context(), identity.UserID, req.Tier)
	if err != nil {
		h.writeBillingError(w, r, err, "Failed to create checkout session")
		return
	}
	httputil.WriteSuccess(w, session)
}

// CreatePortal returns a Stripe billing portal URL
func (h *SubscriptionHandlers) CreatePortal(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req portalRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}
	if h.checkout == nil {
		httputil.WriteServiceUnavailable(w, "Billing is not configured")
		return
	}

	url, err := h.checkout.Portal(r.Context(), identity.UserID, req.ReturnURL)
	if err != nil {
		h.writeBillingError(w, r, err, "Failed to create portal session")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"url": url})
}

func (h *SubscriptionHandlers) writeBillingError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, billing.ErrInvalidTier):
		httputil.WriteBadRequest(w, "Invalid tier. Only pro is available.")
	case errors.Is(err, billing.ErrInvalidReturnURL):
		httputil.WriteBadRequest(w, "Return URL must point at this application")
	case errors.Is(err, billing.ErrNoCustomer):
		httputil.WriteNotFound(w, "No billing account found")
	case errors.Is(err, entitlements.ErrNotProvisioned):
		httputil.WriteNotFound(w, "User not found")
	case errors.Is(err, billing.ErrNotConfigured):
		httputil.WriteServiceUnavailable(w, "Billing is not configured")
	default:
		observability.FromContext(r.Context()).WithError(err).Error(message)
		httputil.WriteInternalError(w, message)
	}
}
