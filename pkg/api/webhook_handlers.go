package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/billing"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// MaxWebhookBody bounds Stripe webhook payloads
const MaxWebhookBody = 64 << 10

// WebhookHandlers receives Stripe events
type WebhookHandlers struct {
	verifier   *billing.Verifier
	reconciler *billing.Reconciler
	dedup      billing.Deduplicator
	metrics    *observability.Metrics
}

// NewWebhookHandlers creates a new WebhookHandlers. dedup may be nil.
func NewWebhookHandlers(verifier *billing.Verifier, reconciler *billing.Reconciler, dedup billing.Deduplicator, metrics *observability.Metrics) *WebhookHandlers {
	if dedup == nil {
		dedup = billing.NopDedup{}
	}
	return &WebhookHandlers{verifier: verifier, reconciler: reconciler, dedup: dedup, metrics: metrics}
}

// RegisterRoutes registers webhook routes. The second path is kept for
// endpoints configured in the Stripe dashboard before the move.
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/webhooks/stripe", h.HandleStripeWebhook).Methods("POST")
	router.HandleFunc("/api/subscriptions/webhook", h.HandleStripeWebhook).Methods("POST")
}

type webhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Action    string `json:"action,omitempty"`
}

// HandleStripeWebhook verifies, deduplicates and applies one event.
//
// Responses drive Stripe's retries: 400 for a bad signature (nothing was
// read from the store), 200 for applied, duplicate, ignored or
// uncorrelatable events, and 500 when the store failed so the event is
// delivered again.
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		httputil.WriteBadRequest(w, "Failed to read request body")
		return
	}

	if h.verifier == nil {
		logger.Error("webhook received but no signing secret is configured")
		httputil.WriteServiceUnavailable(w, "Webhook secret not configured")
		return
	}
	event, err := h.verifier.Verify(payload, r.Header.Get(billing.SignatureHeader))
	if err != nil {
		h.count("unverified")
		if errors.Is(err, billing.ErrNotConfigured) {
			logger.Error("webhook received but no signing secret is configured")
			httputil.WriteServiceUnavailable(w, "Webhook secret not configured")
			return
		}
		logger.WithError(err).Warn("rejected webhook with invalid signature")
		httputil.WriteBadRequest(w, "Invalid signature")
		return
	}

	logger = logger.WithEvent(event.ID, string(event.Type))
	ctx = observability.WithLogger(ctx, logger)

	if h.dedup.Seen(ctx, event.ID) {
		if h.metrics != nil {
			h.metrics.WebhookDuplicatesTotal.Inc()
		}
		logger.Info("duplicate webhook delivery acknowledged")
		httputil.WriteSuccess(w, webhookAck{Received: true, Duplicate: true})
		return
	}

	result, err := h.reconciler.Apply(ctx, event)
	switch {
	case errors.Is(err, billing.ErrUnresolvableEvent):
		// Retrying cannot help; acknowledge so Stripe stops redelivering.
		h.dedup.Mark(ctx, event.ID)
		httputil.WriteSuccess(w, webhookAck{Received: true, Ignored: true})
		return
	case err != nil:
		httputil.WriteInternalError(w, "Webhook processing failed")
		return
	}

	h.dedup.Mark(ctx, event.ID)
	httputil.WriteSuccess(w, webhookAck{
		Received: true,
		Ignored:  result.Action == billing.ActionIgnored,
		Action:   string(result.Action),
	})
}

func (h *WebhookHandlers) count(outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues("unknown", outcome).Inc()
	}
}
