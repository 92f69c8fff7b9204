package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/async"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

var tracer = otel.Tracer("github.com/Kettlebell319/VibeCodingBasics/pkg/billing")

const (
	metadataUserID = "userId"
	metadataTier   = "tier"

	defaultNotifyTimeout = 10 * time.Second
)

// Action describes what Apply did with an event
type Action string

const (
	ActionApplied  Action = "applied"
	ActionReverted Action = "reverted"
	ActionNotified Action = "notified"
	ActionIgnored  Action = "ignored"
	// ActionStale means a later event for the user was already applied
	ActionStale Action = "stale"
)

// Result is the outcome of a successfully handled event
type Result struct {
	Kind   EventKind
	Action Action
	UserID string
	Tier   entitlements.Tier
	Status entitlements.SubscriptionStatus
}

// ReconcilerConfig configures a Reconciler
type ReconcilerConfig struct {
	// ProPriceID is the Stripe price that grants the pro tier
	ProPriceID string
	// Notifier receives invoice outcomes. Defaults to a LogNotifier.
	Notifier InvoiceNotifier
	// Runner runs notifications in the background. Defaults to a new Runner.
	Runner        *async.Runner
	NotifyTimeout time.Duration
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Reconciler projects verified Stripe events onto entitlement records
type Reconciler struct {
	store  entitlements.SubscriptionStore
	config ReconcilerConfig
	logger *observability.Logger
}

// NewReconciler creates a reconciler writing through store
func NewReconciler(store entitlements.SubscriptionStore, config ReconcilerConfig) *Reconciler {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Notifier == nil {
		config.Notifier = NewLogNotifier(config.Logger)
	}
	if config.Runner == nil {
		config.Runner = async.NewRunner(config.Logger)
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaultNotifyTimeout
	}
	return &Reconciler{store: store, config: config, logger: config.Logger}
}

// Apply handles one verified event.
//
// Events that cannot be tied to a user return an error wrapping
// ErrUnresolvableEvent; retrying them cannot help. Any other error means
// the store rejected the write and the event should be redelivered.
// Unknown event kinds are ignored with a nil error.
func (r *Reconciler) Apply(ctx context.Context, event stripe.Event) (Result, error) {
	kind := ParseEventKind(string(event.Type))

	ctx, span := tracer.Start(ctx, "billing.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("stripe.event_id", event.ID),
		attribute.String("stripe.event_type", string(event.Type)),
	)

	start := time.Now()
	logger := r.logger.WithEvent(event.ID, string(event.Type))

	result, err := r.dispatch(ctx, logger, kind, event)
	result.Kind = kind

	r.observe(kind, result, err, time.Since(start))
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("billing.action", string(result.Action)))
		if result.UserID != "" {
			span.SetAttributes(attribute.String("user.id", result.UserID))
		}
	case errors.Is(err, ErrUnresolvableEvent):
		logger.WithError(err).Warn("dropping webhook event")
		span.SetAttributes(attribute.String("billing.action", "dropped"))
	default:
		logger.WithError(err).Error("failed to apply webhook event")
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
	}
	return result, err
}

func (r *Reconciler) dispatch(ctx context.Context, logger *observability.Logger, kind EventKind, event stripe.Event) (Result, error) {
	if kind != EventKindUnknown && (event.Data == nil || len(event.Data.Raw) == 0) {
		return Result{}, fmt.Errorf("%w: event has no data object", ErrUnresolvableEvent)
	}

	switch kind {
	case EventKindSubscriptionCreated, EventKindSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Result{}, fmt.Errorf("%w: malformed subscription: %v", ErrUnresolvableEvent, err)
		}
		return r.applySubscription(ctx, logger, &sub, eventTime(event))

	case EventKindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Result{}, fmt.Errorf("%w: malformed subscription: %v", ErrUnresolvableEvent, err)
		}
		return r.revertSubscription(ctx, logger, &sub, eventTime(event))

	case EventKindCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return Result{}, fmt.Errorf("%w: malformed checkout session: %v", ErrUnresolvableEvent, err)
		}
		return r.applyCheckout(ctx, logger, &session, eventTime(event))

	case EventKindInvoicePaymentSucceeded, EventKindInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return Result{}, fmt.Errorf("%w: malformed invoice: %v", ErrUnresolvableEvent, err)
		}
		return r.notifyInvoice(ctx, logger, kind, &inv), nil

	default:
		logger.Debug("ignoring unhandled webhook event")
		return Result{Action: ActionIgnored}, nil
	}
}

func (r *Reconciler) applySubscription(ctx context.Context, logger *observability.Logger, sub *stripe.Subscription, occurred time.Time) (Result, error) {
	customerID := customerOf(sub.Customer)
	userID, err := r.correlate(ctx, sub.Metadata, customerID)
	if err != nil {
		return Result{}, err
	}

	tier := entitlements.TierFree
	if GrantsTier(sub.Status) {
		tier = r.resolveTier(sub.Metadata, priceOf(sub))
	}

	change := entitlements.SubscriptionChange{
		UserID:                 userID,
		Tier:                   tier,
		Status:                 MapStatus(sub.Status),
		ExternalSubscriptionID: sub.ID,
		ExternalCustomerID:     customerID,
		ExpiresAt:              unixTime(sub.CurrentPeriodEnd),
		ProviderStatus:         string(sub.Status),
		PriceID:                priceOf(sub),
		OccurredAt:             occurred,
	}
	return r.write(ctx, logger, change)
}

func (r *Reconciler) applyCheckout(ctx context.Context, logger *observability.Logger, session *stripe.CheckoutSession, occurred time.Time) (Result, error) {
	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil || session.Subscription.ID == "" {
		logger.Debug("ignoring checkout session without subscription")
		return Result{Action: ActionIgnored}, nil
	}

	customerID := customerOf(session.Customer)
	userID, err := r.correlate(ctx, session.Metadata, customerID)
	if err != nil {
		return Result{}, err
	}

	// Stripe sends the subscription as a bare id unless expanded. Expiry
	// and price stay empty then and the stored values are kept.
	sub := session.Subscription
	change := entitlements.SubscriptionChange{
		UserID:                 userID,
		Tier:                   r.resolveTier(session.Metadata, priceOf(sub)),
		Status:                 entitlements.StatusActive,
		ExternalSubscriptionID: sub.ID,
		ExternalCustomerID:     customerID,
		ExpiresAt:              unixTime(sub.CurrentPeriodEnd),
		ProviderStatus:         string(stripe.SubscriptionStatusActive),
		PriceID:                priceOf(sub),
		OccurredAt:             occurred,
	}
	return r.write(ctx, logger, change)
}

func (r *Reconciler) write(ctx context.Context, logger *observability.Logger, change entitlements.SubscriptionChange) (Result, error) {
	if err := r.store.ApplySubscription(ctx, change); err != nil {
		if errors.Is(err, entitlements.ErrStaleChange) {
			logger.WithUser(change.UserID).WithFields(map[string]interface{}{
				"subscription_id": change.ExternalSubscriptionID,
				"occurred_at":     change.OccurredAt,
			}).Info("skipping subscription change older than the applied state")
			return Result{Action: ActionStale, UserID: change.UserID}, nil
		}
		if errors.Is(err, entitlements.ErrNotProvisioned) {
			return Result{}, fmt.Errorf("%w: user %s: %w", ErrUnresolvableEvent, change.UserID, err)
		}
		r.storeError("apply_subscription")
		return Result{}, fmt.Errorf("failed to apply subscription %s: %w", change.ExternalSubscriptionID, err)
	}

	logger.WithUser(change.UserID).WithFields(map[string]interface{}{
		"subscription_id": change.ExternalSubscriptionID,
		"tier":            string(change.Tier),
		"status":          string(change.Status),
	}).Info("subscription applied")

	return Result{
		Action: ActionApplied,
		UserID: change.UserID,
		Tier:   change.Tier,
		Status: change.Status,
	}, nil
}

func (r *Reconciler) revertSubscription(ctx context.Context, logger *observability.Logger, sub *stripe.Subscription, occurred time.Time) (Result, error) {
	userID, err := r.correlate(ctx, sub.Metadata, customerOf(sub.Customer))
	if err != nil {
		return Result{}, err
	}

	if err := r.store.RevertToFree(ctx, userID, sub.ID, occurred); err != nil {
		if errors.Is(err, entitlements.ErrNotProvisioned) {
			return Result{}, fmt.Errorf("%w: user %s: %w", ErrUnresolvableEvent, userID, err)
		}
		r.storeError("revert_to_free")
		return Result{}, fmt.Errorf("failed to revert subscription %s: %w", sub.ID, err)
	}

	logger.WithUser(userID).WithField("subscription_id", sub.ID).Info("subscription deleted, reverted to free")
	return Result{
		Action: ActionReverted,
		UserID: userID,
		Tier:   entitlements.TierFree,
		Status: entitlements.StatusCanceled,
	}, nil
}

// notifyInvoice never fails the event: invoices carry no state change
func (r *Reconciler) notifyInvoice(ctx context.Context, logger *observability.Logger, kind EventKind, inv *stripe.Invoice) Result {
	userID := ""
	if customerID := customerOf(inv.Customer); customerID != "" {
		if id, err := r.lookupCustomer(ctx, customerID); err == nil {
			userID = id
		} else {
			logger.WithError(err).Debug("invoice customer not correlated")
		}
	}

	summary := invoiceSummary(inv, userID)
	notifier := r.config.Notifier
	r.config.Runner.Go(ctx, r.config.NotifyTimeout, "invoice notification", func(ctx context.Context) error {
		if kind == EventKindInvoicePaymentFailed {
			return notifier.PaymentFailed(ctx, summary)
		}
		return notifier.PaymentSucceeded(ctx, summary)
	})

	return Result{Action: ActionNotified, UserID: userID}
}

// correlate finds the local user for an event: metadata first, then the
// stored customer id, which must match exactly one user.
func (r *Reconciler) correlate(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if userID := metadata[metadataUserID]; userID != "" {
		return userID, nil
	}
	if customerID == "" {
		return "", fmt.Errorf("%w: no userId metadata and no customer", ErrUnresolvableEvent)
	}
	return r.lookupCustomer(ctx, customerID)
}

func (r *Reconciler) lookupCustomer(ctx context.Context, customerID string) (string, error) {
	ids, err := r.store.FindByCustomerID(ctx, customerID)
	if err != nil {
		r.storeError("find_by_customer")
		return "", fmt.Errorf("failed to look up customer %s: %w", customerID, err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: no user for customer %s", ErrUnresolvableEvent, customerID)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %w: %s matches %d users", ErrUnresolvableEvent, ErrAmbiguousCustomer, customerID, len(ids))
	}
}

// resolveTier picks the tier a live subscription grants: explicit metadata,
// then the configured pro price, then pro as the only paid tier.
func (r *Reconciler) resolveTier(metadata map[string]string, priceID string) entitlements.Tier {
	if raw := metadata[metadataTier]; raw != "" {
		if tier, err := entitlements.ParseTier(raw); err == nil {
			return tier
		}
		r.logger.WithField("tier", raw).Warn("unknown tier in subscription metadata")
	}
	if priceID != "" && r.config.ProPriceID != "" && priceID != r.config.ProPriceID {
		r.logger.WithField("price_id", priceID).Warn("subscription price is not the configured pro price")
	}
	return entitlements.TierPro
}

func (r *Reconciler) observe(kind EventKind, result Result, err error, elapsed time.Duration) {
	m := r.config.Metrics
	if m == nil {
		return
	}
	outcome := string(result.Action)
	switch {
	case errors.Is(err, ErrUnresolvableEvent):
		outcome = "unresolvable"
	case err != nil:
		outcome = "error"
	}
	m.WebhookEventsTotal.WithLabelValues(kind.String(), outcome).Inc()
	m.WebhookApplyDuration.Observe(elapsed.Seconds())
	if err == nil && (result.Action == ActionApplied || result.Action == ActionReverted) {
		m.SubscriptionTransitions.WithLabelValues(string(result.Tier), string(result.Status)).Inc()
	}
}

func (r *Reconciler) storeError(op string) {
	if r.config.Metrics != nil {
		r.config.Metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// Wait blocks until background notifications have finished
func (r *Reconciler) Wait(ctx context.Context) error {
	return r.config.Runner.Wait(ctx)
}

func customerOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func priceOf(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func eventTime(event stripe.Event) time.Time {
	if event.Created <= 0 {
		return time.Time{}
	}
	return time.Unix(event.Created, 0).UTC()
}
