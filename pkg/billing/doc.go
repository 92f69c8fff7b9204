// Package billing keeps local subscription state in sync with Stripe.
//
// # Overview
//
// Stripe delivers signed webhook events at least once, in no guaranteed
// order. The Reconciler projects each verified event onto the user's
// entitlement record through entitlements.SubscriptionStore, whose writes
// are upserts keyed by the Stripe subscription id, so replays converge.
//
// # Event handling
//
//	subscription.created / .updated  upsert tier, status, expiry, ids
//	subscription.deleted             revert to free, canceled
//	checkout.session.completed       same upsert as .updated (mode=subscription)
//	invoice.payment_succeeded/failed log, metric, InvoiceNotifier hook
//	anything else                    ignored
//
// Events are correlated by metadata.userId, falling back to the stored
// customer id. Events that cannot be correlated are dropped: the handler
// answers 2xx so Stripe stops redelivering something no retry can fix.
//
// # Usage
//
//	verifier := billing.NewVerifier(cfg.Billing.WebhookSecret)
//	reconciler := billing.NewReconciler(store, billing.ReconcilerConfig{
//		ProPriceID: cfg.Billing.ProPriceID,
//		Logger:     logger,
//	})
//
//	event, err := verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
//	if err != nil {
//		// 400
//	}
//	result, err := reconciler.Apply(ctx, event)
//
// # Checkout
//
// CheckoutService creates subscription-mode Checkout Sessions and billing
// portal sessions through a CheckoutGateway. StripeGateway is the live
// implementation; tests substitute their own.
package billing
