// Package api provides the HTTP API of the Q&A service: the metered
// question endpoint, the usage query, Stripe webhooks and checkout, and
// account provisioning.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups, each
// with its own RegisterRoutes:
//
//   - UsageHandlers: GET /api/usage
//   - QuestionHandlers: POST/GET /api/questions, GET /api/questions/{slug},
//     POST /api/questions/search
//   - WebhookHandlers: POST /api/webhooks/stripe (and /api/subscriptions/webhook)
//   - SubscriptionHandlers: POST /api/subscriptions/create-checkout
//     (and /api/create-checkout), POST /api/subscriptions/portal
//   - AccountHandlers: POST /api/auth/sync-user, POST /api/admin/migrate-tiers
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Store:      store,
//		Resolver:   resolver,
//		Questions:  questionService,
//		Tokens:     verifier,
//		Admins:     allowList,
//		Webhooks:   billing.NewVerifier(cfg.Billing.WebhookSecret),
//		Reconciler: reconciler,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Metering
//
// POST /api/questions runs behind middleware.QuotaMiddleware. A denied
// caller gets 429 with upgradeRequired, message, questionsUsed,
// questionsLimit and resetDate. Usage is recorded after the question was
// saved; a question the caller already asked is returned with isExisting
// and is not counted.
//
// # Webhooks
//
// Signature failures answer 400 before any store access. Events that cannot
// be tied to a user answer 200 so Stripe stops retrying. Store failures
// answer 500 so the event is redelivered; applying it again is idempotent.
package api
