package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/contextkeys"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// QuotaExceededMessage is shown to users who ran out of monthly actions
const QuotaExceededMessage = "You have reached your monthly question limit. Upgrade to Pro for unlimited questions!"

// QuotaDenial is the 429 body for a denied metered action
type QuotaDenial struct {
	UpgradeRequired bool   `json:"upgradeRequired"`
	Message         string `json:"message"`
	QuestionsUsed   int    `json:"questionsUsed"`
	QuestionsLimit  int    `json:"questionsLimit"`
	ResetDate       string `json:"resetDate"`
}

// NewQuotaDenial builds the deny body for decision
func NewQuotaDenial(decision entitlements.Decision) QuotaDenial {
	return QuotaDenial{
		UpgradeRequired: true,
		Message:         QuotaExceededMessage,
		QuestionsUsed:   decision.Used,
		QuestionsLimit:  decision.Limit,
		ResetDate:       FormatResetDate(decision.ResetAt),
	}
}

// FormatResetDate renders a reset instant as an ISO-8601 UTC timestamp
func FormatResetDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// QuotaMiddleware gates metered endpoints on the caller's entitlement.
//
// REQUIRES: AuthMiddleware must run before this middleware.
//
// It only evaluates. The wrapped handler records usage after its action
// succeeded, because only it knows whether anything was produced.
type QuotaMiddleware struct {
	resolver *entitlements.Resolver
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(resolver *entitlements.Resolver) *QuotaMiddleware {
	return &QuotaMiddleware{resolver: resolver}
}

// Enforce answers 429 with a QuotaDenial when the quota is used up, 503
// when the decision cannot be made and 403 for users without a record.
// Permitted requests carry the decision in their context.
func (m *QuotaMiddleware) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r)
		if identity == nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		logger := observability.FromContext(r.Context())

		decision, err := m.resolver.Evaluate(r.Context(), identity.UserID)
		if err != nil {
			logger.WithError(err).Error("entitlement check failed")
			httputil.WriteServiceUnavailable(w, "Unable to verify usage limits. Please try again.")
			return
		}

		switch decision.Reason {
		case entitlements.ReasonNone:
		case entitlements.ReasonNotProvisioned:
			httputil.WriteForbidden(w, "Account not set up yet. Sign in again to finish setup.")
			return
		case entitlements.ReasonQuotaExceeded:
			logger.WithFields(map[string]interface{}{
				"used":  decision.Used,
				"limit": decision.Limit,
			}).Info("metered action denied")
			httputil.WriteTooManyRequests(w, NewQuotaDenial(decision))
			return
		default:
			httputil.WriteServiceUnavailable(w, "Unable to verify usage limits. Please try again.")
			return
		}

		ctx := contextkeys.WithDecision(r.Context(), decision)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DecisionFromContext returns the decision QuotaMiddleware permitted on
func DecisionFromContext(ctx context.Context) (entitlements.Decision, bool) {
	decision, ok := ctx.Value(contextkeys.DecisionKey).(entitlements.Decision)
	return decision, ok
}
