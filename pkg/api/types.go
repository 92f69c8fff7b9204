package api

import (
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

// unlimitedLabel replaces a remaining count for tiers without a quota
const unlimitedLabel = "unlimited"

// UsageResponse is the body of GET /api/usage. CanAsk, QuestionsRemaining
// and IsPremium are kept for older clients. SubscriptionStatus is "none"
// for users who never subscribed; older clients received null there.
type UsageResponse struct {
	Tier                  entitlements.Tier               `json:"tier"`
	SubscriptionStatus    entitlements.SubscriptionStatus `json:"subscriptionStatus"`
	QuestionsUsed         int                             `json:"questionsUsed"`
	QuestionsLimit        int                             `json:"questionsLimit"`
	CanAskQuestion        bool                            `json:"canAskQuestion"`
	UpgradeRequired       bool                            `json:"upgradeRequired"`
	SubscriptionExpiresAt *time.Time                      `json:"subscriptionExpiresAt"`
	NextResetDate         string                          `json:"nextResetDate"`

	CanAsk             bool        `json:"canAsk"`
	QuestionsRemaining interface{} `json:"questionsRemaining"`
	IsPremium          bool        `json:"isPremium"`
}

func newUsageResponse(d entitlements.Decision) UsageResponse {
	return UsageResponse{
		Tier:                  d.Tier,
		SubscriptionStatus:    d.Status,
		QuestionsUsed:         d.Used,
		QuestionsLimit:        d.Limit,
		CanAskQuestion:        d.CanAct,
		UpgradeRequired:       !d.CanAct && d.Tier == entitlements.TierFree,
		SubscriptionExpiresAt: d.SubscriptionExpiresAt,
		NextResetDate:         middleware.FormatResetDate(d.ResetAt),
		CanAsk:                d.CanAct,
		QuestionsRemaining:    remainingValue(d),
		IsPremium:             d.Tier.Paid(),
	}
}

// remainingValue is the remaining count, or "unlimited"
func remainingValue(d entitlements.Decision) interface{} {
	if d.Unlimited() {
		return unlimitedLabel
	}
	return d.Remaining()
}

type createQuestionRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CreateQuestionResponse is the body of a successful POST /api/questions
type CreateQuestionResponse struct {
	Success  bool                `json:"success"`
	Question *questions.Question `json:"question"`
	Answer   *questions.Answer   `json:"answer"`
	// RemainingQuestions is null for tiers without a quota
	RemainingQuestions *int              `json:"remainingQuestions"`
	UserTier           entitlements.Tier `json:"userTier"`
	QuestionsUsed      int               `json:"questionsUsed"`
	QuestionsLimit     int               `json:"questionsLimit"`
}

// ExistingQuestionResponse points the client at a question the user
// already asked
type ExistingQuestionResponse struct {
	Question   slugRef `json:"question"`
	IsExisting bool    `json:"isExisting"`
}

type slugRef struct {
	Slug string `json:"slug"`
}

type searchRequest struct {
	Q     string `json:"q"`
	Limit int    `json:"limit"`
}

// SearchResult is one entry of a search response
type SearchResult struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Slug       string    `json:"slug"`
	Category   string    `json:"category"`
	ViewCount  int       `json:"view_count"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float64   `json:"similarity"`
}

type checkoutRequest struct {
	Tier string `json:"tier"`
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// SyncUserResponse is the body of POST /api/auth/sync-user
type SyncUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    struct {
		ID           string            `json:"id"`
		Email        string            `json:"email"`
		Username     string            `json:"username"`
		Tier         entitlements.Tier `json:"tier"`
		MonthlyLimit int               `json:"monthlyLimit"`
	} `json:"user"`
}

// MigrationResponse is the body of POST /api/admin/migrate-tiers
type MigrationResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	Migrated       map[string]int64 `json:"migrated"`
	LimitsRepaired int64            `json:"limitsRepaired"`
	Total          int64            `json:"total"`
}
