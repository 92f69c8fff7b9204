package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/middleware"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

// QuestionHandlers serves the metered question endpoint and the public
// question reads
type QuestionHandlers struct {
	service  *questions.Service
	resolver *entitlements.Resolver

	requireAuth  *middleware.AuthMiddleware
	optionalAuth *middleware.AuthMiddleware
	quota        *middleware.QuotaMiddleware
	// limit wraps the public reads
	limit func(http.Handler) http.Handler
}

// RegisterRoutes registers question routes
func (h *QuestionHandlers) RegisterRoutes(router *mux.Router) {
	limit := h.limit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	create := h.requireAuth.Handler(h.quota.Enforce(http.HandlerFunc(h.CreateQuestion)))
	router.Handle("/api/questions", create).Methods("POST")
	router.Handle("/api/questions", h.optionalAuth.Handler(limit(http.HandlerFunc(h.ListQuestions)))).Methods("GET")
	router.Handle("/api/questions/search", h.optionalAuth.Handler(limit(http.HandlerFunc(h.SearchQuestions)))).Methods("POST")
	router.Handle("/api/questions/{slug}", h.optionalAuth.Handler(limit(http.HandlerFunc(h.GetQuestion)))).Methods("GET")
}

// CreateQuestion publishes a question for a caller the quota gate let
// through, then counts one action. A repeat of a question the caller
// already asked is returned without being counted.
func (h *QuestionHandlers) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	identity := middleware.GetIdentity(r)
	decision, _ := middleware.DecisionFromContext(ctx)

	var req createQuestionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		httputil.WriteBadRequest(w, "Title and content are required")
		return
	}

	result, err := h.service.Create(ctx, questions.CreateRequest{
		UserID:  identity.UserID,
		Title:   req.Title,
		Content: req.Content,
		Premium: decision.Tier.Paid() || decision.Privileged,
	})
	if err != nil {
		if errors.Is(err, questions.ErrInvalidInput) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		logger.WithError(err).Error("failed to create question")
		httputil.WriteInternalError(w, "Failed to process question")
		return
	}

	if result.Existing {
		httputil.WriteSuccess(w, ExistingQuestionResponse{
			Question:   slugRef{Slug: result.Question.Slug},
			IsExisting: true,
		})
		return
	}

	// The question exists now; a failed count is logged, never surfaced.
	counted := true
	if err := h.resolver.RecordUsage(ctx, identity.UserID); err != nil {
		counted = false
		logger.WithError(err).Warn("failed to record usage")
	}

	resp := CreateQuestionResponse{
		Success:        true,
		Question:       result.Question,
		Answer:         result.Question.Answer,
		UserTier:       decision.Tier,
		QuestionsUsed:  decision.Used,
		QuestionsLimit: decision.Limit,
	}
	if !decision.Unlimited() {
		if counted {
			resp.QuestionsUsed++
		}
		remaining := resp.QuestionsLimit - resp.QuestionsUsed
		if remaining < 0 {
			remaining = 0
		}
		resp.RemainingQuestions = &remaining
	}
	httputil.WriteCreated(w, resp)
}

// ListQuestions returns recent questions. user_only=true restricts the list
// to the caller's own questions and is empty for anonymous callers.
func (h *QuestionHandlers) ListQuestions(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", questions.DefaultListLimit, 1, questions.MaxListLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	userOnly, err := httputil.QueryBool(r, "user_only", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := questions.ListFilter{
		Limit:    limit,
		Category: r.URL.Query().Get("category"),
	}
	if userOnly {
		identity := middleware.GetIdentity(r)
		if identity == nil {
			httputil.WriteSuccess(w, map[string]interface{}{"questions": []*questions.Question{}})
			return
		}
		filter.UserID = identity.UserID
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list questions")
		httputil.WriteInternalError(w, "Failed to fetch questions")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"questions": list})
}

// GetQuestion returns one question with its answer and counts the view
func (h *QuestionHandlers) GetQuestion(w http.ResponseWriter, r *http.Request) {
	slug, err := httputil.PathString(r, "slug")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	q, err := h.service.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, questions.ErrNotFound) {
			httputil.WriteNotFound(w, "Question not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to fetch question")
		httputil.WriteInternalError(w, "Failed to fetch question")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"question": q})
}

// SearchQuestions finds questions similar to a draft
func (h *QuestionHandlers) SearchQuestions(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > questions.MaxListLimit {
		limit = questions.MaxListLimit
	}

	found, err := h.service.Search(r.Context(), req.Q, limit)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to search questions")
		httputil.WriteInternalError(w, "Failed to search questions")
		return
	}

	similar := make([]SearchResult, 0, len(found))
	for _, q := range found {
		similar = append(similar, SearchResult{
			ID:         q.ID,
			Title:      q.Title,
			Slug:       q.Slug,
			Category:   q.Category,
			ViewCount:  q.ViewCount,
			CreatedAt:  q.CreatedAt,
			Similarity: 1,
		})
	}
	httputil.WriteSuccess(w, map[string]interface{}{"similar": similar})
}
