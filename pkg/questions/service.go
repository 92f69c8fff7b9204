package questions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

const (
	MaxTitleLength   = 300
	MaxContentLength = 10000

	// MinSearchLength is the shortest query Search runs
	MinSearchLength = 3

	DefaultListLimit   = 10
	MaxListLimit       = 100
	DefaultSearchLimit = 10
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugSeparate = regexp.MustCompile(`[\s_-]+`)
)

// Slugify turns a title into a URL path segment
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSeparate.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CreateRequest is a new question from an authenticated user
type CreateRequest struct {
	UserID  string
	Title   string
	Content string
	// Premium selects the better answer model
	Premium bool
}

// CreateResult is the question that answers a CreateRequest
type CreateResult struct {
	Question *Question
	// Existing is true when the user had already asked this question and
	// no new one was written. Callers must not count usage for it.
	Existing bool
}

// Service publishes questions with generated answers
type Service struct {
	store     Store
	generator AnswerGenerator
	logger    *observability.Logger
	now       func() time.Time
}

// NewService creates a question service
func NewService(store Store, generator AnswerGenerator, logger *observability.Logger) *Service {
	if generator == nil {
		generator = NewTemplateGenerator()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{store: store, generator: generator, logger: logger, now: time.Now}
}

func (r CreateRequest) validate() error {
	title := strings.TrimSpace(r.Title)
	content := strings.TrimSpace(r.Content)
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: user is required", ErrInvalidInput)
	case title == "" || content == "":
		return fmt.Errorf("%w: title and content are required", ErrInvalidInput)
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLength)
	case utf8.RuneCountInString(content) > MaxContentLength:
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidInput, MaxContentLength)
	case Slugify(title) == "":
		return fmt.Errorf("%w: title needs at least one letter or digit", ErrInvalidInput)
	}
	return nil
}

// Create publishes a question and its answer.
//
// When the title's slug is taken and the same user already asked a
// question with the same title or content, that question is returned with
// Existing set. Otherwise a taken slug gets a millisecond suffix.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	content := strings.TrimSpace(req.Content)

	slug := Slugify(title)
	taken, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	}
	if taken {
		dup, err := s.store.FindDuplicate(ctx, req.UserID, title, content)
		if err != nil {
			return nil, fmt.Errorf("failed to check for duplicate question: %w", err)
		}
		if dup != nil {
			s.logger.WithUser(req.UserID).WithField("slug", dup.Slug).Info("returning existing question")
			return &CreateResult{Question: dup, Existing: true}, nil
		}
		slug = fmt.Sprintf("%s-%d", slug, s.now().UnixMilli())
	}

	generated, err := s.generator.Generate(ctx, GenerateRequest{Title: title, Content: content, Premium: req.Premium})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	q := &Question{
		UserID:   req.UserID,
		Title:    title,
		Content:  content,
		Slug:     slug,
		Status:   StatusPublished,
		Category: generated.Category,
		Tags:     generated.Tags,
	}
	a := &Answer{
		Content:        generated.Content,
		SEOTitle:       generated.SEOTitle,
		SEODescription: generated.SEODescription,
		Model:          generated.Model,
		ResponseTimeMS: generated.ResponseTime.Milliseconds(),
	}
	if err := s.store.Create(ctx, q, a); err != nil {
		return nil, fmt.Errorf("failed to save question: %w", err)
	}
	q.Answer = a

	s.logger.WithUser(req.UserID).WithFields(map[string]interface{}{
		"question_id": q.ID,
		"slug":        q.Slug,
		"category":    q.Category,
	}).Info("question published")

	return &CreateResult{Question: q}, nil
}

// GetBySlug returns a question and counts the view. A failed view count
// does not fail the read.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Question, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	q, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementViews(ctx, q.ID); err != nil {
		s.logger.WithField("question_id", q.ID).WithError(err).Warn("failed to count question view")
	} else {
		q.ViewCount++
	}
	return q, nil
}

// List returns published questions newest first. Category "all" is the
// same as no category.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Question, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if strings.EqualFold(filter.Category, "all") {
		filter.Category = ""
	}
	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	if list == nil {
		list = []*Question{}
	}
	return list, nil
}

// Search finds questions matching query. Queries shorter than
// MinSearchLength return no results without touching the store.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*Question, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return []*Question{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	found, err := s.store.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search questions: %w", err)
	}
	if found == nil {
		found = []*Question{}
	}
	return found, nil
}
