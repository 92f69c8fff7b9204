package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

// QuestionStore implements questions.Store in memory
type QuestionStore struct {
	mu        sync.RWMutex
	questions map[string]*questions.Question
	bySlug    map[string]string
	now       func() time.Time
}

// NewQuestionStore creates an empty question store
func NewQuestionStore() *QuestionStore {
	return &QuestionStore{
		questions: make(map[string]*questions.Question),
		bySlug:    make(map[string]string),
		now:       time.Now,
	}
}

// SlugExists implements questions.Store
func (s *QuestionStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySlug[slug]
	return ok, nil
}

// FindDuplicate implements questions.Store
func (s *QuestionStore) FindDuplicate(ctx context.Context, userID, title, content string) (*questions.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *questions.Question
	for _, q := range s.questions {
		if q.UserID != userID || (q.Title != title && q.Content != content) {
			continue
		}
		if found == nil || q.CreatedAt.After(found.CreatedAt) {
			found = q
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyQuestion(found), nil
}

// Create implements questions.Store
func (s *QuestionStore) Create(ctx context.Context, q *questions.Question, a *questions.Answer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	q.ID = uuid.NewString()
	q.CreatedAt = now
	if a != nil {
		a.ID = uuid.NewString()
		a.QuestionID = q.ID
		a.CreatedAt = now
		q.Answer = a
	}
	s.questions[q.ID] = copyQuestion(q)
	s.bySlug[q.Slug] = q.ID
	return nil
}

// GetBySlug implements questions.Store
func (s *QuestionStore) GetBySlug(ctx context.Context, slug string) (*questions.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySlug[slug]
	if !ok {
		return nil, questions.ErrNotFound
	}
	return copyQuestion(s.questions[id]), nil
}

// IncrementViews implements questions.Store
func (s *QuestionStore) IncrementViews(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return questions.ErrNotFound
	}
	q.ViewCount++
	return nil
}

// List implements questions.Store
func (s *QuestionStore) List(ctx context.Context, filter questions.ListFilter) ([]*questions.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*questions.Question
	for _, q := range s.questions {
		if q.Status != questions.StatusPublished {
			continue
		}
		if filter.Category != "" && q.Category != filter.Category {
			continue
		}
		if filter.UserID != "" && q.UserID != filter.UserID {
			continue
		}
		out = append(out, copyQuestion(q))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, filter.Limit), nil
}

// Search implements questions.Store
func (s *QuestionStore) Search(ctx context.Context, query string, limit int) ([]*questions.Question, error) {
	needle := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*questions.Question
	for _, q := range s.questions {
		if q.Status != questions.StatusPublished || !matches(q, needle) {
			continue
		}
		out = append(out, copyQuestion(q))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViewCount != out[j].ViewCount {
			return out[i].ViewCount > out[j].ViewCount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func matches(q *questions.Question, needle string) bool {
	if strings.Contains(strings.ToLower(q.Title), needle) ||
		strings.Contains(strings.ToLower(q.Content), needle) {
		return true
	}
	for _, tag := range q.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func truncate(qs []*questions.Question, limit int) []*questions.Question {
	if limit > 0 && len(qs) > limit {
		return qs[:limit]
	}
	return qs
}

func copyQuestion(q *questions.Question) *questions.Question {
	cp := *q
	cp.Tags = append([]string(nil), q.Tags...)
	if q.Answer != nil {
		a := *q.Answer
		cp.Answer = &a
	}
	return &cp
}

var _ questions.Store = (*QuestionStore)(nil)
