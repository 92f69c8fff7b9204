package questions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no question matches
	ErrNotFound = errors.New("question not found")
	// ErrInvalidInput is returned for missing or oversized fields
	ErrInvalidInput = errors.New("invalid question")
)

// StatusPublished is the only status the service writes
const StatusPublished = "published"

// Question is a published question with its generated answer
type Question struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	ViewCount int       `json:"view_count"`
	CreatedAt time.Time `json:"created_at"`
	Answer    *Answer   `json:"answer,omitempty"`
}

// Answer is the generated markdown answer for a question
type Answer struct {
	ID             string    `json:"id"`
	QuestionID     string    `json:"question_id"`
	Content        string    `json:"content"`
	SEOTitle       string    `json:"seo_title"`
	SEODescription string    `json:"seo_description"`
	Model          string    `json:"model"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListFilter narrows List results
type ListFilter struct {
	Limit    int
	Category string
	UserID   string
}

// Store persists questions and answers
type Store interface {
	// SlugExists reports whether any question uses slug
	SlugExists(ctx context.Context, slug string) (bool, error)
	// FindDuplicate returns the newest question by userID with the same
	// title or content, or nil when there is none.
	FindDuplicate(ctx context.Context, userID, title, content string) (*Question, error)
	// Create inserts the question and its answer, assigning ids and
	// timestamps.
	Create(ctx context.Context, q *Question, a *Answer) error
	// GetBySlug returns ErrNotFound when the slug is unknown
	GetBySlug(ctx context.Context, slug string) (*Question, error)
	// IncrementViews bumps the view counter
	IncrementViews(ctx context.Context, id string) error
	// List returns published questions newest first
	List(ctx context.Context, filter ListFilter) ([]*Question, error)
	// Search matches title, content or tags case-insensitively, most
	// viewed first.
	Search(ctx context.Context, query string, limit int) ([]*Question, error)
}
