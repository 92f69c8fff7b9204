package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

func seedQuestion(t *testing.T, s *QuestionStore, at time.Time, q questions.Question) *questions.Question {
	t.Helper()
	s.now = func() time.Time { return at }
	if q.Status == "" {
		q.Status = questions.StatusPublished
	}
	require.NoError(t, s.Create(context.Background(), &q, &questions.Answer{Content: "answer"}))
	return &q
}

func TestQuestionStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewQuestionStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := seedQuestion(t, s, base, questions.Question{UserID: "u1", Title: "Deploy", Content: "How to deploy", Slug: "deploy"})

	assert.NotEmpty(t, q.ID)
	require.NotNil(t, q.Answer)
	assert.Equal(t, q.ID, q.Answer.QuestionID)

	exists, err := s.SlugExists(ctx, "deploy")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.GetBySlug(ctx, "deploy")
	require.NoError(t, err)
	assert.Equal(t, "Deploy", got.Title)

	_, err = s.GetBySlug(ctx, "nope")
	assert.ErrorIs(t, err, questions.ErrNotFound)

	require.NoError(t, s.IncrementViews(ctx, q.ID))
	got, _ = s.GetBySlug(ctx, "deploy")
	assert.Equal(t, 1, got.ViewCount)
}

func TestQuestionStore_FindDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewQuestionStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedQuestion(t, s, base, questions.Question{UserID: "u1", Title: "A", Content: "same body", Slug: "a"})
	newer := seedQuestion(t, s, base.Add(time.Hour), questions.Question{UserID: "u1", Title: "B", Content: "same body", Slug: "b"})

	dup, err := s.FindDuplicate(ctx, "u1", "other", "same body")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, newer.ID, dup.ID)

	dup, err = s.FindDuplicate(ctx, "u2", "A", "same body")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestQuestionStore_ListAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewQuestionStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	first := seedQuestion(t, s, base, questions.Question{UserID: "u1", Title: "Stripe webhooks", Content: "x", Slug: "s1", Category: "stripe", Tags: []string{"payments"}})
	seedQuestion(t, s, base.Add(time.Hour), questions.Question{UserID: "u2", Title: "Cursor tips", Content: "y", Slug: "c1", Category: "cursor"})
	seedQuestion(t, s, base.Add(2*time.Hour), questions.Question{UserID: "u2", Title: "Payments page", Content: "z", Slug: "p1", Category: "general"})

	all, err := s.List(ctx, questions.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p1", all[0].Slug)

	byCat, _ := s.List(ctx, questions.ListFilter{Category: "cursor"})
	require.Len(t, byCat, 1)

	byUser, _ := s.List(ctx, questions.ListFilter{UserID: "u2", Limit: 1})
	require.Len(t, byUser, 1)
	assert.Equal(t, "p1", byUser[0].Slug)

	require.NoError(t, s.IncrementViews(ctx, first.ID))
	found, err := s.Search(ctx, "PAYMENTS", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "s1", found[0].Slug, "most viewed first")
}
