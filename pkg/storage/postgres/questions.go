package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

const questionColumns = `q.id, q.user_id, q.title, q.content, q.slug, q.status,
	q.category, q.tags, q.view_count, q.created_at,
	a.id, a.content, a.seo_title, a.seo_description, a.model,
	a.response_time_ms, a.created_at`

// QuestionStore implements questions.Store. Writes go to the primary,
// list and search reads to a replica when one is configured.
type QuestionStore struct {
	conns *ConnectionManager
}

// NewQuestionStore creates a question store
func NewQuestionStore(conns *ConnectionManager) *QuestionStore {
	return &QuestionStore{conns: conns}
}

func scanQuestion(row rowScanner) (*questions.Question, error) {
	var (
		q          questions.Question
		tags       pq.StringArray
		answerID   sql.NullString
		content    sql.NullString
		seoTitle   sql.NullString
		seoDesc    sql.NullString
		model      sql.NullString
		responseMS sql.NullInt64
		answeredAt sql.NullTime
	)
	err := row.Scan(
		&q.ID, &q.UserID, &q.Title, &q.Content, &q.Slug, &q.Status,
		&q.Category, &tags, &q.ViewCount, &q.CreatedAt,
		&answerID, &content, &seoTitle, &seoDesc, &model,
		&responseMS, &answeredAt,
	)
	if err != nil {
		return nil, err
	}
	q.Tags = []string(tags)
	if answerID.Valid {
		q.Answer = &questions.Answer{
			ID:             answerID.String,
			QuestionID:     q.ID,
			Content:        content.String,
			SEOTitle:       seoTitle.String,
			SEODescription: seoDesc.String,
			Model:          model.String,
			ResponseTimeMS: responseMS.Int64,
			CreatedAt:      answeredAt.Time,
		}
	}
	return &q, nil
}

func collectQuestions(rows *sql.Rows) ([]*questions.Question, error) {
	defer rows.Close()
	var out []*questions.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SlugExists implements questions.Store
func (s *QuestionStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.conns.Primary().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM questions WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// FindDuplicate implements questions.Store
func (s *QuestionStore) FindDuplicate(ctx context.Context, userID, title, content string) (*questions.Question, error) {
	query := `
		SELECT ` + questionColumns + `
		FROM questions q
		LEFT JOIN answers a ON a.question_id = q.id
		WHERE q.user_id = $1 AND (q.title = $2 OR q.content = $3)
		ORDER BY q.created_at DESC
		LIMIT 1
	`
	q, err := scanQuestion(s.conns.Primary().QueryRowContext(ctx, query, userID, title, content))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return q, nil
}

// Create implements questions.Store
func (s *QuestionStore) Create(ctx context.Context, q *questions.Question, a *questions.Answer) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	q.ID = uuid.NewString()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO questions (id, user_id, title, content, slug, status, category, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, q.ID, q.UserID, q.Title, q.Content, q.Slug, q.Status, q.Category, pq.Array(q.Tags)).Scan(&q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}

	if a != nil {
		a.ID = uuid.NewString()
		a.QuestionID = q.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO answers (id, question_id, content, seo_title, seo_description, model, response_time_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, a.ID, a.QuestionID, a.Content, a.SEOTitle, a.SEODescription, a.Model, a.ResponseTimeMS).Scan(&a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert answer: %w", err)
		}
		q.Answer = a
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit question: %w", err)
	}
	return nil
}

// GetBySlug implements questions.Store
func (s *QuestionStore) GetBySlug(ctx context.Context, slug string) (*questions.Question, error) {
	query := `
		SELECT ` + questionColumns + `
		FROM questions q
		LEFT JOIN answers a ON a.question_id = q.id
		WHERE q.slug = $1
	`
	q, err := scanQuestion(s.conns.Replica().QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, questions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question %s: %w", slug, err)
	}
	return q, nil
}

// IncrementViews implements questions.Store
func (s *QuestionStore) IncrementViews(ctx context.Context, id string) error {
	_, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE questions SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	return nil
}

// List implements questions.Store
func (s *QuestionStore) List(ctx context.Context, filter questions.ListFilter) ([]*questions.Question, error) {
	var (
		where = []string{"q.status = $1"}
		args  = []interface{}{questions.StatusPublished}
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("q.category = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("q.user_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM questions q
		LEFT JOIN answers a ON a.question_id = q.id
		WHERE %s
		ORDER BY q.created_at DESC
		LIMIT $%d
	`, questionColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	return collectQuestions(rows)
}

// Search implements questions.Store
func (s *QuestionStore) Search(ctx context.Context, query string, limit int) ([]*questions.Question, error) {
	if limit <= 0 {
		limit = 10
	}
	sqlQuery := `
		SELECT ` + questionColumns + `
		FROM questions q
		LEFT JOIN answers a ON a.question_id = q.id
		WHERE q.status = $1
		  AND (q.title ILIKE $2 OR q.content ILIKE $2 OR array_to_string(q.tags, ' ') ILIKE $2)
		ORDER BY q.view_count DESC, q.created_at DESC
		LIMIT $3
	`
	rows, err := s.conns.Replica().QueryContext(ctx, sqlQuery,
		questions.StatusPublished, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search questions: %w", err)
	}
	return collectQuestions(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ questions.Store = (*QuestionStore)(nil)
