package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements create the tables the stores need. Each statement is
// idempotent so EnsureSchema can run at every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                        TEXT PRIMARY KEY,
		email                     TEXT NOT NULL DEFAULT '',
		username                  TEXT NOT NULL DEFAULT '',
		full_name                 TEXT NOT NULL DEFAULT '',
		avatar_url                TEXT NOT NULL DEFAULT '',
		subscription_tier         TEXT NOT NULL DEFAULT 'free',
		subscription_status       TEXT,
		monthly_limit             INTEGER NOT NULL DEFAULT 30,
		questions_used_this_month INTEGER NOT NULL DEFAULT 0,
		last_reset_date           DATE NOT NULL DEFAULT CURRENT_DATE,
		subscription_expires_at   TIMESTAMPTZ,
		stripe_subscription_id    TEXT,
		stripe_customer_id        TEXT,
		last_event_at             TIMESTAMPTZ,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS last_event_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS idx_users_stripe_customer ON users (stripe_customer_id)`,
	`CREATE TABLE IF NOT EXISTS user_subscriptions (
		id                     BIGSERIAL PRIMARY KEY,
		user_id                TEXT NOT NULL REFERENCES users (id),
		stripe_subscription_id TEXT NOT NULL UNIQUE,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL,
		tier                   TEXT NOT NULL,
		price_id               TEXT NOT NULL DEFAULT '',
		current_period_end     TIMESTAMPTZ,
		last_event_at          TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE user_subscriptions ADD COLUMN IF NOT EXISTS last_event_at TIMESTAMPTZ`,
	`CREATE TABLE IF NOT EXISTS questions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users (id),
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		status     TEXT NOT NULL DEFAULT 'published',
		category   TEXT NOT NULL DEFAULT 'general',
		tags       TEXT[] NOT NULL DEFAULT '{}',
		view_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_user ON questions (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS answers (
		id               TEXT PRIMARY KEY,
		question_id      TEXT NOT NULL REFERENCES questions (id) ON DELETE CASCADE,
		content          TEXT NOT NULL,
		seo_title        TEXT NOT NULL DEFAULT '',
		seo_description  TEXT NOT NULL DEFAULT '',
		model            TEXT NOT NULL DEFAULT '',
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates missing tables and indexes
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i, err)
		}
	}
	return nil
}
