package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
)

const dateLayout = "2006-01-02"

const userColumns = `id, email, username, full_name, avatar_url,
	subscription_tier, subscription_status, monthly_limit,
	questions_used_this_month, last_reset_date, subscription_expires_at,
	stripe_subscription_id, stripe_customer_id, created_at, updated_at`

// EntitlementStore implements entitlements.Store on the users and
// user_subscriptions tables. Counter changes are single conditional
// statements so concurrent requests never lose an update.
type EntitlementStore struct {
	db *sql.DB
}

// NewEntitlementStore creates a store over the primary pool
func NewEntitlementStore(db *sql.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*entitlements.Record, error) {
	var (
		rec        entitlements.Record
		tier       string
		status     sql.NullString
		expiresAt  sql.NullTime
		subID      sql.NullString
		customerID sql.NullString
	)
	err := row.Scan(
		&rec.UserID, &rec.Email, &rec.Username, &rec.FullName, &rec.AvatarURL,
		&tier, &status, &rec.MonthlyLimit,
		&rec.UsedThisPeriod, &rec.LastResetDate, &expiresAt,
		&subID, &customerID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Tier, err = entitlements.ParseTier(tier); err != nil {
		rec.Tier = entitlements.TierFree
	}
	rec.Status = entitlements.StatusNone
	if status.Valid {
		if rec.Status, err = entitlements.ParseSubscriptionStatus(status.String); err != nil {
			rec.Status = entitlements.StatusNone
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.SubscriptionExpiresAt = &t
	}
	rec.ExternalSubscriptionID = subID.String
	rec.ExternalCustomerID = customerID.String
	return &rec, nil
}

// Get implements entitlements.RecordReader
func (s *EntitlementStore) Get(ctx context.Context, userID string) (*entitlements.Record, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlements.ErrNotProvisioned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return rec, nil
}

// ResetPeriodIfStale implements entitlements.UsageStore
func (s *EntitlementStore) ResetPeriodIfStale(ctx context.Context, userID string, period entitlements.Period) (bool, error) {
	query := `
		UPDATE users
		SET questions_used_this_month = 0, last_reset_date = $2, updated_at = NOW()
		WHERE id = $1 AND last_reset_date < $3
	`
	result, err := s.db.ExecContext(ctx, query, userID,
		period.Today.Format(dateLayout), period.Start.Format(dateLayout))
	if err != nil {
		return false, fmt.Errorf("failed to reset usage period: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// ResetStalePeriods implements entitlements.UsageStore
func (s *EntitlementStore) ResetStalePeriods(ctx context.Context, period entitlements.Period) (int64, error) {
	query := `
		UPDATE users
		SET questions_used_this_month = 0, last_reset_date = $1, updated_at = NOW()
		WHERE last_reset_date < $2
	`
	result, err := s.db.ExecContext(ctx, query,
		period.Today.Format(dateLayout), period.Start.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage periods: %w", err)
	}
	return result.RowsAffected()
}

// IncrementUsage implements entitlements.UsageStore
func (s *EntitlementStore) IncrementUsage(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET questions_used_this_month = questions_used_this_month + 1, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return entitlements.ErrNotProvisioned
	}
	return nil
}

// FindByCustomerID implements entitlements.SubscriptionStore
func (s *EntitlementStore) FindByCustomerID(ctx context.Context, customerID string) ([]string, error) {
	if customerID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE stripe_customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplySubscription implements entitlements.SubscriptionStore
func (s *EntitlementStore) ApplySubscription(ctx context.Context, change entitlements.SubscriptionChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var expiresAt interface{}
	if change.ExpiresAt != nil {
		expiresAt = *change.ExpiresAt
	}
	occurredAt := nullTime(change.OccurredAt)

	// The users row is the ordering point: an older event matches no row
	// and the transaction holds the row lock for the projection write.
	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET subscription_tier = $2,
		    subscription_status = $3,
		    monthly_limit = $4,
		    subscription_expires_at = COALESCE($5, subscription_expires_at),
		    stripe_subscription_id = COALESCE(NULLIF($6, ''), stripe_subscription_id),
		    stripe_customer_id = COALESCE(NULLIF($7, ''), stripe_customer_id),
		    last_event_at = GREATEST(last_event_at, $8),
		    updated_at = NOW()
		WHERE id = $1
		  AND ($8::timestamptz IS NULL OR last_event_at IS NULL OR last_event_at <= $8)
	`,
		change.UserID,
		string(change.Tier),
		string(change.Status),
		change.Tier.MonthlyLimit(),
		expiresAt,
		change.ExternalSubscriptionID,
		change.ExternalCustomerID,
		occurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, change.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user %s: %w", change.UserID, err)
		}
		if !exists {
			return entitlements.ErrNotProvisioned
		}
		return entitlements.ErrStaleChange
	}

	if change.ExternalSubscriptionID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_subscriptions (
				user_id, stripe_subscription_id, stripe_customer_id,
				status, tier, price_id, current_period_end, last_event_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (stripe_subscription_id) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    stripe_customer_id = COALESCE(NULLIF(EXCLUDED.stripe_customer_id, ''), user_subscriptions.stripe_customer_id),
			    status = EXCLUDED.status,
			    tier = EXCLUDED.tier,
			    price_id = COALESCE(NULLIF(EXCLUDED.price_id, ''), user_subscriptions.price_id),
			    current_period_end = COALESCE(EXCLUDED.current_period_end, user_subscriptions.current_period_end),
			    last_event_at = GREATEST(user_subscriptions.last_event_at, EXCLUDED.last_event_at),
			    updated_at = NOW()
		`,
			change.UserID,
			change.ExternalSubscriptionID,
			change.ExternalCustomerID,
			change.ProviderStatus,
			string(change.Tier),
			change.PriceID,
			expiresAt,
			occurredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

// RevertToFree implements entitlements.SubscriptionStore
func (s *EntitlementStore) RevertToFree(ctx context.Context, userID, subscriptionID string, occurredAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET subscription_tier = $2,
		    subscription_status = $3,
		    monthly_limit = $4,
		    subscription_expires_at = NULL,
		    stripe_subscription_id = NULL,
		    last_event_at = GREATEST(last_event_at, $5),
		    updated_at = NOW()
		WHERE id = $1
	`, userID, string(entitlements.TierFree), string(entitlements.StatusCanceled), entitlements.FreeMonthlyLimit, nullTime(occurredAt))
	if err != nil {
		return fmt.Errorf("failed to downgrade user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return entitlements.ErrNotProvisioned
	}

	if subscriptionID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE user_subscriptions
			SET status = 'canceled',
			    last_event_at = GREATEST(last_event_at, $2),
			    updated_at = NOW()
			WHERE stripe_subscription_id = $1
		`, subscriptionID, nullTime(occurredAt))
		if err != nil {
			return fmt.Errorf("failed to cancel subscription row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit downgrade: %w", err)
	}
	return nil
}

// Provision implements entitlements.ProvisioningStore
func (s *EntitlementStore) Provision(ctx context.Context, profile entitlements.Profile, today time.Time) (*entitlements.Record, error) {
	query := `
		INSERT INTO users (id, email, username, full_name, avatar_url, last_reset_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    username = EXCLUDED.username,
		    full_name = EXCLUDED.full_name,
		    avatar_url = EXCLUDED.avatar_url,
		    updated_at = NOW()
		RETURNING ` + userColumns

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query,
		profile.UserID,
		profile.Email,
		profile.Username,
		profile.FullName,
		profile.AvatarURL,
		today.Format(dateLayout),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to provision user %s: %w", profile.UserID, err)
	}
	return rec, nil
}

// MigrateLegacyTiers implements entitlements.MigrationStore
func (s *EntitlementStore) MigrateLegacyTiers(ctx context.Context) (entitlements.MigrationReport, error) {
	report := entitlements.MigrationReport{Migrated: make(map[string]int64)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	mapping := entitlements.LegacyTierMapping()
	legacy := make([]string, 0, len(mapping))
	for name := range mapping {
		legacy = append(legacy, name)
	}
	sort.Strings(legacy)

	for _, name := range legacy {
		target := mapping[name]
		result, err := tx.ExecContext(ctx, `
			UPDATE users
			SET subscription_tier = $1, monthly_limit = $2, updated_at = NOW()
			WHERE subscription_tier = $3
		`, string(target), target.MonthlyLimit(), name)
		if err != nil {
			return report, fmt.Errorf("failed to migrate %s users: %w", name, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return report, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			report.Migrated[name] = n
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET monthly_limit = CASE WHEN subscription_tier = $1 THEN $2 ELSE $3 END,
		    updated_at = NOW()
		WHERE monthly_limit <> CASE WHEN subscription_tier = $1 THEN $2 ELSE $3 END
	`, string(entitlements.TierPro), entitlements.Unlimited, entitlements.FreeMonthlyLimit)
	if err != nil {
		return report, fmt.Errorf("failed to repair monthly limits: %w", err)
	}
	if report.LimitsRepaired, err = result.RowsAffected(); err != nil {
		return report, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("failed to commit migration: %w", err)
	}
	return report, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

var _ entitlements.Store = (*EntitlementStore)(nil)
