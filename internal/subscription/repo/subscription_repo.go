package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
)

// SubscriptionRepo reads the subscription projection that the billing workflow
// keeps up to date. This service never writes to it outside EnsureTable.
type SubscriptionRepo struct {
	db *sqlx.DB
}

func NewSubscriptionRepo(db *sqlx.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// EnsureTable creates the subscriptions projection table if it does not already exist.
// Column types are kept portable between postgres and sqlite.
func (r *SubscriptionRepo) EnsureTable(ctx context.Context) error {
	const tbl = `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id varchar(32) NOT NULL,
		plan_id varchar(64) NOT NULL DEFAULT '',
		status varchar(16) NOT NULL DEFAULT 'inactive',
		expires_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := r.db.ExecContext(ctx, tbl); err != nil {
		return err
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions (user_id, updated_at)`
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return err
	}
	return nil
}

// CurrentByUser returns the most recently updated subscription row for the user,
// or nil when the user never subscribed.
func (r *SubscriptionRepo) CurrentByUser(ctx context.Context, userID string) (*entity.State, error) {
	q := r.db.Rebind(`SELECT user_id, plan_id, status, expires_at FROM subscriptions
		WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`)
	var st entity.State
	if err := r.db.GetContext(ctx, &st, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}
