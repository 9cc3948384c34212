package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresCheckoutSessionRepo はPostgreSQLを使用したチェックアウト追跡リポジトリ。
type PostgresCheckoutSessionRepo struct {
	db *sql.DB
}

// NewPostgresCheckoutSessionRepo はPostgresCheckoutSessionRepoを生成する。
func NewPostgresCheckoutSessionRepo(db *sql.DB) *PostgresCheckoutSessionRepo {
	return &PostgresCheckoutSessionRepo{db: db}
}

// MarkCompleted は追跡行を完了にする。行が無い場合は完了状態で作成する。
func (r *PostgresCheckoutSessionRepo) MarkCompleted(ctx context.Context, sessionID, userID string, plan model.PlanType, at time.Time) error {
	var user sql.NullString
	if userID != "" {
		user = sql.NullString{String: userID, Valid: true}
	}
	if plan == "" {
		plan = model.PlanNone
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkout_sessions (id, user_id, plan_type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   user_id = COALESCE(EXCLUDED.user_id, checkout_sessions.user_id),
		   plan_type = EXCLUDED.plan_type,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		sessionID, user, string(plan), string(model.CheckoutCompleted), at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark checkout completed: %w", err)
	}
	return nil
}

// MarkExpired は未完了の追跡行を期限切れにする。対象行が無い場合はfalseを返す。
// 完了済みの行は変更しない。
func (r *PostgresCheckoutSessionRepo) MarkExpired(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		sessionID, string(model.CheckoutExpired), at, string(model.CheckoutOpen),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark checkout expired: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ CheckoutSessionRepository = (*PostgresCheckoutSessionRepo)(nil)
