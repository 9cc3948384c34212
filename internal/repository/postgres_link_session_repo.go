package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresLinkSessionRepo はPostgreSQLを使用した銀行連携セッションリポジトリ。
type PostgresLinkSessionRepo struct {
	db *sql.DB
}

// NewPostgresLinkSessionRepo はPostgresLinkSessionRepoを生成する。
func NewPostgresLinkSessionRepo(db *sql.DB) *PostgresLinkSessionRepo {
	return &PostgresLinkSessionRepo{db: db}
}

// Create は連携セッションを作成する。
func (r *PostgresLinkSessionRepo) Create(ctx context.Context, session *model.LinkSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO link_sessions (state_hash, user_id, provider, country_code, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.StateHash, session.UserID, session.Provider, session.CountryCode,
		session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create link session: %w", err)
	}
	return nil
}

// Consume はuserIDが所有する連携セッションを削除して返す。
// DELETE ... RETURNINGで取り出すため、同時に2つのコールバックが来ても片方しか取得できない。
// 他のユーザーのセッションには触れない。期限切れの行も削除するが、呼び出し元にはnilを返す。
func (r *PostgresLinkSessionRepo) Consume(ctx context.Context, stateHash, userID string, now time.Time) (*model.LinkSession, error) {
	session := &model.LinkSession{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM link_sessions
		 WHERE state_hash = $1 AND user_id = $2
		 RETURNING state_hash, user_id, provider, country_code, created_at, expires_at`,
		stateHash, userID,
	).Scan(&session.StateHash, &session.UserID, &session.Provider, &session.CountryCode,
		&session.CreatedAt, &session.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume link session: %w", err)
	}
	if session.Expired(now) {
		return nil, nil
	}
	return session, nil
}

// DeleteExpired は期限切れの連携セッションを削除し、削除件数を返す。
func (r *PostgresLinkSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM link_sessions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired link sessions: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ LinkSessionRepository = (*PostgresLinkSessionRepo)(nil)
