package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresWebhookEventRepo はPostgreSQLを使用したWebhookイベントリポジトリ。
type PostgresWebhookEventRepo struct {
	db *sql.DB
}

// NewPostgresWebhookEventRepo はPostgresWebhookEventRepoを生成する。
func NewPostgresWebhookEventRepo(db *sql.DB) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: db}
}

// Record はイベントを未処理として記録する。
// 同じIDのイベントが既にある場合は挿入せず、その処理済み状態を返す。
func (r *PostgresWebhookEventRepo) Record(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	payload := []byte(event.RawPayload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = receivedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, type, occurred_at, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Type, occurredAt, payload, receivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	var processedAt sql.NullTime
	err = r.db.QueryRowContext(ctx,
		`SELECT processed_at FROM webhook_events WHERE id = $1`,
		event.ID,
	).Scan(&processedAt)
	if err != nil {
		return false, fmt.Errorf("failed to read webhook event state: %w", err)
	}
	if processedAt.Valid {
		t := processedAt.Time
		event.ProcessedAt = &t
	}
	return processedAt.Valid, nil
}

// MarkProcessed はイベントを処理済みにする。既に処理済みの場合は最初の時刻を保持する。
func (r *PostgresWebhookEventRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed_at = COALESCE(processed_at, $2) WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// DeleteProcessedBefore は指定時刻より前に処理済みになったイベントを削除する。
// 未処理のイベントは再送に備えて残す。
func (r *PostgresWebhookEventRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE processed_at IS NOT NULL AND processed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed webhook events: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ WebhookEventRepository = (*PostgresWebhookEventRepo)(nil)
