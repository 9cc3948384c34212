package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresPaymentHistoryRepo はPostgreSQLを使用した支払い履歴リポジトリ。
type PostgresPaymentHistoryRepo struct {
	db *sql.DB
}

// NewPostgresPaymentHistoryRepo はPostgresPaymentHistoryRepoを生成する。
func NewPostgresPaymentHistoryRepo(db *sql.DB) *PostgresPaymentHistoryRepo {
	return &PostgresPaymentHistoryRepo{db: db}
}

// Upsert は外部イベント参照をキーに支払い履歴を1行だけ保存する。
// 既存行がある場合は状態と金額のみ更新し、作成日時やプランは変更しない。
func (r *PostgresPaymentHistoryRepo) Upsert(ctx context.Context, record *model.PaymentHistoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	plan := record.PlanType
	if plan == "" {
		plan = model.PlanNone
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO payment_history
		   (id, user_id, external_event_ref, amount_minor_units, currency, plan_type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (external_event_ref) DO UPDATE SET
		   status = EXCLUDED.status,
		   amount_minor_units = EXCLUDED.amount_minor_units
		 RETURNING id, created_at`,
		record.ID, record.UserID, record.ExternalEventRef, record.AmountMinorUnits,
		record.Currency, string(plan), string(record.Status), record.CreatedAt,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert payment history: %w", err)
	}
	return nil
}

// ListByUser はユーザーの支払い履歴を新しい順に返す。
func (r *PostgresPaymentHistoryRepo) ListByUser(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, external_event_ref, amount_minor_units, currency, plan_type, status, created_at
		 FROM payment_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}
	defer rows.Close()

	records := []model.PaymentHistoryRecord{}
	for rows.Next() {
		var (
			rec    model.PaymentHistoryRecord
			plan   string
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ExternalEventRef, &rec.AmountMinorUnits,
			&rec.Currency, &plan, &status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment history: %w", err)
		}
		rec.PlanType = model.PlanType(plan)
		rec.Status = model.LedgerStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment history: %w", err)
	}
	return records, nil
}

// compile-time interface check
var _ PaymentHistoryRepository = (*PostgresPaymentHistoryRepo)(nil)
