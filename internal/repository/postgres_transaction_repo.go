package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresTransactionRepo はPostgreSQLを使用した銀行取引リポジトリ。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

// UpsertTransactions はプロバイダーと取引IDをキーに取引を保存する。
// 同じ取引を再取得した場合は金額や説明などを最新の値で上書きする。
func (r *PostgresTransactionRepo) UpsertTransactions(ctx context.Context, userID string, txs []model.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	stmt, err := r.db.PrepareContext(ctx,
		`INSERT INTO bank_transactions
		   (provider, transaction_id, user_id, account_id, amount_minor_units, currency,
		    booked_on, description, merchant_name, categories, running_balance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (provider, transaction_id) DO UPDATE SET
		   amount_minor_units = EXCLUDED.amount_minor_units,
		   currency = EXCLUDED.currency,
		   booked_on = EXCLUDED.booked_on,
		   description = EXCLUDED.description,
		   merchant_name = EXCLUDED.merchant_name,
		   categories = EXCLUDED.categories,
		   running_balance = EXCLUDED.running_balance,
		   updated_at = now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare transaction upsert: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for _, tx := range txs {
		categories := tx.Categories
		if categories == nil {
			categories = []string{}
		}
		_, err := stmt.ExecContext(ctx,
			tx.ProviderID, tx.ID, userID, tx.AccountID, tx.AmountMinorUnits, tx.Currency,
			model.TruncateToDate(tx.Date), tx.Description, nullString(tx.MerchantName),
			pq.Array(categories), nullInt64(tx.RunningBalance),
		)
		if err != nil {
			return saved, fmt.Errorf("failed to upsert transaction %s: %w", tx.ID, err)
		}
		saved++
	}
	return saved, nil
}

// ListByUser はユーザーの取引を日付降順で返す。
func (r *PostgresTransactionRepo) ListByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, transaction_id, account_id, amount_minor_units, currency,
		        booked_on, description, merchant_name, categories, running_balance
		 FROM bank_transactions
		 WHERE user_id = $1 AND booked_on >= $2
		 ORDER BY booked_on DESC, transaction_id`,
		userID, model.TruncateToDate(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []model.Transaction{}
	for rows.Next() {
		var (
			tx       model.Transaction
			merchant sql.NullString
			balance  sql.NullInt64
		)
		if err := rows.Scan(&tx.ProviderID, &tx.ID, &tx.AccountID, &tx.AmountMinorUnits, &tx.Currency,
			&tx.Date, &tx.Description, &merchant, pq.Array(&tx.Categories), &balance); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Date = model.TruncateToDate(tx.Date)
		if merchant.Valid {
			s := merchant.String
			tx.MerchantName = &s
		}
		if balance.Valid {
			n := balance.Int64
			tx.RunningBalance = &n
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
