package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/subtrack/internal/entitlement"
	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, plan_type, subscription_status, expires_at, payment_customer_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user       model.User
		plan       string
		status     string
		expiresAt  sql.NullTime
		customerID sql.NullString
	)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &plan, &status, &expiresAt, &customerID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}

	user.Entitlement.PlanType = model.PlanType(plan)
	user.Entitlement.Status = model.EntitlementStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		user.Entitlement.ExpiresAt = &t
	}
	if customerID.Valid {
		s := customerID.String
		user.PaymentCustomerID = &s
		user.Entitlement.CustomerID = &s
	}
	return &user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// UUID形式でないIDは該当なしとして扱う。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	user, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `lower(email) = lower($1)`, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByCustomerID は顧客IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	user, err := r.findOne(ctx, `payment_customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by customer ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。IDが空の場合は生成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	plan := user.Entitlement.PlanType
	if plan == "" {
		plan = model.PlanNone
	}
	status := user.Entitlement.Status
	if status == "" {
		status = model.StatusNone
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, plan_type, subscription_status, expires_at, payment_customer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, string(plan), string(status),
		nullTime(user.Entitlement.ExpiresAt), nullString(user.PaymentCustomerID),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateEntitlement はプラン・状態・有効期限を上書きする。顧客IDは変更しない。
// 対象ユーザーが存在しない場合はentitlement.ErrUserNotFoundを返す。
func (r *PostgresUserRepo) UpdateEntitlement(ctx context.Context, userID string, state model.EntitlementState) error {
	plan := state.PlanType
	if plan == "" {
		plan = model.PlanNone
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET plan_type = $2, subscription_status = $3, expires_at = $4, updated_at = now()
		 WHERE id = $1`,
		userID, string(plan), string(state.Status), nullTime(state.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update entitlement: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", entitlement.ErrUserNotFound, userID)
	}
	return nil
}

// LinkCustomerID は顧客IDが未設定の場合のみ設定する。
// 同時に別の顧客IDで紐付けが試みられても、先に書き込んだ方だけが残る。
func (r *PostgresUserRepo) LinkCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET payment_customer_id = $2, updated_at = now()
		 WHERE id = $1 AND payment_customer_id IS NULL`,
		userID, customerID,
	)
	if isUniqueViolation(err) {
		// 同じ顧客IDが既に別ユーザーに紐付いている
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to link customer ID: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
