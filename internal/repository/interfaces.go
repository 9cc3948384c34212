// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
)

// UserRepository はユーザーと契約状態の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByCustomerID は決済プロセッサーの顧客IDでユーザーを検索する。
	FindByCustomerID(ctx context.Context, customerID string) (*model.User, error)
	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
	// UpdateEntitlement はプラン・状態・有効期限を上書きする。
	UpdateEntitlement(ctx context.Context, userID string, state model.EntitlementState) error
	// LinkCustomerID は顧客IDが未設定の場合のみ設定する。設定した場合はtrueを返す。
	LinkCustomerID(ctx context.Context, userID, customerID string) (bool, error)
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LinkSessionRepository は銀行連携セッションの永続化インターフェース。
type LinkSessionRepository interface {
	// Create は連携セッションを作成する。
	Create(ctx context.Context, session *model.LinkSession) error
	// Consume はuserIDが所有する未期限の連携セッションを削除して返す。
	// 存在しない・期限切れ・消費済みの場合はnilを返す。同じセッションは一度しか返らない。
	Consume(ctx context.Context, stateHash, userID string, now time.Time) (*model.LinkSession, error)
	// DeleteExpired は期限切れの連携セッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TransactionRepository は正規化済み銀行取引の永続化インターフェース。
type TransactionRepository interface {
	// UpsertTransactions はプロバイダーと取引IDをキーに保存し、保存件数を返す。
	UpsertTransactions(ctx context.Context, userID string, txs []model.Transaction) (int, error)
	// ListByUser はユーザーの取引を日付降順で返す。
	ListByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error)
}

// PaymentHistoryRepository は支払い履歴の永続化インターフェース。
type PaymentHistoryRepository interface {
	// Upsert は外部イベント参照をキーに1行だけ保存する。既存行は状態と金額のみ更新する。
	Upsert(ctx context.Context, record *model.PaymentHistoryRecord) error
	// ListByUser はユーザーの支払い履歴を新しい順に返す。
	ListByUser(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error)
}

// WebhookEventRepository は受信Webhookイベントの永続化インターフェース。
type WebhookEventRepository interface {
	// Record はイベントを記録する。既に記録済みの場合は挿入せず、処理済みかどうかを返す。
	Record(ctx context.Context, event *model.WebhookEvent) (processed bool, err error)
	// MarkProcessed はイベントを処理済みにする。
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// DeleteProcessedBefore は指定時刻より前に処理済みになったイベントを削除する。
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CheckoutSessionRepository はチェックアウト追跡行の永続化インターフェース。
type CheckoutSessionRepository interface {
	// MarkCompleted は追跡行を完了にする。行が無い場合は作成する。
	MarkCompleted(ctx context.Context, sessionID, userID string, plan model.PlanType, at time.Time) error
	// MarkExpired は未完了の追跡行を期限切れにする。対象が無い場合はfalseを返す。
	MarkExpired(ctx context.Context, sessionID string, at time.Time) (bool, error)
}
