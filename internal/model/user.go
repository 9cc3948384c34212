// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// エンタイトルメント状態はentitlementパッケージのみが更新する。
type User struct {
	ID                string
	Email             string
	Name              string
	PaymentCustomerID *string // 決済プロセッサー側の顧客ID。未紐付けの場合はnil
	Entitlement       EntitlementState
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
