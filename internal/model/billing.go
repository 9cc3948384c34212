package model

import (
	"encoding/json"
	"time"
)

// PlanType はユーザーの契約プラン種別。
type PlanType string

const (
	PlanNone    PlanType = "none"
	PlanOneTime PlanType = "one_time"
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// ParsePlanType は文字列をPlanTypeに変換する。未知の値の場合はfalseを返す。
func ParsePlanType(s string) (PlanType, bool) {
	switch PlanType(s) {
	case PlanOneTime, PlanMonthly, PlanYearly, PlanNone:
		return PlanType(s), true
	default:
		return PlanNone, false
	}
}

// Term はプランの有効期間を返す。期間の定めがないプランはfalseを返す。
func (p PlanType) Term() (time.Duration, bool) {
	switch p {
	case PlanOneTime, PlanYearly:
		return 365 * 24 * time.Hour, true
	case PlanMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// EntitlementStatus はエンタイトルメントの状態。
type EntitlementStatus string

const (
	StatusNone      EntitlementStatus = "none"
	StatusActive    EntitlementStatus = "active"
	StatusPastDue   EntitlementStatus = "past_due"
	StatusCancelled EntitlementStatus = "cancelled"
)

// EntitlementState はユーザーごとの契約状態。
// Status=activeの場合、ExpiresAtはnil（無期限）または書き込み時点で未来でなければならない。
type EntitlementState struct {
	PlanType   PlanType
	Status     EntitlementStatus
	ExpiresAt  *time.Time
	CustomerID *string
}

// LedgerStatus は支払い履歴レコードの状態。
type LedgerStatus string

const (
	LedgerCompleted LedgerStatus = "completed"
	LedgerFailed    LedgerStatus = "failed"
)

// PaymentHistoryRecord は追記専用の支払い履歴。
// ExternalEventRefが一意キーであり、同一キーへの再書き込みは状態の訂正のみ許可する。
type PaymentHistoryRecord struct {
	ID               string
	UserID           string
	ExternalEventRef string
	AmountMinorUnits int64
	Currency         string
	PlanType         PlanType
	Status           LedgerStatus
	CreatedAt        time.Time
}

// WebhookEvent は決済プロセッサーから受信したイベント。
// IDで同一性を判定し、同じIDの再受信はリプレイとして扱う。
type WebhookEvent struct {
	ID          string
	Type        string
	OccurredAt  time.Time
	RawPayload  json.RawMessage
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// CheckoutStatus はチェックアウト追跡行の状態。
type CheckoutStatus string

const (
	CheckoutOpen      CheckoutStatus = "open"
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutExpired   CheckoutStatus = "expired"
)
