package model

import (
	"strings"
	"time"
)

// AccountType は正規化された口座種別。
type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeOther      AccountType = "other"
)

// Account はプロバイダー非依存の口座情報。
type Account struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Type        AccountType `json:"type"`
	Currency    string      `json:"currency"`
	ProviderID  string      `json:"provider_id"`
}

// Transaction はプロバイダー非依存の取引明細。
// AmountMinorUnitsは出金が負、入金が正。Dateは日付単位（UTCの0時）で保持する。
type Transaction struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	Date             time.Time `json:"date"`
	Description      string    `json:"description"`
	MerchantName     *string   `json:"merchant_name,omitempty"`
	Categories       []string  `json:"categories"`
	ProviderID       string    `json:"provider_id"`
	RunningBalance   *int64    `json:"running_balance,omitempty"`
}

// IsDebit は出金取引かどうかを返す。
func (t Transaction) IsDebit() bool {
	return t.AmountMinorUnits < 0
}

// Institution は金融機関カタログのエントリ。参照専用の静的データ。
type Institution struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CountryCode string  `json:"country_code"`
	ProviderID  string  `json:"provider_id"`
	LogoURL     *string `json:"logo_url,omitempty"`
}

// DateRange は取引取得期間を表す。From、Toともに日付単位で両端を含む。
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange は直近days日分の期間をtoを終端として生成する。
func NewDateRange(to time.Time, days int) DateRange {
	end := TruncateToDate(to)
	return DateRange{
		From: end.AddDate(0, 0, -days),
		To:   end,
	}
}

// TruncateToDate は時刻をUTCの日付境界に切り捨てる。
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeCountryCode は国コードを大文字に揃える。
func NormalizeCountryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CandidateSubscription はサブスクリプション検出器が返す候補。
// 検出ロジックはこのサービスの外部にあり、型のみを共有する。
type CandidateSubscription struct {
	MerchantName     string    `json:"merchant_name"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	Interval         string    `json:"interval"`
	LastChargedOn    time.Time `json:"last_charged_on"`
}
