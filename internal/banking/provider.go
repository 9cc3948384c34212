// Package banking は銀行アグリゲーターとの連携を抽象化する。
// プロバイダーごとのOAuthフロー・口座・取引APIを正規化された金融モデルに変換し、
// 国コードに応じて適切なプロバイダーを選択する。
package banking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/subtrack/internal/model"
)

var (
	// ErrUnsupportedCountry は指定国に対応するプロバイダーが存在しないことを示す。
	ErrUnsupportedCountry = errors.New("unsupported country")
	// ErrProviderNotImplemented はプロバイダーは登録済みだが連携処理が未実装であることを示す。
	ErrProviderNotImplemented = errors.New("provider not implemented")
	// ErrTokenExchangeFailed は認可コードからアクセストークンへの交換失敗を示す。
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrProviderUnavailable はプロバイダーAPIが成功以外のステータスを返したことを示す。
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidState はOAuth stateの改ざん・形式不正・期限切れを示す。
	ErrInvalidState = errors.New("invalid link state")
	// ErrLinkSessionExpired は連携セッションが期限切れまたは使用済みであることを示す。
	ErrLinkSessionExpired = errors.New("link session expired or already used")
	// ErrLinkUserMismatch は連携セッションがログイン中のユーザーのものではないことを示す。
	ErrLinkUserMismatch = errors.New("link session belongs to another user")
)

// ProviderError はプロバイダー操作の失敗をプロバイダーキーと操作名付きで表す。
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// LinkRequest は銀行連携開始時にプロバイダーが発行する認可リクエスト。
type LinkRequest struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

// Credential はトークン交換で得たアクセス資格情報。
// ログやエラーメッセージに値が出力されないよう、String()は常に伏せ字を返す。
type Credential struct {
	AccessToken  string
	RefreshToken string
}

func (c Credential) String() string {
	return "Credential{redacted}"
}

// GoString は%#v出力でも値を伏せる。
func (c Credential) GoString() string {
	return c.String()
}

// Provider は銀行アグリゲーター1社分のアダプター。
// 起動時に1回生成され、全リクエストで読み取り専用に共有される。
type Provider interface {
	// Key はプロバイダーを識別するキー（例: "truelayer"）を返す。
	Key() string
	// DisplayName は表示用のプロバイダー名を返す。
	DisplayName() string
	// SupportedCountries は対応国コードの許可リスト（大文字）を返す。
	SupportedCountries() []string
	// Implemented は連携処理が実装済みかを返す。
	Implemented() bool

	// CreateLinkRequest は認可URLとstateを発行する。
	CreateLinkRequest(ctx context.Context, userID, countryCode string) (*LinkRequest, error)
	// ExchangeCode は認可コードをアクセス資格情報に交換する。
	ExchangeCode(ctx context.Context, code string) (*Credential, error)
	// FetchAccounts は口座一覧を取得する。
	FetchAccounts(ctx context.Context, cred *Credential) ([]model.Account, error)
	// FetchTransactions は指定口座の取引を取得する。
	// 一部口座の取得失敗はスキップされ、取得できた分のみを日付降順で返す。
	FetchTransactions(ctx context.Context, cred *Credential, accountIDs []string, dateRange model.DateRange) ([]model.Transaction, error)
	// ListInstitutions は指定国の金融機関カタログを返す。失敗することはない。
	ListInstitutions(countryCode string) []model.Institution
}

// Supports はプロバイダーが指定国に対応しているかを大文字小文字を区別せずに判定する。
func Supports(p Provider, countryCode string) bool {
	code := strings.TrimSpace(countryCode)
	if code == "" {
		return false
	}
	return lo.ContainsBy(p.SupportedCountries(), func(c string) bool {
		return strings.EqualFold(c, code)
	})
}
