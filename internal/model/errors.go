// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, banking, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnsupportedCountry     = "UNSUPPORTED_COUNTRY"
	ErrCodeProviderNotImplemented = "PROVIDER_NOT_IMPLEMENTED"
	ErrCodeProviderUnavailable    = "PROVIDER_UNAVAILABLE"
	ErrCodeTokenExchangeFailed    = "TOKEN_EXCHANGE_FAILED"
	ErrCodeLinkSessionInvalid     = "LINK_SESSION_INVALID"
	ErrCodeLinkDenied             = "LINK_DENIED"
	ErrCodeInvalidCountry         = "INVALID_COUNTRY"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeUnauthenticated        = "UNAUTHENTICATED"
	ErrCodeCSRFInvalid            = "CSRF_INVALID"
	ErrCodeRateLimited            = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewUnsupportedCountryError は対応プロバイダーが存在しない国のエラーを生成する。
func NewUnsupportedCountryError(country string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedCountry,
		Message:  fmt.Sprintf("この国の銀行連携には対応していません: %s", country),
		Category: "banking",
		Action:   "対応国の一覧を確認してください。",
	}
}

// NewProviderNotImplementedError はプロバイダーは存在するが未実装の場合のエラーを生成する。
func NewProviderNotImplementedError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotImplemented,
		Message:  fmt.Sprintf("銀行連携プロバイダー %s は現在準備中です。", provider),
		Category: "banking",
		Action:   "対応開始までお待ちいただくか、別の国の口座をお試しください。",
	}
}

// NewProviderUnavailableError は銀行連携プロバイダーとの通信に失敗した場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "銀行連携サービスに接続できませんでした。",
		Category: "banking",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTokenExchangeFailedError は認可コードの交換に失敗した場合のエラーを生成する。
func NewTokenExchangeFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  "銀行の認証を完了できませんでした。",
		Category: "banking",
		Action:   "もう一度銀行連携をやり直してください。",
	}
}

// NewLinkSessionInvalidError は連携セッションが無効・期限切れ・使用済みの場合のエラーを生成する。
func NewLinkSessionInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkSessionInvalid,
		Message:  "銀行連携セッションが無効か期限切れです。",
		Category: "banking",
		Action:   "最初から銀行連携をやり直してください。",
	}
}

// NewLinkDeniedError は利用者が銀行側で同意しなかった、または連携先のユーザーが一致しない場合のエラーを生成する。
func NewLinkDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkDenied,
		Message:  "銀行連携が許可されませんでした。",
		Category: "banking",
		Action:   "銀行の画面で連携を許可してから、もう一度お試しください。",
	}
}

// NewInvalidCountryError は国コードの形式が不正な場合のエラーを生成する。
func NewInvalidCountryError(country string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCountry,
		Message:  fmt.Sprintf("無効な国コードです: %q", country),
		Category: "validation",
		Action:   "ISO 3166-1 alpha-2 形式の国コード（例: GB）を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthenticatedError はセッションが無い・無効な場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はリクエスト回数の上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
