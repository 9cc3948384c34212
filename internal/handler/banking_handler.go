package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/model"
)

// BankingServiceInterface は銀行連携ハンドラーが必要とするサービスインターフェース。
type BankingServiceInterface interface {
	// StartLink は連携を開始し、認可URLを返す。
	StartLink(ctx context.Context, userID, countryCode, preferred string) (*banking.LinkStart, error)
	// CompleteLink はOAuthコールバックを処理し、口座と取引を取得する。
	CompleteLink(ctx context.Context, sessionUserID, state, code string) (*banking.LinkResult, error)
	// AbortLink はプロバイダーがエラーを返した、sessionUserIDが所有する連携セッションを破棄する。
	AbortLink(ctx context.Context, sessionUserID, state string)
	// ListProviders は国コードに対応するプロバイダーを返す。
	ListProviders(countryCode string) ([]banking.ProviderInfo, error)
	// ListInstitutions は国コードの金融機関カタログを返す。
	ListInstitutions(countryCode, provider string) ([]model.Institution, error)
}

// TransactionLister は保存済み取引の取得に必要なインターフェース。
type TransactionLister interface {
	ListByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error)
}

// BankingHandlerConfig は銀行連携ハンドラーの設定。
type BankingHandlerConfig struct {
	BaseURL      string // コールバック後のリダイレクト先のベースURL
	LookbackDays int    // 取引一覧の既定かつ最大の取得日数
}

// BankingHandler は銀行連携関連のHTTPハンドラー。
type BankingHandler struct {
	service      BankingServiceInterface
	transactions TransactionLister
	config       BankingHandlerConfig
	now          func() time.Time
}

// NewBankingHandler はBankingHandlerを生成する。
func NewBankingHandler(service BankingServiceInterface, transactions TransactionLister, config BankingHandlerConfig) *BankingHandler {
	if config.LookbackDays <= 0 {
		config.LookbackDays = 365
	}
	return &BankingHandler{
		service:      service,
		transactions: transactions,
		config:       config,
		now:          time.Now,
	}
}

// startLinkRequest は連携開始リクエストのボディ。
type startLinkRequest struct {
	Country  string `json:"country"`
	Provider string `json:"provider"`
}

// startLinkResponse は連携開始のAPIレスポンス。
type startLinkResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	ExpiresAt        time.Time `json:"expires_at"`
	Provider         string    `json:"provider"`
}

// ListProviders は国コードに対応するプロバイダーの一覧を返す。
// GET /api/banking/providers?country=GB
func (h *BankingHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	country, ok := countryParam(w, r.URL.Query().Get("country"))
	if !ok {
		return
	}

	providers, err := h.service.ListProviders(country)
	if err != nil {
		handleServiceError(w, r, err, country)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"country":   country,
		"providers": providers,
	})
}

// ListInstitutions は国コードの金融機関一覧を返す。
// GET /api/banking/institutions?country=GB&provider=truelayer
func (h *BankingHandler) ListInstitutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	country, ok := countryParam(w, q.Get("country"))
	if !ok {
		return
	}

	institutions, err := h.service.ListInstitutions(country, q.Get("provider"))
	if err != nil {
		handleServiceError(w, r, err, country)
		return
	}
	if institutions == nil {
		institutions = []model.Institution{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"country":      country,
		"institutions": institutions,
	})
}

// StartLink は銀行連携を開始し、認可URLを返す。
// POST /api/banking/link
func (h *BankingHandler) StartLink(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	var req startLinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	country, ok := countryParam(w, req.Country)
	if !ok {
		return
	}

	start, err := h.service.StartLink(r.Context(), userID, country, req.Provider)
	if err != nil {
		handleServiceError(w, r, err, country)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, startLinkResponse{
		AuthorizationURL: start.AuthorizationURL,
		ExpiresAt:        start.ExpiresAt.UTC(),
		Provider:         start.Provider,
	})
}

// Callback はプロバイダーからのOAuthリダイレクトを処理する。
// 結果は常にフロントエンドの取込画面へのリダイレクトで返す。
// GET /banking/callback?code=...&state=... または ?error=...
func (h *BankingHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("bank link denied by provider",
			slog.String("provider_error", providerErr),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		// 未ログインの場合はセッションの失効に任せる
		if userID, err := middleware.UserIDFromContext(r.Context()); err == nil && state != "" {
			h.service.AbortLink(r.Context(), userID, state)
		}
		h.redirectError(w, r, model.ErrCodeLinkDenied)
		return
	}

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.redirectError(w, r, model.ErrCodeUnauthenticated)
		return
	}

	code := q.Get("code")
	if code == "" || state == "" {
		h.redirectError(w, r, model.ErrCodeLinkSessionInvalid)
		return
	}

	result, err := h.service.CompleteLink(r.Context(), userID, state, code)
	if err != nil {
		reason := model.ErrCodeInternal
		if apiErr := apiErrorFor(err, ""); apiErr != nil {
			reason = apiErr.Code
		}
		slog.Warn("bank link callback failed",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, reason)
		return
	}

	v := url.Values{}
	v.Set("status", "success")
	v.Set("accounts", strconv.Itoa(len(result.Accounts)))
	v.Set("transactions", strconv.Itoa(len(result.Transactions)))
	http.Redirect(w, r, h.bankScanURL(v), http.StatusTemporaryRedirect)
}

// ListTransactions は保存済みの正規化取引を新しい順に返す。
// GET /api/banking/transactions?days=90
func (h *BankingHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	days := h.config.LookbackDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > h.config.LookbackDays {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("daysは1以上"+strconv.Itoa(h.config.LookbackDays)+"以下で指定してください。"))
			return
		}
		days = n
	}

	since := model.NewDateRange(h.now(), days).From
	txs, err := h.transactions.ListByUser(r.Context(), userID, since)
	if err != nil {
		handleServiceError(w, r, err, "")
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"since":        since.Format(time.DateOnly),
		"transactions": txs,
	})
}

func (h *BankingHandler) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	v := url.Values{}
	v.Set("status", "error")
	v.Set("reason", reason)
	http.Redirect(w, r, h.bankScanURL(v), http.StatusTemporaryRedirect)
}

func (h *BankingHandler) bankScanURL(v url.Values) string {
	return h.config.BaseURL + "/bank-scan?" + v.Encode()
}

// countryParam は国コードを正規化して検証する。不正な場合は400を書き込みfalseを返す。
func countryParam(w http.ResponseWriter, raw string) (string, bool) {
	country := model.NormalizeCountryCode(raw)
	if !isCountryCode(country) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCountryError(raw))
		return "", false
	}
	return country, true
}

// isCountryCode はISO 3166-1 alpha-2の形式（英大文字2文字）かを判定する。
func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
