// Package truelayer はTrueLayer Data APIの銀行連携アダプターを提供する。
// OAuth認可フロー・口座取得・取引取得を行い、正規化された金融モデルに変換する。
package truelayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/security"
)

const (
	// ProviderKey はRouterに登録するプロバイダーキー。
	ProviderKey = "truelayer"

	// DefaultAuthURL は本番環境の認可サーバー。
	DefaultAuthURL = "https://auth.truelayer.com"
	// DefaultAPIURL は本番環境のData APIのベースURL。
	DefaultAPIURL = "https://api.truelayer.com/data/v1"

	userAgent = "Subtrack/1.0"
)

// DefaultScopes は要求するOAuthスコープ。
var DefaultScopes = []string{
	"info", "accounts", "balance", "cards", "transactions",
	"direct_debits", "standing_orders", "offline_access",
}

// supportedCountries はTrueLayerで連携可能な国の許可リスト。
var supportedCountries = []string{
	"GB", "IE", "FR", "ES", "IT", "DE", "NL", "BE", "AT", "PT", "PL", "LT", "FI",
}

// Config はアダプターの設定。HTTPClientとSignerは必須。
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	APIURL       string
	Scopes       []string

	HTTPClient *http.Client
	Signer     *banking.StateSigner
	Sanitizer  security.TextSanitizer
	Metrics    metrics.ProviderRecorder
	Logger     *slog.Logger
}

// Adapter はTrueLayerのbanking.Provider実装。
type Adapter struct {
	clientID     string
	clientSecret string
	redirectURL  string
	authURL      string
	apiURL       string
	scopes       []string

	httpClient *http.Client
	signer     *banking.StateSigner
	sanitizer  security.TextSanitizer
	metrics    metrics.ProviderRecorder
	logger     *slog.Logger
}

// New はAdapterを生成する。未指定の項目は既定値で補う。
func New(cfg Config) *Adapter {
	a := &Adapter{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authURL:      strings.TrimRight(cfg.AuthURL, "/"),
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		scopes:       cfg.Scopes,
		httpClient:   cfg.HTTPClient,
		signer:       cfg.Signer,
		sanitizer:    cfg.Sanitizer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	if a.authURL == "" {
		a.authURL = DefaultAuthURL
	}
	if a.apiURL == "" {
		a.apiURL = DefaultAPIURL
	}
	if len(a.scopes) == 0 {
		a.scopes = DefaultScopes
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if a.sanitizer == nil {
		a.sanitizer = security.NewDescriptionSanitizer()
	}
	if a.metrics == nil {
		a.metrics = metrics.Nop{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

func (a *Adapter) Key() string                  { return ProviderKey }
func (a *Adapter) DisplayName() string          { return "TrueLayer" }
func (a *Adapter) SupportedCountries() []string { return supportedCountries }
func (a *Adapter) Implemented() bool            { return true }

// CreateLinkRequest は国に応じたプロバイダーヒント付きの認可URLを組み立てる。
// 外部呼び出しは行わない。
func (a *Adapter) CreateLinkRequest(_ context.Context, userID, countryCode string) (*banking.LinkRequest, error) {
	country := model.NormalizeCountryCode(countryCode)
	if !banking.Supports(a, country) {
		return nil, banking.ErrUnsupportedCountry
	}

	state, expiresAt, err := a.signer.Issue(userID, ProviderKey, country)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.clientID)
	q.Set("scope", strings.Join(a.scopes, " "))
	q.Set("redirect_uri", a.redirectURL)
	q.Set("providers", providerHint(country))
	q.Set("state", state)

	return &banking.LinkRequest{
		AuthorizationURL: a.authURL + "/?" + q.Encode(),
		State:            state,
		ExpiresAt:        expiresAt,
	}, nil
}

// providerHint は認可画面に表示する銀行群を国で絞り込むヒントを返す。
func providerHint(country string) string {
	prefix := strings.ToLower(country)
	if country == "GB" {
		prefix = "uk"
	}
	return prefix + "-ob-all " + prefix + "-oauth-all"
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// 失敗時のエラーにはHTTPステータスとプロバイダーのエラーコードのみを含め、
// クライアントシークレットや送信内容は含めない。
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (cred *banking.Credential, err error) {
	start := time.Now()
	defer func() { a.observe("exchange", start, err) }()

	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", banking.ErrTokenExchangeFailed)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("redirect_uri", a.redirectURL)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL+"/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request", banking.ErrTokenExchangeFailed)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Error("TrueLayerのトークン交換に失敗しました", slog.String("error", redactURLError(err)))
		return nil, fmt.Errorf("%w: request failed", banking.ErrTokenExchangeFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response", banking.ErrTokenExchangeFailed)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		a.logger.Warn("TrueLayerがトークン交換を拒否しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("provider_error", e.Error),
		)
		if e.Error != "" {
			return nil, fmt.Errorf("%w: status %d (%s)", banking.ErrTokenExchangeFailed, resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("%w: status %d", banking.ErrTokenExchangeFailed, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: malformed token response", banking.ErrTokenExchangeFailed)
	}

	return &banking.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

// getJSON はBearer認証付きでData APIを呼び出し、resultsをoutにデコードする。
// 2xx以外はErrProviderUnavailableとして扱う。
func (a *Adapter) getJSON(ctx context.Context, cred *banking.Credential, path string, query url.Values, out any) error {
	if cred == nil || cred.AccessToken == "" {
		return fmt.Errorf("%w: missing credential", banking.ErrProviderUnavailable)
	}

	endpoint := a.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", banking.ErrProviderUnavailable, redactURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// ボディを読み捨てて接続を再利用可能にする
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", banking.ErrProviderUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: レスポンスJSONのパースに失敗しました: %v", banking.ErrProviderUnavailable, err)
	}
	return nil
}

// observe はプロバイダー呼び出しの結果をメトリクスに記録する。
func (a *Adapter) observe(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	a.metrics.RecordProviderRequest(ProviderKey, op, outcome, time.Since(start))
}

// redactURLError はurl.Errorからクエリ文字列を除いたメッセージを返す。
func redactURLError(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return fmt.Sprintf("%s %s: %v", ue.Op, u.String(), ue.Err)
		}
	}
	return err.Error()
}

var _ banking.Provider = (*Adapter)(nil)
