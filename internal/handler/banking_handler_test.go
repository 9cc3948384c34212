package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/model"
)

// --- モック定義 ---

// mockBankingService はBankingServiceInterfaceのモック実装。
type mockBankingService struct {
	startLinkFn        func(ctx context.Context, userID, countryCode, preferred string) (*banking.LinkStart, error)
	completeLinkFn     func(ctx context.Context, sessionUserID, state, code string) (*banking.LinkResult, error)
	abortLinkFn        func(ctx context.Context, sessionUserID, state string)
	listProvidersFn    func(countryCode string) ([]banking.ProviderInfo, error)
	listInstitutionsFn func(countryCode, provider string) ([]model.Institution, error)
}

func (m *mockBankingService) StartLink(ctx context.Context, userID, countryCode, preferred string) (*banking.LinkStart, error) {
	if m.startLinkFn != nil {
		return m.startLinkFn(ctx, userID, countryCode, preferred)
	}
	return &banking.LinkStart{}, nil
}

func (m *mockBankingService) CompleteLink(ctx context.Context, sessionUserID, state, code string) (*banking.LinkResult, error) {
	if m.completeLinkFn != nil {
		return m.completeLinkFn(ctx, sessionUserID, state, code)
	}
	return &banking.LinkResult{}, nil
}

func (m *mockBankingService) AbortLink(ctx context.Context, sessionUserID, state string) {
	if m.abortLinkFn != nil {
		m.abortLinkFn(ctx, sessionUserID, state)
	}
}

func (m *mockBankingService) ListProviders(countryCode string) ([]banking.ProviderInfo, error) {
	if m.listProvidersFn != nil {
		return m.listProvidersFn(countryCode)
	}
	return nil, nil
}

func (m *mockBankingService) ListInstitutions(countryCode, provider string) ([]model.Institution, error) {
	if m.listInstitutionsFn != nil {
		return m.listInstitutionsFn(countryCode, provider)
	}
	return nil, nil
}

// mockTransactionLister はTransactionListerのモック実装。
type mockTransactionLister struct {
	listByUserFn func(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error)
}

func (m *mockTransactionLister) ListByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, since)
	}
	return nil, nil
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// redirectQuery はリダイレクト先の/bank-scanのクエリを返すヘルパー。
func redirectQuery(t *testing.T, w *httptest.ResponseRecorder) url.Values {
	t.Helper()
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location header: %v", err)
	}
	if loc.Host != "app.example.com" || loc.Path != "/bank-scan" {
		t.Errorf("Location = %q, want https://app.example.com/bank-scan?...", loc.String())
	}
	return loc.Query()
}

func newTestBankingHandler(svc BankingServiceInterface, txs TransactionLister) *BankingHandler {
	if txs == nil {
		txs = &mockTransactionLister{}
	}
	return NewBankingHandler(svc, txs, BankingHandlerConfig{
		BaseURL:      "https://app.example.com",
		LookbackDays: 365,
	})
}

// --- GET /api/banking/providers ---

func TestBankingHandler_ListProviders_Success(t *testing.T) {
	svc := &mockBankingService{
		listProvidersFn: func(countryCode string) ([]banking.ProviderInfo, error) {
			if countryCode != "GB" {
				t.Errorf("countryCode = %q, want GB", countryCode)
			}
			return []banking.ProviderInfo{
				{Key: "truelayer", Name: "TrueLayer", Countries: []string{"GB"}, Implemented: true, Default: true},
				{Key: "nordigen", Name: "Nordigen", Countries: []string{"GB"}, Implemented: false},
			}, nil
		},
	}
	h := newTestBankingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/banking/providers?country=gb", nil)
	w := httptest.NewRecorder()
	h.ListProviders(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Country   string                 `json:"country"`
		Providers []banking.ProviderInfo `json:"providers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Country != "GB" || len(body.Providers) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if !body.Providers[0].Default || body.Providers[1].Implemented {
		t.Errorf("capability flags not preserved: %+v", body.Providers)
	}
}

func TestBankingHandler_ListProviders_CountryValidation(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantErr  string
	}{
		{"国コード未指定", "", http.StatusBadRequest, model.ErrCodeInvalidCountry},
		{"3文字", "?country=GBR", http.StatusBadRequest, model.ErrCodeInvalidCountry},
		{"数字", "?country=1A", http.StatusBadRequest, model.ErrCodeInvalidCountry},
		{"非対応国", "?country=JP", http.StatusUnprocessableEntity, model.ErrCodeUnsupportedCountry},
	}

	svc := &mockBankingService{
		listProvidersFn: func(countryCode string) ([]banking.ProviderInfo, error) {
			return nil, banking.ErrUnsupportedCountry
		},
	}
	h := newTestBankingHandler(svc, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/banking/providers"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ListProviders(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := parseAPIErrorResponse(t, w).Code; got != tt.wantErr {
				t.Errorf("code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

// --- GET /api/banking/institutions ---

func TestBankingHandler_ListInstitutions_PassesProviderFilter(t *testing.T) {
	var gotProvider string
	svc := &mockBankingService{
		listInstitutionsFn: func(countryCode, provider string) ([]model.Institution, error) {
			gotProvider = provider
			return []model.Institution{{ID: "ob-monzo", Name: "Monzo", CountryCode: "GB", ProviderID: "truelayer"}}, nil
		},
	}
	h := newTestBankingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/banking/institutions?country=GB&provider=truelayer", nil)
	w := httptest.NewRecorder()
	h.ListInstitutions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotProvider != "truelayer" {
		t.Errorf("provider = %q, want truelayer", gotProvider)
	}
}

func TestBankingHandler_ListInstitutions_EmptyCatalogIsArray(t *testing.T) {
	h := newTestBankingHandler(&mockBankingService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/banking/institutions?country=US", nil)
	w := httptest.NewRecorder()
	h.ListInstitutions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"institutions":[]`)) {
		t.Errorf("body = %s, want empty institutions array", w.Body.String())
	}
}

// --- POST /api/banking/link ---

func TestBankingHandler_StartLink_Success(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockBankingService{
		startLinkFn: func(ctx context.Context, userID, countryCode, preferred string) (*banking.LinkStart, error) {
			if userID != "user-123" || countryCode != "GB" || preferred != "truelayer" {
				t.Errorf("StartLink(%q, %q, %q)", userID, countryCode, preferred)
			}
			return &banking.LinkStart{
				Provider:         "truelayer",
				AuthorizationURL: "https://auth.truelayer.com/?state=abc",
				ExpiresAt:        expires,
			}, nil
		},
	}
	h := newTestBankingHandler(svc, nil)

	body := `{"country": "gb", "provider": "truelayer"}`
	req := httptest.NewRequest(http.MethodPost, "/api/banking/link", bytes.NewBufferString(body))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()
	h.StartLink(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp startLinkResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.AuthorizationURL != "https://auth.truelayer.com/?state=abc" || resp.Provider != "truelayer" {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", resp.ExpiresAt, expires)
	}
}

func TestBankingHandler_StartLink_NoUser_Returns401(t *testing.T) {
	h := newTestBankingHandler(&mockBankingService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/banking/link", bytes.NewBufferString(`{"country":"GB"}`))
	w := httptest.NewRecorder()
	h.StartLink(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestBankingHandler_StartLink_InvalidBody_Returns400(t *testing.T) {
	h := newTestBankingHandler(&mockBankingService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/banking/link", bytes.NewBufferString(`{not json`))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()
	h.StartLink(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := parseAPIErrorResponse(t, w).Code; got != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", got, model.ErrCodeInvalidRequest)
	}
}

func TestBankingHandler_StartLink_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{
			name:     "非対応国は422",
			err:      banking.ErrUnsupportedCountry,
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  model.ErrCodeUnsupportedCountry,
		},
		{
			name:     "未実装プロバイダーは501",
			err:      &banking.ProviderError{Provider: "plaid", Op: "link", Err: banking.ErrProviderNotImplemented},
			wantCode: http.StatusNotImplemented,
			wantErr:  model.ErrCodeProviderNotImplemented,
		},
		{
			name:     "プロバイダー障害は502",
			err:      &banking.ProviderError{Provider: "truelayer", Op: "link", Err: banking.ErrProviderUnavailable},
			wantCode: http.StatusBadGateway,
			wantErr:  model.ErrCodeProviderUnavailable,
		},
		{
			name:     "その他は500",
			err:      errors.New("db down"),
			wantCode: http.StatusInternalServerError,
			wantErr:  model.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockBankingService{
				startLinkFn: func(ctx context.Context, userID, countryCode, preferred string) (*banking.LinkStart, error) {
					return nil, tt.err
				},
			}
			h := newTestBankingHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/banking/link", bytes.NewBufferString(`{"country":"US"}`))
			req = withUserID(req, "user-123")
			w := httptest.NewRecorder()
			h.StartLink(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			resp := parseAPIErrorResponse(t, w)
			if resp.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantErr)
			}
			if bytes.Contains([]byte(resp.Message), []byte("db down")) {
				t.Error("internal error detail leaked to response")
			}
		})
	}
}

// --- GET /banking/callback ---

func TestBankingHandler_Callback_Success(t *testing.T) {
	svc := &mockBankingService{
		completeLinkFn: func(ctx context.Context, sessionUserID, state, code string) (*banking.LinkResult, error) {
			if sessionUserID != "user-123" || state != "st" || code != "auth-code" {
				t.Errorf("CompleteLink(%q, %q, %q)", sessionUserID, state, code)
			}
			return &banking.LinkResult{
				Provider:     "truelayer",
				Accounts:     []model.Account{{ID: "a1"}, {ID: "a2"}},
				Transactions: []model.Transaction{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}},
			}, nil
		},
	}
	h := newTestBankingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/banking/callback?code=auth-code&state=st", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()
	h.Callback(w, req)

	q := redirectQuery(t, w)
	if q.Get("status") != "success" || q.Get("accounts") != "2" || q.Get("transactions") != "3" {
		t.Errorf("query = %v", q)
	}
}

func TestBankingHandler_Callback_ProviderErrorAbortsLink(t *testing.T) {
	var aborted, abortedBy string
	svc := &mockBankingService{
		abortLinkFn: func(ctx context.Context, sessionUserID, state string) { aborted, abortedBy = state, sessionUserID },
		completeLinkFn: func(ctx context.Context, sessionUserID, state, code string) (*banking.LinkResult, error) {
			t.Error("CompleteLink must not be called when the provider returned an error")
			return nil, nil
		},
	}
	h := newTestBankingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/banking/callback?error=access_denied&state=st", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()
	h.Callback(w, req)

	q := redirectQuery(t, w)
	if q.Get("status") != "error" || q.Get("reason") != model.ErrCodeLinkDenied {
		t.Errorf("query = %v", q)
	}
	if aborted != "st" || abortedBy != "user-123" {
		t.Errorf("AbortLink(%q, %q), want (user-123, st)", abortedBy, aborted)
	}
}

func TestBankingHandler_Callback_ProviderErrorWithoutSession_KeepsLink(t *testing.T) {
	called := false
	svc := &mockBankingService{
		abortLinkFn: func(ctx context.Context, sessionUserID, state string) { called = true },
	}
	h := newTestBankingHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Callback(w, httptest.NewRequest(http.MethodGet, "/banking/callback?error=access_denied&state=st", nil))

	if q := redirectQuery(t, w); q.Get("reason") != model.ErrCodeLinkDenied {
		t.Errorf("query = %v", q)
	}
	if called {
		t.Error("AbortLink must not be called without a login session")
	}
}

func TestBankingHandler_Callback_ErrorReasons(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		userID     string
		err        error
		wantReason string
	}{
		{"セッション無し", "?code=c&state=s", "", nil, model.ErrCodeUnauthenticated},
		{"code欠落", "?state=s", "user-123", nil, model.ErrCodeLinkSessionInvalid},
		{"state欠落", "?code=c", "user-123", nil, model.ErrCodeLinkSessionInvalid},
		{"使用済みセッション", "?code=c&state=s", "user-123", banking.ErrLinkSessionExpired, model.ErrCodeLinkSessionInvalid},
		{"改ざんされたstate", "?code=c&state=s", "user-123", banking.ErrInvalidState, model.ErrCodeLinkSessionInvalid},
		{"別ユーザーのセッション", "?code=c&state=s", "user-123", banking.ErrLinkUserMismatch, model.ErrCodeLinkDenied},
		{
			"トークン交換失敗", "?code=c&state=s", "user-123",
			&banking.ProviderError{Provider: "truelayer", Op: "exchange", Err: fmt.Errorf("%w: status 400", banking.ErrTokenExchangeFailed)},
			model.ErrCodeTokenExchangeFailed,
		},
		{"内部エラー", "?code=c&state=s", "user-123", errors.New("db down"), model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockBankingService{
				completeLinkFn: func(ctx context.Context, sessionUserID, state, code string) (*banking.LinkResult, error) {
					if tt.err == nil {
						t.Error("CompleteLink must not be called")
						return &banking.LinkResult{}, nil
					}
					return nil, tt.err
				},
			}
			h := newTestBankingHandler(svc, nil)

			req := httptest.NewRequest(http.MethodGet, "/banking/callback"+tt.query, nil)
			if tt.userID != "" {
				req = withUserID(req, tt.userID)
			}
			w := httptest.NewRecorder()
			h.Callback(w, req)

			q := redirectQuery(t, w)
			if q.Get("status") != "error" || q.Get("reason") != tt.wantReason {
				t.Errorf("query = %v, want reason %q", q, tt.wantReason)
			}
		})
	}
}

// --- GET /api/banking/transactions ---

func TestBankingHandler_ListTransactions_DefaultLookback(t *testing.T) {
	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	var gotSince time.Time
	txs := &mockTransactionLister{
		listByUserFn: func(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q", userID)
			}
			gotSince = since
			return []model.Transaction{{ID: "t1", AmountMinorUnits: -999, Currency: "GBP"}}, nil
		},
	}
	h := newTestBankingHandler(&mockBankingService{}, txs)
	h.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "/api/banking/transactions", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()
	h.ListTransactions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	want := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	if !gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", gotSince, want)
	}
}

func TestBankingHandler_ListTransactions_InvalidDays(t *testing.T) {
	h := newTestBankingHandler(&mockBankingService{}, nil)

	for _, days := range []string{"0", "-1", "abc", "366"} {
		t.Run(days, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/banking/transactions?days="+days, nil)
			req = withUserID(req, "user-123")
			w := httptest.NewRecorder()
			h.ListTransactions(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestIsCountryCode(t *testing.T) {
	tests := map[string]bool{
		"GB":  true,
		"US":  true,
		"gb":  false,
		"G":   false,
		"GBR": false,
		"G1":  false,
		"":    false,
	}
	for in, want := range tests {
		if got := isCountryCode(in); got != want {
			t.Errorf("isCountryCode(%q) = %v, want %v", in, got, want)
		}
	}
}
