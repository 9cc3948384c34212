package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/model"
)

// mockUserFinder はUserFinderのモック実装。
type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// mockPaymentHistoryLister はPaymentHistoryListerのモック実装。
type mockPaymentHistoryLister struct {
	listByUserFn func(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error)
}

func (m *mockPaymentHistoryLister) ListByUser(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

// mockSessionDeleter はSessionDeleterのモック実装。
type mockSessionDeleter struct {
	deleted []string
	err     error
}

func (m *mockSessionDeleter) DeleteByID(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

var accountTestNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestAccountHandler(users UserFinder, payments PaymentHistoryLister, sessions SessionDeleter) *AccountHandler {
	h := NewAccountHandler(users, payments, sessions, AccountHandlerConfig{})
	h.now = func() time.Time { return accountTestNow }
	return h
}

func TestAccountHandler_Me_ReturnsEntitlement(t *testing.T) {
	future := accountTestNow.Add(30 * 24 * time.Hour)
	past := accountTestNow.Add(-time.Hour)

	tests := []struct {
		name       string
		state      model.EntitlementState
		wantActive bool
	}{
		{"有効期限内", model.EntitlementState{PlanType: model.PlanMonthly, Status: model.StatusActive, ExpiresAt: &future}, true},
		{"無期限", model.EntitlementState{PlanType: model.PlanMonthly, Status: model.StatusActive}, true},
		{"期限切れ", model.EntitlementState{PlanType: model.PlanMonthly, Status: model.StatusActive, ExpiresAt: &past}, false},
		{"支払い遅延", model.EntitlementState{PlanType: model.PlanMonthly, Status: model.StatusPastDue, ExpiresAt: &future}, false},
		{"未契約", model.EntitlementState{PlanType: model.PlanNone, Status: model.StatusNone}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserFinder{
				findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
					return &model.User{ID: id, Email: "a@example.com", Name: "A", Entitlement: tt.state}, nil
				},
			}
			h := newTestAccountHandler(users, &mockPaymentHistoryLister{}, &mockSessionDeleter{})

			req := withUserID(httptest.NewRequest(http.MethodGet, "/api/me", nil), "user-123")
			w := httptest.NewRecorder()
			h.Me(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			var resp meResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.ID != "user-123" || resp.Entitlement.Status != tt.state.Status {
				t.Errorf("resp = %+v", resp)
			}
			if resp.Entitlement.Active != tt.wantActive {
				t.Errorf("Active = %v, want %v", resp.Entitlement.Active, tt.wantActive)
			}
		})
	}
}

func TestAccountHandler_Me_UserNotFound(t *testing.T) {
	h := newTestAccountHandler(&mockUserFinder{}, &mockPaymentHistoryLister{}, &mockSessionDeleter{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/me", nil), "user-gone")
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := parseAPIErrorResponse(t, w).Code; got != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", got, model.ErrCodeUserNotFound)
	}
}

func TestAccountHandler_ListPayments(t *testing.T) {
	payments := &mockPaymentHistoryLister{
		listByUserFn: func(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error) {
			return []model.PaymentHistoryRecord{
				{ID: "p2", ExternalEventRef: "in_2", AmountMinorUnits: 999, Currency: "gbp", PlanType: model.PlanMonthly, Status: model.LedgerFailed},
				{ID: "p1", ExternalEventRef: "cs_1", AmountMinorUnits: 999, Currency: "gbp", PlanType: model.PlanMonthly, Status: model.LedgerCompleted},
			}, nil
		},
	}
	h := newTestAccountHandler(&mockUserFinder{}, payments, &mockSessionDeleter{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/me/payments", nil), "user-123")
	w := httptest.NewRecorder()
	h.ListPayments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Payments []paymentResponse `json:"payments"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Payments) != 2 || resp.Payments[0].ExternalRef != "in_2" || resp.Payments[0].Status != model.LedgerFailed {
		t.Errorf("payments = %+v", resp.Payments)
	}
}

func TestAccountHandler_ListPayments_RepositoryError(t *testing.T) {
	payments := &mockPaymentHistoryLister{
		listByUserFn: func(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error) {
			return nil, errors.New("db down")
		},
	}
	h := newTestAccountHandler(&mockUserFinder{}, payments, &mockSessionDeleter{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/me/payments", nil), "user-123")
	w := httptest.NewRecorder()
	h.ListPayments(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAccountHandler_Logout_ClearsSession(t *testing.T) {
	sessions := &mockSessionDeleter{err: errors.New("db down")}
	h := newTestAccountHandler(&mockUserFinder{}, &mockPaymentHistoryLister{}, sessions)

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-123"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if len(sessions.deleted) != 1 || sessions.deleted[0] != "session-123" {
		t.Errorf("deleted = %v, want [session-123]", sessions.deleted)
	}

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie should be cleared even when deletion fails")
	}
}
