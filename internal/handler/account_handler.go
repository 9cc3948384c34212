package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/model"
)

// UserFinder はログインユーザーの取得に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// PaymentHistoryLister は支払い履歴の取得に必要なインターフェース。
type PaymentHistoryLister interface {
	ListByUser(ctx context.Context, userID string) ([]model.PaymentHistoryRecord, error)
}

// SessionDeleter はログアウト時のセッション削除に必要なインターフェース。
type SessionDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// AccountHandlerConfig はアカウントハンドラーの設定。
type AccountHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AccountHandler はログインユーザー自身の契約状態と支払い履歴を返すHTTPハンドラー。
type AccountHandler struct {
	users    UserFinder
	payments PaymentHistoryLister
	sessions SessionDeleter
	config   AccountHandlerConfig
	now      func() time.Time
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(users UserFinder, payments PaymentHistoryLister, sessions SessionDeleter, config AccountHandlerConfig) *AccountHandler {
	return &AccountHandler{
		users:    users,
		payments: payments,
		sessions: sessions,
		config:   config,
		now:      time.Now,
	}
}

// entitlementResponse は契約状態のAPIレスポンス。
type entitlementResponse struct {
	PlanType  model.PlanType          `json:"plan_type"`
	Status    model.EntitlementStatus `json:"status"`
	ExpiresAt *time.Time              `json:"expires_at"`
	Active    bool                    `json:"active"`
}

// meResponse はログインユーザー情報のAPIレスポンス。
type meResponse struct {
	ID          string              `json:"id"`
	Email       string              `json:"email"`
	Name        string              `json:"name"`
	Entitlement entitlementResponse `json:"entitlement"`
}

// paymentResponse は支払い履歴1件のAPIレスポンス。
type paymentResponse struct {
	ID               string             `json:"id"`
	ExternalRef      string             `json:"external_ref"`
	AmountMinorUnits int64              `json:"amount_minor_units"`
	Currency         string             `json:"currency"`
	PlanType         model.PlanType     `json:"plan_type"`
	Status           model.LedgerStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Me は現在のログインユーザーと契約状態を返す。
// GET /api/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err, "")
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	ent := user.Entitlement
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Entitlement: entitlementResponse{
			PlanType:  ent.PlanType,
			Status:    ent.Status,
			ExpiresAt: ent.ExpiresAt,
			Active:    ent.Status == model.StatusActive && (ent.ExpiresAt == nil || ent.ExpiresAt.After(h.now())),
		},
	})
}

// ListPayments はログインユーザーの支払い履歴を新しい順に返す。
// GET /api/me/payments
func (h *AccountHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	records, err := h.payments.ListByUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err, "")
		return
	}

	payments := make([]paymentResponse, 0, len(records))
	for _, rec := range records {
		payments = append(payments, paymentResponse{
			ID:               rec.ID,
			ExternalRef:      rec.ExternalEventRef,
			AmountMinorUnits: rec.AmountMinorUnits,
			Currency:         rec.Currency,
			PlanType:         rec.PlanType,
			Status:           rec.Status,
			CreatedAt:        rec.CreatedAt,
		})
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// Logout はセッションを削除し、セッションCookieをクリアする。
// POST /api/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.DeleteByID(r.Context(), cookie.Value); err != nil {
			// 削除に失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
