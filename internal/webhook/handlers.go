package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/subtrack/internal/entitlement"
	"github.com/hitoshi/subtrack/internal/model"
)

// UserLookup はイベントの対象ユーザーを特定するための検索操作。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByCustomerID(ctx context.Context, customerID string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// EntitlementWriter は契約状態と支払い履歴の書き込み操作。
type EntitlementWriter interface {
	Grant(ctx context.Context, in entitlement.GrantInput) error
	SetSubscriptionStatus(ctx context.Context, userID, processorStatus string, periodEnd *time.Time) error
	Cancel(ctx context.Context, userID string) error
	RecordPayment(ctx context.Context, in entitlement.PaymentInput) error
	LinkCustomer(ctx context.Context, userID, customerID string) (bool, error)
}

// CheckoutStore はチェックアウト追跡行の更新操作。
type CheckoutStore interface {
	MarkCompleted(ctx context.Context, sessionID, userID string, plan model.PlanType, at time.Time) error
	// MarkExpired は未完了の追跡行を期限切れにする。対象行が無い場合はfalseを返す。
	MarkExpired(ctx context.Context, sessionID string, at time.Time) (bool, error)
}

// Handlers はイベント種別ごとの処理をまとめる。
type Handlers struct {
	users     UserLookup
	writer    EntitlementWriter
	checkouts CheckoutStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandlers はHandlersを生成する。
func NewHandlers(users UserLookup, writer EntitlementWriter, checkouts CheckoutStore, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		users:     users,
		writer:    writer,
		checkouts: checkouts,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterDefaults は標準のイベント種別すべてのハンドラーを登録する。
func RegisterDefaults(d *Dispatcher, h *Handlers) {
	d.Register(EventCheckoutCompleted, h.CheckoutCompleted)
	d.Register(EventCheckoutExpired, h.CheckoutExpired)
	d.Register(EventSubscriptionUpdated, h.SubscriptionUpdated)
	d.Register(EventSubscriptionDeleted, h.SubscriptionDeleted)
	d.Register(EventInvoicePaymentSuccess, h.InvoicePaymentSucceeded)
	d.Register(EventInvoicePaymentFailed, h.InvoicePaymentFailed)
	d.Register(EventCustomerCreated, h.CustomerChanged)
	d.Register(EventCustomerUpdated, h.CustomerChanged)
}

// identity はイベントに含まれるユーザー特定の手がかり。
type identity struct {
	UserID     string
	CustomerID string
	Email      string
}

// resolve はユーザーID・顧客ID・メールアドレスの順に対象ユーザーを検索する。
func (h *Handlers) resolve(ctx context.Context, id identity) (*model.User, error) {
	if id.UserID != "" {
		u, err := h.users.FindByID(ctx, id.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by id: %w", err)
		}
		if u != nil {
			return u, nil
		}
	}
	if id.CustomerID != "" {
		u, err := h.users.FindByCustomerID(ctx, id.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by customer: %w", err)
		}
		if u != nil {
			return u, nil
		}
	}
	if email := strings.TrimSpace(id.Email); email != "" {
		u, err := h.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if u != nil {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: user_id=%q customer=%q", ErrUnresolvedUser, id.UserID, id.CustomerID)
}

// planFor はメタデータのplan_typeからプランを決める。
// 未指定・未知の場合はサブスクリプションなら月額、それ以外は買い切りとする。
func planFor(metadata map[string]string, mode string) model.PlanType {
	if p, ok := model.ParsePlanType(metadata["plan_type"]); ok && p != model.PlanNone {
		return p
	}
	if mode == "subscription" {
		return model.PlanMonthly
	}
	return model.PlanOneTime
}

// CheckoutCompleted は契約を付与し、支払い履歴を記録する。
func (h *Handlers) CheckoutCompleted(ctx context.Context, ev *Event) error {
	var s checkoutSession
	if err := ev.decodeObject(&s); err != nil {
		return err
	}

	userID := s.Metadata["user_id"]
	if userID == "" {
		userID = s.ClientReferenceID
	}
	user, err := h.resolve(ctx, identity{UserID: userID, CustomerID: s.Customer, Email: s.email()})
	if err != nil {
		return err
	}

	plan := planFor(s.Metadata, s.Mode)
	at := ev.OccurredAt(h.now())

	err = h.writer.Grant(ctx, entitlement.GrantInput{
		UserID:           user.ID,
		Plan:             plan,
		ExternalRef:      s.ID,
		AmountMinorUnits: s.AmountTotal,
		Currency:         strings.ToUpper(s.Currency),
		CustomerID:       s.Customer,
		At:               at,
	})
	if err != nil {
		return unresolvedIfMissing(err)
	}

	if h.checkouts != nil {
		if err := h.checkouts.MarkCompleted(ctx, s.ID, user.ID, plan, at); err != nil {
			return fmt.Errorf("failed to update checkout session: %w", err)
		}
	}
	return nil
}

// CheckoutExpired はチェックアウト追跡行を期限切れにする。契約状態は変更しない。
func (h *Handlers) CheckoutExpired(ctx context.Context, ev *Event) error {
	var s checkoutSession
	if err := ev.decodeObject(&s); err != nil {
		return err
	}
	if h.checkouts == nil || s.ID == "" {
		return nil
	}

	updated, err := h.checkouts.MarkExpired(ctx, s.ID, ev.OccurredAt(h.now()))
	if err != nil {
		return fmt.Errorf("failed to expire checkout session: %w", err)
	}
	if !updated {
		h.logger.Debug("no open checkout session to expire", slog.String("checkout_session_id", s.ID))
	}
	return nil
}

// SubscriptionUpdated はサブスクリプションの状態と請求期間終端を反映する。
func (h *Handlers) SubscriptionUpdated(ctx context.Context, ev *Event) error {
	var sub subscription
	if err := ev.decodeObject(&sub); err != nil {
		return err
	}

	user, err := h.resolve(ctx, identity{UserID: sub.Metadata["user_id"], CustomerID: sub.Customer})
	if err != nil {
		return err
	}

	return unresolvedIfMissing(h.writer.SetSubscriptionStatus(ctx, user.ID, sub.Status, unixPtr(sub.CurrentPeriodEnd)))
}

// SubscriptionDeleted は契約をキャンセルする。プランと履歴は残す。
func (h *Handlers) SubscriptionDeleted(ctx context.Context, ev *Event) error {
	var sub subscription
	if err := ev.decodeObject(&sub); err != nil {
		return err
	}

	user, err := h.resolve(ctx, identity{UserID: sub.Metadata["user_id"], CustomerID: sub.Customer})
	if err != nil {
		return err
	}

	return unresolvedIfMissing(h.writer.Cancel(ctx, user.ID))
}

// InvoicePaymentSucceeded は支払い完了を記録し、契約を有効にする。
func (h *Handlers) InvoicePaymentSucceeded(ctx context.Context, ev *Event) error {
	return h.recordInvoice(ctx, ev, true)
}

// InvoicePaymentFailed は支払い失敗を記録し、契約を支払い遅延にする。
func (h *Handlers) InvoicePaymentFailed(ctx context.Context, ev *Event) error {
	return h.recordInvoice(ctx, ev, false)
}

func (h *Handlers) recordInvoice(ctx context.Context, ev *Event, succeeded bool) error {
	var inv invoice
	if err := ev.decodeObject(&inv); err != nil {
		return err
	}

	user, err := h.resolve(ctx, identity{UserID: inv.userID(), CustomerID: inv.Customer, Email: inv.CustomerEmail})
	if err != nil {
		return err
	}

	amount := inv.AmountDue
	if succeeded {
		amount = inv.AmountPaid
	}

	return unresolvedIfMissing(h.writer.RecordPayment(ctx, entitlement.PaymentInput{
		UserID:           user.ID,
		ExternalRef:      inv.ID,
		AmountMinorUnits: amount,
		Currency:         strings.ToUpper(inv.Currency),
		Succeeded:        succeeded,
		PeriodEnd:        inv.periodEnd(),
		At:               ev.OccurredAt(h.now()),
	}))
}

// CustomerChanged はメールアドレスが一致するユーザーに顧客IDを紐付ける。
// 既に紐付け済みのユーザーは上書きしない。
func (h *Handlers) CustomerChanged(ctx context.Context, ev *Event) error {
	var c customer
	if err := ev.decodeObject(&c); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("%w: customer without id", ErrMalformedPayload)
	}

	user, err := h.resolve(ctx, identity{UserID: c.Metadata["user_id"], Email: c.Email})
	if err != nil {
		return err
	}

	linked, err := h.writer.LinkCustomer(ctx, user.ID, c.ID)
	if err != nil {
		return err
	}
	if !linked {
		h.logger.Debug("customer link unchanged",
			slog.String("user_id", user.ID),
			slog.String("customer_id", c.ID),
		)
	}
	return nil
}

// unresolvedIfMissing は書き込み中にユーザーが見つからなかった場合をErrUnresolvedUserに変換する。
func unresolvedIfMissing(err error) error {
	if errors.Is(err, entitlement.ErrUserNotFound) {
		return fmt.Errorf("%w: %v", ErrUnresolvedUser, err)
	}
	return err
}

var _ EntitlementWriter = (*entitlement.Writer)(nil)
