// Package entitlement はユーザーの契約状態と支払い履歴の書き込みを担う。
// すべての書き込みは外部イベント参照をキーとする集合操作であり、
// 同じイベントを何度適用しても結果は1回適用した場合と同じになる。
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/model"
	"github.com/hitoshi/subtrack/internal/notify"
)

// ErrUserNotFound は対象ユーザーが存在しないことを示す。
var ErrUserNotFound = errors.New("user not found")

// UserStore は契約状態の読み書きに必要なユーザーリポジトリの部分集合。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	// UpdateEntitlement はプラン・状態・有効期限を上書きする。顧客IDは変更しない。
	UpdateEntitlement(ctx context.Context, userID string, state model.EntitlementState) error
	// LinkCustomerID は顧客IDが未設定の場合のみ設定し、設定したかどうかを返す。
	LinkCustomerID(ctx context.Context, userID, customerID string) (bool, error)
}

// LedgerStore は支払い履歴の保存先。
type LedgerStore interface {
	// Upsert はExternalEventRefをキーに1行だけ保存する。既存行は状態と金額のみ更新する。
	Upsert(ctx context.Context, record *model.PaymentHistoryRecord) error
}

// GrantInput はチェックアウト完了による契約付与の入力。
type GrantInput struct {
	UserID           string
	Plan             model.PlanType
	ExternalRef      string
	AmountMinorUnits int64
	Currency         string
	CustomerID       string
	At               time.Time // イベント発生時刻。有効期限の起点
}

// PaymentInput は請求書の支払い結果の入力。
type PaymentInput struct {
	UserID           string
	ExternalRef      string
	AmountMinorUnits int64
	Currency         string
	Succeeded        bool
	PeriodEnd        *time.Time // 請求対象期間の終端。不明な場合はnil
	At               time.Time
}

// Writer は契約状態と支払い履歴を更新する。
type Writer struct {
	users    UserStore
	ledger   LedgerStore
	notifier notify.Notifier
	metrics  metrics.WebhookRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewWriter はWriterを生成する。notifierとmetricsはnilでもよい。
func NewWriter(users UserStore, ledger LedgerStore, notifier notify.Notifier, m metrics.WebhookRecorder, logger *slog.Logger) *Writer {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		users:    users,
		ledger:   ledger,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Grant は契約を有効化し、完了済みの支払い履歴を1件記録する。
// 有効期限はイベント発生時刻にプランの期間を加えた値で上書きする（加算ではない）。
func (w *Writer) Grant(ctx context.Context, in GrantInput) error {
	user, err := w.findUser(ctx, in.UserID)
	if err != nil {
		return err
	}

	if in.CustomerID != "" {
		if err := w.linkCustomer(ctx, user, in.CustomerID); err != nil {
			return err
		}
	}

	if err := w.upsertLedger(ctx, &model.PaymentHistoryRecord{
		UserID:           user.ID,
		ExternalEventRef: in.ExternalRef,
		AmountMinorUnits: in.AmountMinorUnits,
		Currency:         in.Currency,
		PlanType:         in.Plan,
		Status:           model.LedgerCompleted,
		CreatedAt:        in.At,
	}); err != nil {
		return err
	}

	// 配信が大幅に遅れたイベントでも付与直後に失効させない
	expiresAt := w.activeExpiry(in.Plan, in.At)
	if err := w.users.UpdateEntitlement(ctx, user.ID, model.EntitlementState{
		PlanType:  in.Plan,
		Status:    model.StatusActive,
		ExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("failed to update entitlement: %w", err)
	}

	w.logger.Info("entitlement granted",
		slog.String("user_id", user.ID),
		slog.String("plan_type", string(in.Plan)),
		slog.String("external_ref", in.ExternalRef),
	)

	w.notifyGranted(ctx, notify.EntitlementNotice{
		UserID:           user.ID,
		Email:            user.Email,
		Plan:             in.Plan,
		AmountMinorUnits: in.AmountMinorUnits,
		Currency:         in.Currency,
		ExpiresAt:        expiresAt,
	})
	return nil
}

// SetSubscriptionStatus はプロセッサーのサブスクリプション状態を反映する。
// activeはactiveに、それ以外はcancelledに対応付け、有効期限を請求期間の終端で上書きする。
// activeなのに期間終端が過去の場合は遅延配信とみなして何もしない。
func (w *Writer) SetSubscriptionStatus(ctx context.Context, userID, processorStatus string, periodEnd *time.Time) error {
	user, err := w.findUser(ctx, userID)
	if err != nil {
		return err
	}

	status := model.StatusCancelled
	if processorStatus == "active" {
		status = model.StatusActive
	}

	if status == model.StatusActive && periodEnd != nil && !periodEnd.After(w.now()) {
		w.logger.Info("stale subscription update ignored",
			slog.String("user_id", user.ID),
			slog.Time("period_end", *periodEnd),
		)
		return nil
	}

	state := user.Entitlement
	state.Status = status
	switch {
	case periodEnd != nil:
		state.ExpiresAt = periodEnd
	case status == model.StatusActive && state.ExpiresAt != nil && !state.ExpiresAt.After(w.now()):
		// 期間終端を含まないイベントで、切れた有効期限のままactiveにしない
		state.ExpiresAt = w.activeExpiry(state.PlanType, w.now())
	}

	if err := w.users.UpdateEntitlement(ctx, user.ID, state); err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// Cancel は契約をキャンセル状態にする。プランと支払い履歴は保持する。
func (w *Writer) Cancel(ctx context.Context, userID string) error {
	user, err := w.findUser(ctx, userID)
	if err != nil {
		return err
	}

	state := user.Entitlement
	state.Status = model.StatusCancelled
	if err := w.users.UpdateEntitlement(ctx, user.ID, state); err != nil {
		return fmt.Errorf("failed to cancel entitlement: %w", err)
	}

	w.logger.Info("entitlement cancelled", slog.String("user_id", user.ID))
	return nil
}

// RecordPayment は請求書の支払い結果を履歴に記録し、契約状態を更新する。
// 成功時はactiveにして、期間終端が現在の有効期限より後ならそれに延長する。
// 有効期限が切れている場合はプランの期間から再計算する。失敗時はpast_dueにする。
func (w *Writer) RecordPayment(ctx context.Context, in PaymentInput) error {
	user, err := w.findUser(ctx, in.UserID)
	if err != nil {
		return err
	}

	status := model.LedgerFailed
	if in.Succeeded {
		status = model.LedgerCompleted
	}

	if err := w.upsertLedger(ctx, &model.PaymentHistoryRecord{
		UserID:           user.ID,
		ExternalEventRef: in.ExternalRef,
		AmountMinorUnits: in.AmountMinorUnits,
		Currency:         in.Currency,
		PlanType:         user.Entitlement.PlanType,
		Status:           status,
		CreatedAt:        in.At,
	}); err != nil {
		return err
	}

	state := user.Entitlement
	if in.Succeeded {
		state.Status = model.StatusActive
		state.ExpiresAt = w.renewedExpiry(state, in.PeriodEnd, in.At)
	} else {
		state.Status = model.StatusPastDue
	}

	if err := w.users.UpdateEntitlement(ctx, user.ID, state); err != nil {
		return fmt.Errorf("failed to update entitlement: %w", err)
	}

	if !in.Succeeded {
		w.logger.Warn("invoice payment failed",
			slog.String("user_id", user.ID),
			slog.String("external_ref", in.ExternalRef),
		)
		w.notifyFailed(ctx, notify.PaymentFailureNotice{
			UserID:           user.ID,
			Email:            user.Email,
			ExternalRef:      in.ExternalRef,
			AmountMinorUnits: in.AmountMinorUnits,
			Currency:         in.Currency,
		})
	}
	return nil
}

// renewedExpiry は支払い成功後の有効期限を決める。
func (w *Writer) renewedExpiry(state model.EntitlementState, periodEnd *time.Time, at time.Time) *time.Time {
	now := w.now()
	current := state.ExpiresAt

	if periodEnd != nil && periodEnd.After(now) && (current == nil || periodEnd.After(*current)) {
		return periodEnd
	}
	if current != nil && !current.After(now) {
		// 無期限プランの場合はnilになる
		return w.activeExpiry(state.PlanType, at)
	}
	return current
}

// activeExpiry はactive状態に設定する有効期限を返す。
// atからプランの期間を加えても現在時刻を過ぎている場合は現在時刻から数え直す。
func (w *Writer) activeExpiry(plan model.PlanType, at time.Time) *time.Time {
	now := w.now()
	exp := ExpiryFor(plan, at)
	if exp != nil && !exp.After(now) {
		exp = ExpiryFor(plan, now)
	}
	return exp
}

// LinkCustomer はプロセッサーの顧客IDをユーザーに紐付ける。
// 既に別の顧客IDが紐付いている場合は上書きせずfalseを返す。
func (w *Writer) LinkCustomer(ctx context.Context, userID, customerID string) (bool, error) {
	linked, err := w.users.LinkCustomerID(ctx, userID, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to link customer: %w", err)
	}
	if linked {
		w.logger.Info("payment customer linked",
			slog.String("user_id", userID),
			slog.String("customer_id", customerID),
		)
	}
	return linked, nil
}

func (w *Writer) linkCustomer(ctx context.Context, user *model.User, customerID string) error {
	if user.PaymentCustomerID != nil {
		if *user.PaymentCustomerID != customerID {
			w.logger.Warn("payment customer already linked to a different id",
				slog.String("user_id", user.ID),
				slog.String("customer_id", customerID),
			)
		}
		return nil
	}
	_, err := w.LinkCustomer(ctx, user.ID, customerID)
	return err
}

func (w *Writer) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := w.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (w *Writer) upsertLedger(ctx context.Context, record *model.PaymentHistoryRecord) error {
	if err := w.ledger.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to write payment history: %w", err)
	}
	w.metrics.RecordLedgerWrite(string(record.Status))
	return nil
}

func (w *Writer) notifyGranted(ctx context.Context, n notify.EntitlementNotice) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.EntitlementGranted(ctx, n); err != nil {
		w.logger.Warn("entitlement notification failed",
			slog.String("user_id", n.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Writer) notifyFailed(ctx context.Context, n notify.PaymentFailureNotice) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.PaymentFailed(ctx, n); err != nil {
		w.logger.Warn("payment failure notification failed",
			slog.String("user_id", n.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// ExpiryFor はプランの有効期限を発生時刻から求める。期間の定めがないプランはnilを返す。
func ExpiryFor(plan model.PlanType, at time.Time) *time.Time {
	term, ok := plan.Term()
	if !ok {
		return nil
	}
	exp := at.Add(term).UTC()
	return &exp
}
