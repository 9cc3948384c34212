// Package notify は契約状態の変化を利用者・運用者に通知する。
// 通知は常にベストエフォートであり、失敗しても呼び出し元の状態遷移は取り消さない。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Rhymond/go-money"

	"github.com/hitoshi/subtrack/internal/model"
)

// EntitlementNotice は契約付与の通知内容。
type EntitlementNotice struct {
	UserID           string
	Email            string
	Plan             model.PlanType
	AmountMinorUnits int64
	Currency         string
	ExpiresAt        *time.Time
}

// PaymentFailureNotice は支払い失敗の通知内容。
type PaymentFailureNotice struct {
	UserID           string
	Email            string
	ExternalRef      string
	AmountMinorUnits int64
	Currency         string
}

// Notifier は通知の送信先。
type Notifier interface {
	EntitlementGranted(ctx context.Context, n EntitlementNotice) error
	PaymentFailed(ctx context.Context, n PaymentFailureNotice) error
}

// LogNotifier は通知を構造化ログに出力する。外部の通知先が未設定の場合に使用する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) EntitlementGranted(_ context.Context, notice EntitlementNotice) error {
	attrs := []any{
		slog.String("user_id", notice.UserID),
		slog.String("plan_type", string(notice.Plan)),
		slog.String("amount", FormatAmount(notice.AmountMinorUnits, notice.Currency)),
	}
	if notice.ExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *notice.ExpiresAt))
	}
	n.logger.Info("entitlement granted", attrs...)
	return nil
}

func (n *LogNotifier) PaymentFailed(_ context.Context, notice PaymentFailureNotice) error {
	n.logger.Warn("payment failed",
		slog.String("user_id", notice.UserID),
		slog.String("external_ref", notice.ExternalRef),
		slog.String("amount", FormatAmount(notice.AmountMinorUnits, notice.Currency)),
	)
	return nil
}

// FormatAmount は補助単位の金額を通貨記号付きの表示用文字列に変換する。
// 未知の通貨コードは「1234 XXX」の形式で返す。
func FormatAmount(minorUnits int64, currency string) string {
	code := strings.ToUpper(currency)
	if code == "" || money.GetCurrency(code) == nil {
		return fmt.Sprintf("%d %s", minorUnits, code)
	}
	return money.New(minorUnits, code).Display()
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*DiscordNotifier)(nil)
)
