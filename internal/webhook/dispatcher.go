package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/model"
)

// ErrUnresolvedUser はイベントの対象ユーザーを特定できないことを示す。
// 再送しても解決しないため、ログに残して受理する。
var ErrUnresolvedUser = errors.New("unresolved user")

// HandlerFunc は1種類のイベントを処理する。
type HandlerFunc func(ctx context.Context, event *Event) error

// EventStore は受信イベントの記録先。イベントIDで重複を判定する。
type EventStore interface {
	// Record はイベントを未処理として記録する。既に処理済みの場合はtrueを返す。
	Record(ctx context.Context, event *model.WebhookEvent) (processed bool, err error)
	// MarkProcessed はイベントを処理済みにする。
	MarkProcessed(ctx context.Context, id string, at time.Time) error
}

// Outcome は1イベントの処理結果。メトリクスのラベルにも使用する。
type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeUnresolved Outcome = "unresolved_user"
	OutcomeFailed     Outcome = "failed"
)

// Dispatcher はイベント種別ごとに登録されたハンドラーへイベントを振り分ける。
// ハンドラーは起動時に登録し、以後は読み取り専用で共有する。
type Dispatcher struct {
	handlers map[string]HandlerFunc
	events   EventStore
	metrics  metrics.WebhookRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher はDispatcherを生成する。metricsはnilでもよい。
func NewDispatcher(events EventStore, m metrics.WebhookRecorder, logger *slog.Logger) *Dispatcher {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		events:   events,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Register はイベント種別にハンドラーを登録する。同じ種別の再登録は上書きする。
func (d *Dispatcher) Register(eventType string, h HandlerFunc) {
	d.handlers[eventType] = h
}

// Handles はイベント種別にハンドラーが登録されているかを返す。
func (d *Dispatcher) Handles(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

// Dispatch はイベントを処理する。
// 未知の種別・処理済みの再配信・ユーザー未解決はいずれもエラーを返さない（受理扱い）。
// エラーを返した場合、イベントは未処理のまま残り、プロセッサーの再送で再処理される。
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) (Outcome, error) {
	handler, ok := d.handlers[event.Type]
	if !ok {
		d.logger.Info("unhandled webhook event type",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		d.metrics.RecordWebhookEvent(event.Type, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	now := d.now()
	processed, err := d.events.Record(ctx, &model.WebhookEvent{
		ID:         event.ID,
		Type:       event.Type,
		OccurredAt: event.OccurredAt(now),
		RawPayload: event.Raw,
		ReceivedAt: now,
	})
	if err != nil {
		d.metrics.RecordWebhookEvent(event.Type, string(OutcomeFailed))
		return OutcomeFailed, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if processed {
		d.logger.Info("duplicate webhook event acknowledged",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		d.metrics.RecordWebhookEvent(event.Type, string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	outcome := OutcomeProcessed
	if err := handler(ctx, event); err != nil {
		if !errors.Is(err, ErrUnresolvedUser) {
			d.logger.Error("webhook handler failed",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type),
				slog.String("error", err.Error()),
			)
			d.metrics.RecordWebhookEvent(event.Type, string(OutcomeFailed))
			return OutcomeFailed, err
		}
		d.logger.Warn("webhook event user unresolved",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()),
		)
		outcome = OutcomeUnresolved
	}

	if err := d.events.MarkProcessed(ctx, event.ID, d.now()); err != nil {
		// 処理自体は冪等なので、再送時に再処理されても結果は変わらない
		d.logger.Warn("failed to mark webhook event processed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}

	d.metrics.RecordWebhookEvent(event.Type, string(outcome))
	return outcome, nil
}
