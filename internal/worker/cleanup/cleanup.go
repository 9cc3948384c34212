// Package cleanup は不要になった一時データの定期削除ジョブを提供する。
// 期限切れの銀行連携セッション・ログインセッションと、保持期間を過ぎた処理済みWebhookイベントを削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredPurger は期限切れ行を削除するリポジトリ操作。
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WebhookEventPurger は処理済みWebhookイベントを削除するリポジトリ操作。
type WebhookEventPurger interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は一時データの削除ジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	linkSessions  ExpiredPurger
	sessions      ExpiredPurger
	events        WebhookEventPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 処理済みWebhookイベントの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(linkSessions, sessions ExpiredPurger, events WebhookEventPurger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		linkSessions:  linkSessions,
		sessions:      sessions,
		events:        events,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 90,
	}
}

// Run は各テーブルの削除を1回実行する。
// 1つの削除が失敗しても残りは実行し、失敗をまとめて返す。
// 未処理のWebhookイベントはプロセッサーの再送に備えて削除しない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	var errs []error

	step := func(name string, fn func() (int64, error)) int64 {
		n, err := fn()
		if err != nil {
			j.logger.Error("クリーンアップに失敗しました",
				slog.String("target", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return 0
		}
		return n
	}

	links := step("link_sessions", func() (int64, error) { return j.linkSessions.DeleteExpired(ctx, start) })
	sessions := step("sessions", func() (int64, error) { return j.sessions.DeleteExpired(ctx, start) })
	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	events := step("webhook_events", func() (int64, error) { return j.events.DeleteProcessedBefore(ctx, cutoff) })

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("link_sessions_deleted", links),
		slog.Int64("sessions_deleted", sessions),
		slog.Int64("webhook_events_deleted", events),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup job finished with errors", slog.String("error", err.Error()))
	}
}
