package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/webhook"
)

// SignatureHeaderName は決済Webhookの署名ヘッダー名。
const SignatureHeaderName = "X-Signature"

// EventDispatcher は検証済みイベントの処理に必要なインターフェース。
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *webhook.Event) (webhook.Outcome, error)
}

// WebhookHandlerConfig は決済Webhookハンドラーの設定。
type WebhookHandlerConfig struct {
	Secret    string
	Tolerance time.Duration
	MaxBody   int64
}

// WebhookHandler は決済プロセッサーからのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	dispatcher EventDispatcher
	config     WebhookHandlerConfig
	metrics    metrics.WebhookRecorder
	now        func() time.Time
}

// NewWebhookHandler はWebhookHandlerを生成する。mはnilでもよい。
func NewWebhookHandler(dispatcher EventDispatcher, config WebhookHandlerConfig, m metrics.WebhookRecorder) *WebhookHandler {
	if config.Tolerance <= 0 {
		config.Tolerance = webhook.DefaultTolerance
	}
	if config.MaxBody <= 0 {
		config.MaxBody = 1 << 20
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &WebhookHandler{
		dispatcher: dispatcher,
		config:     config,
		metrics:    m,
		now:        time.Now,
	}
}

// ServeHTTP は生のボディと署名ヘッダーを検証し、イベントを振り分ける。
// POST /webhooks/payments
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.RecordSignatureRejected("body_too_large")
			writeWebhookError(w, http.StatusBadRequest, "payload too large")
			return
		}
		writeWebhookError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := webhook.VerifyWithTolerance(body, r.Header.Get(SignatureHeaderName), h.config.Secret, h.now(), h.config.Tolerance)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			slog.Warn("webhook signature rejected",
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			)
			h.metrics.RecordSignatureRejected("invalid_signature")
			writeWebhookError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, webhook.ErrMalformedPayload):
			slog.Warn("malformed webhook payload", slog.String("error", err.Error()))
			h.metrics.RecordSignatureRejected("malformed_payload")
			writeWebhookError(w, http.StatusBadRequest, "malformed payload")
		default:
			slog.Error("webhook verification failed", slog.String("error", err.Error()))
			writeWebhookError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if _, err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		// 詳細はDispatcher側でログに記録済み。非2xxでプロセッサーが再送する。
		writeWebhookError(w, http.StatusInternalServerError, "internal error")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeWebhookError(w http.ResponseWriter, status int, msg string) {
	middleware.WriteJSON(w, status, map[string]string{"error": msg})
}
