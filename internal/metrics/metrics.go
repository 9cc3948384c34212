// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProviderRecorder は銀行連携プロバイダー呼び出しのメトリクスを記録する。
type ProviderRecorder interface {
	// RecordProviderRequest はプロバイダーAPI呼び出しの結果とレイテンシを記録する。
	// outcomeは"success"または"failure"。
	RecordProviderRequest(provider, operation, outcome string, duration time.Duration)
}

// WebhookRecorder は決済Webhook処理のメトリクスを記録する。
type WebhookRecorder interface {
	// RecordWebhookEvent はイベント種別ごとの処理結果を記録する。
	// outcomeは"processed"、"ignored"、"duplicate"、"unresolved_user"、"failed"のいずれか。
	RecordWebhookEvent(eventType, outcome string)
	// RecordSignatureRejected は署名検証による拒否を理由別に記録する。
	RecordSignatureRejected(reason string)
	// RecordLedgerWrite は支払い履歴の書き込みをステータス別に記録する。
	RecordLedgerWrite(status string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerRequests  *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	webhookEvents     *prometheus.CounterVec
	signatureRejected *prometheus.CounterVec
	ledgerWrites      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subtrack_provider_requests_total",
			Help: "銀行連携プロバイダーAPI呼び出しの合計数",
		}, []string{"provider", "operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subtrack_provider_request_duration_seconds",
			Help:    "銀行連携プロバイダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subtrack_webhook_events_total",
			Help: "イベント種別・処理結果別の決済Webhook受信数",
		}, []string{"event_type", "outcome"}),
		signatureRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subtrack_webhook_signature_rejected_total",
			Help: "署名検証で拒否された決済Webhookの数",
		}, []string{"reason"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subtrack_ledger_writes_total",
			Help: "支払い履歴への書き込み数",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.providerRequests,
		c.providerLatency,
		c.webhookEvents,
		c.signatureRejected,
		c.ledgerWrites,
	)

	return c
}

// RecordProviderRequest はプロバイダーAPI呼び出しを記録する。
func (c *Collector) RecordProviderRequest(provider, operation, outcome string, duration time.Duration) {
	c.providerRequests.WithLabelValues(provider, operation, outcome).Inc()
	c.providerLatency.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordSignatureRejected は署名検証による拒否を記録する。
func (c *Collector) RecordSignatureRejected(reason string) {
	c.signatureRejected.WithLabelValues(reason).Inc()
}

// RecordLedgerWrite は支払い履歴の書き込みを記録する。
func (c *Collector) RecordLedgerWrite(status string) {
	c.ledgerWrites.WithLabelValues(status).Inc()
}

// Nop は何も記録しない実装。メトリクス未設定時やテストで使用する。
type Nop struct{}

func (Nop) RecordProviderRequest(string, string, string, time.Duration) {}
func (Nop) RecordWebhookEvent(string, string)                          {}
func (Nop) RecordSignatureRejected(string)                             {}
func (Nop) RecordLedgerWrite(string)                                   {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ ProviderRecorder = (*Collector)(nil)
	_ WebhookRecorder  = (*Collector)(nil)
	_ ProviderRecorder = Nop{}
	_ WebhookRecorder  = Nop{}
)
