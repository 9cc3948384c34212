package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/banking/stub"
	"github.com/hitoshi/subtrack/internal/banking/truelayer"
	"github.com/hitoshi/subtrack/internal/config"
	"github.com/hitoshi/subtrack/internal/entitlement"
	"github.com/hitoshi/subtrack/internal/handler"
	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/notify"
	"github.com/hitoshi/subtrack/internal/repository"
	"github.com/hitoshi/subtrack/internal/security"
	"github.com/hitoshi/subtrack/internal/webhook"
	"github.com/hitoshi/subtrack/internal/worker/cleanup"
)

// repositories はPostgreSQLリポジトリ一式。
type repositories struct {
	users        *repository.PostgresUserRepo
	sessions     *repository.PostgresSessionRepo
	linkSessions *repository.PostgresLinkSessionRepo
	transactions *repository.PostgresTransactionRepo
	payments     *repository.PostgresPaymentHistoryRepo
	events       *repository.PostgresWebhookEventRepo
	checkouts    *repository.PostgresCheckoutSessionRepo
}

func newRepositories(db *sql.DB) *repositories {
	return &repositories{
		users:        repository.NewPostgresUserRepo(db),
		sessions:     repository.NewPostgresSessionRepo(db),
		linkSessions: repository.NewPostgresLinkSessionRepo(db),
		transactions: repository.NewPostgresTransactionRepo(db),
		payments:     repository.NewPostgresPaymentHistoryRepo(db),
		events:       repository.NewPostgresWebhookEventRepo(db),
		checkouts:    repository.NewPostgresCheckoutSessionRepo(db),
	}
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newBankingService はプロバイダー群とルーターを構築し、銀行連携サービスを返す。
// TrueLayerを既定とし、未実装のアグリゲーターは能力情報のためだけに登録する。
func newBankingService(cfg *config.Config, repos *repositories, m metrics.ProviderRecorder) (*banking.Service, error) {
	for _, endpoint := range []string{cfg.TrueLayerAuthURL, cfg.TrueLayerAPIURL} {
		if err := security.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid TrueLayer endpoint: %w", err)
		}
	}

	signer := banking.NewStateSigner([]byte(cfg.StateSecret), cfg.LinkSessionTTL)
	client := security.NewProviderClient(security.OutboundClientConfig{
		Timeout:         cfg.ProviderTimeout,
		MaxResponseSize: cfg.ProviderMaxResponseSize,
	})

	tl := truelayer.New(truelayer.Config{
		ClientID:     cfg.TrueLayerClientID,
		ClientSecret: cfg.TrueLayerClientSecret,
		RedirectURL:  cfg.TrueLayerRedirectURL,
		AuthURL:      cfg.TrueLayerAuthURL,
		APIURL:       cfg.TrueLayerAPIURL,
		HTTPClient:   client,
		Signer:       signer,
		Sanitizer:    security.NewDescriptionSanitizer(),
		Metrics:      m,
		Logger:       slog.Default().With(slog.String("provider", truelayer.ProviderKey)),
	})

	router := banking.NewRouter(tl, stub.Nordigen(), stub.Plaid())

	return banking.NewService(
		router, signer, repos.linkSessions, repos.transactions, nil,
		banking.ServiceConfig{LookbackDays: cfg.TransactionLookbackDays},
		slog.Default(),
	), nil
}

// newNotifier はDiscord Webhookが設定されていればDiscord通知を、なければログ通知を返す。
func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.DiscordWebhookURL == "" {
		return notify.NewLogNotifier(slog.Default()), nil
	}
	n, err := notify.NewDiscordNotifier(cfg.DiscordWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord notifier: %w", err)
	}
	return n, nil
}

// newDispatcher は契約状態の書き込みと通知を組み立て、既定のイベントハンドラーを登録したDispatcherを返す。
func newDispatcher(cfg *config.Config, repos *repositories, m metrics.WebhookRecorder) (*webhook.Dispatcher, error) {
	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	writer := entitlement.NewWriter(repos.users, repos.payments, notifier, m, slog.Default())
	dispatcher := webhook.NewDispatcher(repos.events, m, slog.Default())
	webhook.RegisterDefaults(dispatcher, webhook.NewHandlers(repos.users, writer, repos.checkouts, slog.Default()))
	return dispatcher, nil
}

// buildRouter はAPIサーバーの全依存関係をワイヤリングし、ルーターと停止関数を返す。
func buildRouter(cfg *config.Config, db *sql.DB) (http.Handler, func(), error) {
	repos := newRepositories(db)
	reg, collector := newMetricsRegistry()

	bankingService, err := newBankingService(cfg, repos, collector)
	if err != nil {
		return nil, nil, err
	}

	dispatcher, err := newDispatcher(cfg, repos, collector)
	if err != nil {
		return nil, nil, err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLink))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		SessionFinder:     repos.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Metrics: metrics.Handler(reg),
		Webhook: handler.NewWebhookHandler(dispatcher, handler.WebhookHandlerConfig{
			Secret:    cfg.PaymentWebhookSecret,
			Tolerance: cfg.WebhookTolerance,
			MaxBody:   cfg.WebhookMaxBody,
		}, collector),
		Banking: handler.NewBankingHandler(bankingService, repos.transactions, handler.BankingHandlerConfig{
			BaseURL:      cfg.BaseURL,
			LookbackDays: cfg.TransactionLookbackDays,
		}),
		Account: handler.NewAccountHandler(repos.users, repos.payments, repos.sessions, handler.AccountHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		}),
	}

	return handler.NewRouter(deps), rateLimiter.Stop, nil
}

// newCleanupJob はワーカーで実行するクリーンアップジョブを構築する。
func newCleanupJob(cfg *config.Config, db *sql.DB) *cleanup.CleanupJob {
	repos := newRepositories(db)
	job := cleanup.NewCleanupJob(repos.linkSessions, repos.sessions, repos.events, slog.Default())
	if cfg.WebhookEventRetentionDays > 0 {
		job.RetentionDays = cfg.WebhookEventRetentionDays
	}
	return job
}

// compile-time interface check
var (
	_ banking.LinkSessionStore     = (*repository.PostgresLinkSessionRepo)(nil)
	_ banking.TransactionStore     = (*repository.PostgresTransactionRepo)(nil)
	_ handler.TransactionLister    = (*repository.PostgresTransactionRepo)(nil)
	_ entitlement.UserStore        = (*repository.PostgresUserRepo)(nil)
	_ entitlement.LedgerStore      = (*repository.PostgresPaymentHistoryRepo)(nil)
	_ webhook.UserLookup           = (*repository.PostgresUserRepo)(nil)
	_ webhook.EventStore           = (*repository.PostgresWebhookEventRepo)(nil)
	_ webhook.CheckoutStore        = (*repository.PostgresCheckoutSessionRepo)(nil)
	_ middleware.SessionFinder     = (*repository.PostgresSessionRepo)(nil)
	_ handler.SessionDeleter       = (*repository.PostgresSessionRepo)(nil)
	_ handler.UserFinder           = (*repository.PostgresUserRepo)(nil)
	_ handler.PaymentHistoryLister = (*repository.PostgresPaymentHistoryRepo)(nil)
	_ cleanup.ExpiredPurger        = (*repository.PostgresLinkSessionRepo)(nil)
	_ cleanup.ExpiredPurger        = (*repository.PostgresSessionRepo)(nil)
	_ cleanup.WebhookEventPurger   = (*repository.PostgresWebhookEventRepo)(nil)
	_ handler.EventDispatcher      = (*webhook.Dispatcher)(nil)
)

var _ handler.BankingServiceInterface = (*banking.Service)(nil)
