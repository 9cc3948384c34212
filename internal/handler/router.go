package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subtrack/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// メトリクス（nilの場合は/metricsを公開しない）
	Metrics http.Handler

	// 決済Webhook
	Webhook *WebhookHandler

	// 銀行連携
	Banking *BankingHandler

	// アカウント
	Account *AccountHandler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//	  /api/* (csrf-token以外) → Session → RateLimit(General) → CSRF
//	  /banking/callback → OptionalSession
//
// /webhooks/payments は署名で認証するため、セッション・CSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Method(http.MethodPost, "/webhooks/payments", deps.Webhook)

	// OAuthコールバックはブラウザのリダイレクトで到達するため、結果もリダイレクトで返す
	r.With(middleware.NewOptionalSessionMiddleware(deps.SessionFinder)).
		Get("/banking/callback", deps.Banking.Callback)

	// CSRFトークン取得はログイン前のフロントエンドからも呼ばれる
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Route("/api/banking", func(r chi.Router) {
			r.Get("/providers", deps.Banking.ListProviders)
			r.Get("/institutions", deps.Banking.ListInstitutions)
			r.Get("/transactions", deps.Banking.ListTransactions)

			// POST /api/banking/link - 連携開始（連携専用レート制限を追加）
			r.With(deps.RateLimiter.LinkMiddleware()).Post("/link", deps.Banking.StartLink)
		})

		r.Get("/api/me", deps.Account.Me)
		r.Get("/api/me/payments", deps.Account.ListPayments)
		r.Post("/api/logout", deps.Account.Logout)
	})

	return r
}
