package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxLinkSessionTTL は銀行連携セッションの有効期限の上限。
const MaxLinkSessionTTL = time.Hour

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxLife  time.Duration

	// Session
	SessionMaxAge int

	// Banking link
	StateSecret             string
	LinkSessionTTL          time.Duration
	TransactionLookbackDays int

	// TrueLayer
	TrueLayerClientID     string
	TrueLayerClientSecret string
	TrueLayerRedirectURL  string
	TrueLayerAuthURL      string
	TrueLayerAPIURL       string

	// Outbound provider requests
	ProviderTimeout         time.Duration
	ProviderMaxResponseSize int64

	// Payment webhooks
	PaymentWebhookSecret string
	WebhookTolerance     time.Duration
	WebhookMaxBody       int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitLink    int

	// Cleanup
	CleanupInterval           time.Duration
	WebhookEventRetentionDays int

	// Notification
	DiscordWebhookURL string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.BaseURL = strings.TrimRight(required("BASE_URL"), "/")
	cfg.StateSecret = required("STATE_SECRET")
	cfg.PaymentWebhookSecret = required("PAYMENT_WEBHOOK_SECRET")
	cfg.TrueLayerClientID = required("TRUELAYER_CLIENT_ID")
	cfg.TrueLayerClientSecret = required("TRUELAYER_CLIENT_SECRET")
	cfg.TrueLayerRedirectURL = required("TRUELAYER_REDIRECT_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLife = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.LinkSessionTTL = getEnvDuration("LINK_SESSION_TTL", MaxLinkSessionTTL)
	if cfg.LinkSessionTTL <= 0 || cfg.LinkSessionTTL > MaxLinkSessionTTL {
		cfg.LinkSessionTTL = MaxLinkSessionTTL
	}
	cfg.TransactionLookbackDays = getEnvInt("TRANSACTION_LOOKBACK_DAYS", 365)
	cfg.TrueLayerAuthURL = getEnvString("TRUELAYER_AUTH_URL", "https://auth.truelayer.com")
	cfg.TrueLayerAPIURL = getEnvString("TRUELAYER_API_URL", "https://api.truelayer.com/data/v1")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second)
	cfg.ProviderMaxResponseSize = getEnvInt64("PROVIDER_MAX_RESPONSE_SIZE", 10<<20)
	cfg.WebhookTolerance = getEnvDuration("WEBHOOK_TOLERANCE", 300*time.Second)
	cfg.WebhookMaxBody = getEnvInt64("WEBHOOK_MAX_BODY", 1<<20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLink = getEnvInt("RATE_LIMIT_LINK", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.WebhookEventRetentionDays = getEnvInt("WEBHOOK_EVENT_RETENTION_DAYS", 90)
	cfg.DiscordWebhookURL = getEnvString("DISCORD_WEBHOOK_URL", "")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
