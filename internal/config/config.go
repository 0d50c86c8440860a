package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity provider (Clerk)
	ClerkSecretKey         string
	ClerkJWTKey            string // PEM形式の公開鍵。設定時はJWKSを取得しない
	ClerkJWKSURL           string
	ClerkAuthorizedParties []string
	JWKSCacheTTL           time.Duration
	SessionCookieName      string

	// Billing
	HourlyRate           float64
	Currency             string
	InvoiceDueDays       int
	OverdueCheckInterval time.Duration

	// Integrations
	Toggl           IntegrationConfig
	Asana           IntegrationConfig
	QuickBooks      IntegrationConfig
	UpstreamTimeout time.Duration

	// Rate Limit (req/min)
	RateLimitGeneral  int
	RateLimitUpstream int

	// Server
	ServerPort        string
	WorkerMetricsPort string
	BaseURL           string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// IntegrationConfig は外部連携1件分のOAuth設定。
// ClientIDが空の場合、その連携は無効として扱う。
type IntegrationConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURI  string   `env:"REDIRECT_URI"`
	AuthURL      string   `env:"AUTH_URL"`
	TokenURL     string   `env:"TOKEN_URL"`
	APIBaseURL   string   `env:"API_BASE_URL"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// Enabled は連携が設定済みかどうかを返す。
func (c IntegrationConfig) Enabled() bool {
	return c.ClientID != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	// 秘密鍵か公開鍵のいずれかでトークン検証できればよい
	cfg.ClerkSecretKey = os.Getenv("CLERK_SECRET_KEY")
	cfg.ClerkJWTKey = os.Getenv("CLERK_JWT_KEY")
	if cfg.ClerkSecretKey == "" && cfg.ClerkJWTKey == "" {
		missing = append(missing, "CLERK_SECRET_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ClerkJWKSURL = getEnvString("CLERK_JWKS_URL", "https://api.clerk.com/v1/jwks")
	cfg.ClerkAuthorizedParties = getEnvList("CLERK_AUTHORIZED_PARTIES")
	cfg.JWKSCacheTTL = getEnvDuration("JWKS_CACHE_TTL", time.Hour)
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "__session")
	cfg.HourlyRate = getEnvFloat("HOURLY_RATE", 150)
	cfg.Currency = getEnvString("CURRENCY", "EUR")
	cfg.InvoiceDueDays = getEnvInt("INVOICE_DUE_DAYS", 30)
	cfg.OverdueCheckInterval = getEnvDuration("OVERDUE_CHECK_INTERVAL", time.Hour)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpstream = getEnvInt("RATE_LIMIT_UPSTREAM", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	if err := loadIntegrations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadIntegrations は連携ごとのプレフィックス付き環境変数を読み込む。
// 例: TOGGL_CLIENT_ID, ASANA_REDIRECT_URI, QUICKBOOKS_API_BASE_URL
func loadIntegrations(cfg *Config) error {
	targets := []struct {
		prefix string
		dst    *IntegrationConfig
	}{
		{"TOGGL_", &cfg.Toggl},
		{"ASANA_", &cfg.Asana},
		{"QUICKBOOKS_", &cfg.QuickBooks},
	}

	for _, t := range targets {
		if err := env.ParseWithOptions(t.dst, env.Options{Prefix: t.prefix}); err != nil {
			return fmt.Errorf("failed to parse %s integration env: %w", strings.TrimSuffix(t.prefix, "_"), err)
		}
		if t.dst.Enabled() && t.dst.RedirectURI == "" {
			return fmt.Errorf("required environment variables are not set: [%sREDIRECT_URI]", t.prefix)
		}
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
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
