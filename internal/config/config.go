// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// プロバイダーモード
const (
	ProviderModeWeChat = "wechat"
	ProviderModeDev    = "dev"
)

// セッションストア
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// MinJWTSecretLength はHS256署名鍵の最小バイト数。
const MinJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Credential
	JWTSecret     string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"miniauth"`
	CredentialTTL time.Duration `env:"CREDENTIAL_TTL" envDefault:"168h"`

	// Provider
	ProviderMode     string        `env:"PROVIDER_MODE" envDefault:"wechat"`
	WeChatAppID      string        `env:"WECHAT_APP_ID"`
	WeChatSecret     string        `env:"WECHAT_SECRET"`
	WeChatAPIBaseURL string        `env:"WECHAT_API_BASE_URL" envDefault:"https://api.weixin.qq.com"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Session
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionStore     string        `env:"SESSION_STORE" envDefault:"postgres"`
	RedisURL         string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"168h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Worker
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9090"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"20"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
	EnableDevRoutes   bool   `env:"ENABLE_DEV_ROUTES" envDefault:"false"`
	// X-Forwarded-For / X-Real-IPを信頼するのは、ヘッダーを書き換えるリバースプロキシの背後に置く場合のみ
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

var dotenvOnce sync.Once

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envの値で上書きされない。
func Load() (*Config, error) {
	dotenvOnce.Do(func() {
		// .envが無い環境（本番コンテナ）では失敗するが問題ない
		_ = godotenv.Load()
	})

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate はタグでは表現できない設定の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
	}

	switch c.ProviderMode {
	case ProviderModeWeChat:
		var missing []string
		if c.WeChatAppID == "" {
			missing = append(missing, "WECHAT_APP_ID")
		}
		if c.WeChatSecret == "" {
			missing = append(missing, "WECHAT_SECRET")
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("required environment variables are not set: %v", missing))
		}
	case ProviderModeDev:
	default:
		errs = append(errs, fmt.Errorf("PROVIDER_MODE must be %q or %q, got %q", ProviderModeWeChat, ProviderModeDev, c.ProviderMode))
	}

	switch c.SessionStore {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStorePostgres, SessionStoreRedis, c.SessionStore))
	}

	for name, d := range map[string]time.Duration{
		"SESSION_TTL":      c.SessionTTL,
		"CREDENTIAL_TTL":   c.CredentialTTL,
		"PROVIDER_TIMEOUT": c.ProviderTimeout,
		"CLEANUP_INTERVAL": c.CleanupInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SessionRetention < 0 {
		errs = append(errs, errors.New("SESSION_RETENTION must not be negative"))
	}

	if c.RateLimitGeneral <= 0 || c.RateLimitLogin <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_LOGIN must be positive"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// DevMode は開発用プロバイダーで起動しているかを返す。
func (c *Config) DevMode() bool {
	return c.ProviderMode == ProviderModeDev
}
