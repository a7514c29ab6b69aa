package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// コード保存先の種類
const (
	CodeStorePostgres = "postgres"
	CodeStoreRedis    = "redis"
	CodeStoreMemory   = "memory"
)

// 通知送信方式の種類
const (
	NotifierHTTP = "http"
	NotifierLog  = "log"
)

// minProofSecretLength は証明トークン署名鍵の最小バイト数。
const minProofSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Verification code
	CodeStore         string
	RedisURL          string
	CodeTTL           time.Duration
	CodeSweepInterval time.Duration

	// Claim
	ClaimProofSecret         string
	ClaimProofTTL            time.Duration
	RequireVerificationProof bool
	AllowManualVerification  bool

	// Notifier
	Notifier      string
	EmailAPIURL   string
	EmailAPIKey   string
	EmailFrom     string
	SMSAPIURL     string
	SMSAPIKey     string
	SMSSender     string
	NotifyTimeout time.Duration

	// Session
	SessionMaxAge int

	// Rate Limit（req/min）
	RateLimitCodeRequests int
	RateLimitVerify       int
	RateLimitSignIn       int

	// Cleanup
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（カンマ区切りで複数オリジンを指定可能）
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は不足分をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.ClaimProofSecret = os.Getenv("CLAIM_PROOF_SECRET")
	if cfg.ClaimProofSecret == "" {
		missing = append(missing, "CLAIM_PROOF_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CodeStore = strings.ToLower(getEnvString("CODE_STORE", CodeStorePostgres))
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.CodeTTL = getEnvDuration("CODE_TTL", 10*time.Minute)
	cfg.CodeSweepInterval = getEnvDuration("CODE_SWEEP_INTERVAL", time.Minute)
	cfg.ClaimProofTTL = getEnvDuration("CLAIM_PROOF_TTL", 15*time.Minute)
	cfg.RequireVerificationProof = getEnvBool("REQUIRE_VERIFICATION_PROOF", true)
	cfg.AllowManualVerification = getEnvBool("ALLOW_MANUAL_VERIFICATION", false)
	cfg.Notifier = strings.ToLower(getEnvString("NOTIFIER", NotifierLog))
	cfg.EmailAPIURL = getEnvString("EMAIL_API_URL", "")
	cfg.EmailAPIKey = getEnvString("EMAIL_API_KEY", "")
	cfg.EmailFrom = getEnvString("EMAIL_FROM", "")
	cfg.SMSAPIURL = getEnvString("SMS_API_URL", "")
	cfg.SMSAPIKey = getEnvString("SMS_API_KEY", "")
	cfg.SMSSender = getEnvString("SMS_SENDER", "")
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitCodeRequests = getEnvInt("RATE_LIMIT_CODE_REQUESTS", 5)
	cfg.RateLimitVerify = getEnvInt("RATE_LIMIT_VERIFY", 10)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGNIN", 20)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	var problems []string

	if len(c.ClaimProofSecret) < minProofSecretLength {
		problems = append(problems, fmt.Sprintf("CLAIM_PROOF_SECRET must be at least %d bytes", minProofSecretLength))
	}

	switch c.CodeStore {
	case CodeStorePostgres, CodeStoreMemory:
	case CodeStoreRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required when CODE_STORE=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("CODE_STORE must be one of postgres, redis, memory: %q", c.CodeStore))
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierHTTP:
		if c.EmailAPIURL == "" && c.SMSAPIURL == "" {
			problems = append(problems, "EMAIL_API_URL or SMS_API_URL is required when NOTIFIER=http")
		}
	default:
		problems = append(problems, fmt.Sprintf("NOTIFIER must be one of http, log: %q", c.Notifier))
	}

	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"CODE_TTL", c.CodeTTL},
		{"CODE_SWEEP_INTERVAL", c.CodeSweepInterval},
		{"CLAIM_PROOF_TTL", c.ClaimProofTTL},
		{"CLEANUP_INTERVAL", c.CleanupInterval},
	} {
		if d.val <= 0 {
			problems = append(problems, d.key+" must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
