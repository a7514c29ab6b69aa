package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/clinicclaim/internal/auth"
	"github.com/hitoshi/clinicclaim/internal/claim"
	"github.com/hitoshi/clinicclaim/internal/codestore"
	"github.com/hitoshi/clinicclaim/internal/config"
	"github.com/hitoshi/clinicclaim/internal/metrics"
	"github.com/hitoshi/clinicclaim/internal/middleware"
	"github.com/hitoshi/clinicclaim/internal/notify"
	"github.com/hitoshi/clinicclaim/internal/repository"
	"github.com/hitoshi/clinicclaim/internal/security"
)

// codeStoreBundle は設定に応じて選択した確認コードストアと、その後始末を保持する。
type codeStoreBundle struct {
	store codestore.Store
	// memory はインメモリストアを選択した場合のみ設定される。スイーパーの起動に使う。
	memory *codestore.MemoryStore
	close  func() error
}

// newCodeStore はCODE_STOREの値に応じて確認コードストアを生成する。
func newCodeStore(ctx context.Context, cfg *config.Config, db *sql.DB) (*codeStoreBundle, error) {
	switch cfg.CodeStore {
	case config.CodeStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &codeStoreBundle{
			store: codestore.NewRedisStore(client),
			close: client.Close,
		}, nil
	case config.CodeStoreMemory:
		mem := codestore.NewMemoryStore(nil)
		return &codeStoreBundle{
			store:  mem,
			memory: mem,
			close:  func() error { return nil },
		}, nil
	case config.CodeStorePostgres:
		return &codeStoreBundle{
			store: codestore.NewPostgresStore(db, nil),
			close: func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported code store: %q", cfg.CodeStore)
	}
}

// newNotifier はNOTIFIERの値に応じて確認コードの送信実装を生成する。
// http送信はSSRFガード付きのHTTPクライアントを使い、ゲートウェイURLは起動時に検証する。
func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.Notifier != config.NotifierHTTP {
		logger.Warn("verification codes are not delivered; using log notifier")
		return notify.NewLogSender(logger), nil
	}

	guard := security.NewSSRFGuard()
	client := guard.NewSafeClient(cfg.NotifyTimeout)

	var email, phone notify.Sender
	if cfg.EmailAPIURL != "" {
		if err := guard.ValidateURL(cfg.EmailAPIURL); err != nil {
			return nil, fmt.Errorf("invalid EMAIL_API_URL: %w", err)
		}
		email = notify.NewEmailAPISender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, client)
	}
	if cfg.SMSAPIURL != "" {
		if err := guard.ValidateURL(cfg.SMSAPIURL); err != nil {
			return nil, fmt.Errorf("invalid SMS_API_URL: %w", err)
		}
		phone = notify.NewSMSGatewaySender(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSSender, client)
	}
	return notify.NewRouter(email, phone), nil
}

// newRateLimiterConfig は設定値（req/min）からレート制限設定を組み立てる。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitCodeRequests > 0 {
		rl.CodeRequestRate = middleware.PerMinute(cfg.RateLimitCodeRequests)
		rl.CodeRequestBurst = cfg.RateLimitCodeRequests
	}
	if cfg.RateLimitVerify > 0 {
		rl.VerifyRate = middleware.PerMinute(cfg.RateLimitVerify)
		rl.VerifyBurst = cfg.RateLimitVerify
	}
	if cfg.RateLimitSignIn > 0 {
		rl.SignInRate = middleware.PerMinute(cfg.RateLimitSignIn)
		rl.SignInBurst = cfg.RateLimitSignIn
	}
	return rl
}

// services はserveコマンドで使うサービス群。
type services struct {
	auth     *auth.Service
	claim    *claim.Service
	sessions *repository.PostgresSessionRepo
}

// newServices はリポジトリとドメインサービスを組み立てる。
func newServices(
	cfg *config.Config,
	db *sql.DB,
	codes codestore.Store,
	notifier notify.Notifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *services {
	clinicRepo := repository.NewPostgresClinicRepo(db)
	accountRepo := repository.NewPostgresAccountRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	orphanRepo := repository.NewPostgresOrphanRepo(db)

	authService := auth.NewService(accountRepo, profileRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})

	claimService := claim.NewService(claim.Deps{
		Registry:         clinicRepo,
		Codes:            codes,
		Notifier:         notifier,
		Accounts:         authService,
		Orphans:          orphanRepo,
		Sanitizer:        security.NewTextSanitizer(),
		Proofs:           claim.NewProofIssuer([]byte(cfg.ClaimProofSecret), cfg.ClaimProofTTL, nil),
		Metrics:          collector,
		Logger:           logger,
		IsDuplicateEmail: isDuplicateEmail,
	}, claim.Config{
		CodeTTL:                 cfg.CodeTTL,
		RequireProof:            cfg.RequireVerificationProof,
		AllowManualVerification: cfg.AllowManualVerification,
	})

	return &services{
		auth:     authService,
		claim:    claimService,
		sessions: sessionRepo,
	}
}

// isDuplicateEmail はアカウント作成エラーがメールアドレス重複かを判定する。
func isDuplicateEmail(err error) bool {
	return errors.Is(err, auth.ErrDuplicateEmail)
}

// newMetrics はメトリクス用のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	return reg, metrics.NewCollector(reg)
}

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second
