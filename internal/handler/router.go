package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/clinicclaim/internal/metrics"
	"github.com/hitoshi/clinicclaim/internal/middleware"
)

// HealthChecker はデータベースの疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	StatusRecorder    middleware.StatusRecorder // nilの場合はステータス集計を行わない
	Gatherer          prometheus.Gatherer       // nilの場合は/metricsを公開しない
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// クレーム
	ClaimService ClaimServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Logging → StatusMetrics → CORS
//
// クレームAPIはクレームトークンで認可するためセッションとCSRFの検証を行わない。
// 確認コードの送信と照合にはクリニック単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.AuthConfig.CookieSecure}))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	claimHandler := NewClaimHandler(deps.ClaimService)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// 認証ルート
	r.Route("/auth", func(r chi.Router) {
		r.Handle("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		r.With(deps.RateLimiter.SignInMiddleware(middleware.RemoteIPKey)).Post("/signin", authHandler.SignIn)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			r.Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, middleware.CookieConfig{
				Domain: deps.AuthConfig.CookieDomain,
				Secure: deps.AuthConfig.CookieSecure,
			}))
			r.Get("/me", authHandler.Me)
		})
	})

	// クレームルート
	r.Route("/api/claims/{clinicID}", func(r chi.Router) {
		r.Get("/", claimHandler.BeginClaim)
		r.With(deps.RateLimiter.CodeRequestMiddleware(middleware.ClinicIDKey)).Post("/code", claimHandler.RequestCode)
		r.With(deps.RateLimiter.VerifyMiddleware(middleware.ClinicIDKey)).Post("/verify", claimHandler.VerifyCode)
		r.Post("/finalize", claimHandler.FinalizeClaim)
	})

	return r
}

// healthHandler はデータベースへの疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
