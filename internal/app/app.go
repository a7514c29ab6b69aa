package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/clinicclaim/internal/claim"
	"github.com/hitoshi/clinicclaim/internal/config"
	"github.com/hitoshi/clinicclaim/internal/database"
	"github.com/hitoshi/clinicclaim/internal/handler"
	"github.com/hitoshi/clinicclaim/internal/logger"
	"github.com/hitoshi/clinicclaim/internal/metrics"
	"github.com/hitoshi/clinicclaim/internal/middleware"
	"github.com/hitoshi/clinicclaim/internal/repository"
	"github.com/hitoshi/clinicclaim/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// ログレベルはLOG_LEVELで指定する。writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("code_store", cfg.CodeStore),
		slog.String("notifier", cfg.Notifier),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandIssueLink:
		return runIssueLink(ctx, cfg, inv.ClinicID, w)
	default:
		return fmt.Errorf("%w: unhandled command %q", ErrUsage, cmd)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// goServe はserverの起動と、ctx終了時のグレースフルシャットダウンをgに登録する。
func goServe(ctx context.Context, g *errgroup.Group, server *http.Server, name string) {
	g.Go(func() error {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down " + name)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", name, err)
		}
		return nil
	})
}

// runServe はクレームAPIを提供するHTTPサーバーを起動し、ctxがキャンセルされるまで動作する。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	codes, err := newCodeStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer codes.close()

	notifier, err := newNotifier(cfg, slog.Default())
	if err != nil {
		return err
	}

	reg, collector := newMetrics()
	svcs := newServices(cfg, db, codes.store, notifier, collector, slog.Default())

	rateLimiter := middleware.NewRateLimiter(newRateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     svcs.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		StatusRecorder: collector,
		Gatherer:       reg,
		Logger:         slog.Default(),

		AuthService: svcs.auth,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ClaimService: svcs.claim,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	goServe(gctx, g, server, "api server")

	// インメモリストアはworkerプロセスから見えないため、serveプロセスで掃除する
	if codes.memory != nil {
		g.Go(func() error {
			codes.memory.StartSweeper(gctx, cfg.CodeSweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("api server stopped")
	return nil
}

// runWorker は期限切れのセッションと確認コードの削除、孤立アカウントの報告を定期実行する。
// 実行結果のメトリクスは/metricsで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	codes, err := newCodeStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer codes.close()

	var purger cleanup.CodePurger = codes.store
	if codes.memory != nil {
		slog.Warn("code store is in-memory; worker skips code purge")
		purger = nil
	}

	reg, collector := newMetrics()
	job := cleanup.NewCleanupJob(
		db,
		purger,
		repository.NewPostgresOrphanRepo(db),
		collector,
		slog.Default(),
	)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		job.RunEvery(gctx, cfg.CleanupInterval)
		return nil
	})
	goServe(gctx, g, server, "worker metrics server")

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runIssueLink はクリニックに新しいクレームトークンを設定し、クレームリンクをoutに書き出す。
// 以前に発行したリンクは無効になる。
func runIssueLink(ctx context.Context, cfg *config.Config, clinicID string, out io.Writer) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	issuer := claim.NewLinkIssuer(repository.NewPostgresClinicRepo(db), cfg.BaseURL)
	link, err := issuer.Issue(ctx, clinicID)
	if err != nil {
		return fmt.Errorf("failed to issue claim link: %w", err)
	}

	slog.Info("claim link issued", slog.String("clinic_id", clinicID))
	fmt.Fprintln(out, link)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せた文字列を返す。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
