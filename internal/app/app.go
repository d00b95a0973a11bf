package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hitoshi/miniauth/internal/auth"
	"github.com/hitoshi/miniauth/internal/config"
	"github.com/hitoshi/miniauth/internal/credential"
	"github.com/hitoshi/miniauth/internal/database"
	"github.com/hitoshi/miniauth/internal/handler"
	"github.com/hitoshi/miniauth/internal/identity"
	"github.com/hitoshi/miniauth/internal/logger"
	"github.com/hitoshi/miniauth/internal/metrics"
	"github.com/hitoshi/miniauth/internal/middleware"
	"github.com/hitoshi/miniauth/internal/provider"
	"github.com/hitoshi/miniauth/internal/repository"
	"github.com/hitoshi/miniauth/internal/security"
	"github.com/hitoshi/miniauth/internal/user"
	"github.com/hitoshi/miniauth/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("provider_mode", cfg.ProviderMode),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openSessionRepo はSESSION_STOREに応じたセッションリポジトリを返す。
// 返されたclose関数は呼び出し側で必ず実行すること。
func openSessionRepo(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return repository.NewRedisSessionRepo(rdb, cfg.SessionRetention), rdb.Close, nil
	default:
		return repository.NewPostgresSessionRepo(db), func() error { return nil }, nil
	}
}

// newProvider はPROVIDER_MODEに応じたコード交換先を返す。
// 開発ルートが有効な場合はローカルのモックへ到達できるよう通常のHTTPクライアントを使用する。
func newProvider(cfg *config.Config, guard security.URLGuard) provider.Provider {
	if cfg.DevMode() {
		return provider.NewDevProvider(nil)
	}

	client := guard.NewSafeClient(cfg.ProviderTimeout)
	if cfg.EnableDevRoutes {
		client = &http.Client{Timeout: cfg.ProviderTimeout}
	}
	return provider.NewWeChatProvider(provider.WeChatConfig{
		AppID:   cfg.WeChatAppID,
		Secret:  cfg.WeChatSecret,
		BaseURL: cfg.WeChatAPIBaseURL,
	}, client)
}

// buildRouter は全依存関係をワイヤリングしてルーターを構築する。
// 返されたRateLimiterはシャットダウン時にStopすること。
func buildRouter(
	cfg *config.Config,
	db *sql.DB,
	sessionRepo repository.SessionRepository,
	registry *prometheus.Registry,
) (http.Handler, *middleware.RateLimiter, error) {
	userRepo := repository.NewPostgresUserRepo(db)
	identities := identity.NewStore(userRepo, nil)

	issuer, err := credential.NewIssuer(credential.Config{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create credential issuer: %w", err)
	}

	collector := metrics.NewCollector(registry)
	urlGuard := security.NewURLGuard()

	authConfig := auth.ServiceConfig{
		SessionTTL:    cfg.SessionTTL,
		CredentialTTL: cfg.CredentialTTL,
	}
	authService := auth.NewService(newProvider(cfg, urlGuard), identities, issuer, sessionRepo, collector, authConfig)
	guard := auth.NewGuard(identities, issuer, sessionRepo, collector, authConfig)

	userService := user.NewService(userRepo, security.NewProfileSanitizer(), urlGuard)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	deps := &handler.RouterDeps{
		Authenticator:     guard,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,

		AuthService: authService,
		UserService: userService,

		HealthChecker:  db,
		MetricsHandler: metrics.SetupMetricsRoute(registry),
	}

	if cfg.EnableDevRoutes {
		slog.Warn("development routes enabled")
		deps.DevAuthService = authService.WithProvider(provider.NewDevProvider(nil))
		deps.MockProvider = provider.MockJSCode2SessionHandler(nil)
	}

	return handler.NewRouter(deps), rateLimiter, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	sessionRepo, closeSessions, err := openSessionRepo(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	router, rateLimiter, err := buildRouter(cfg, db, sessionRepo, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-stop:
	}

	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 保持期間を過ぎた期限切れセッションを定期的に削除する。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	sessionRepo, closeSessions, err := openSessionRepo(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	job := cleanup.NewCleanupJob(sessionRepo, collector, slog.Default())
	job.Retention = cfg.SessionRetention

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := newWorkerMetricsServer(":"+cfg.WorkerMetricsPort, registry)
	go func() {
		slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("retention", cfg.SessionRetention),
	)

	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はワーカーのメトリクスのみを公開するHTTPサーバーを生成する。
func newWorkerMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
//
//	migrate            未適用のマイグレーションをすべて適用する
//	migrate down [n]   n件（既定1件）ロールバックする
//	migrate version    現在のバージョンを出力する
func runMigrate(cfg *config.Config, args []string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	case "down":
		steps, err := parseSteps(args[1:])
		if err != nil {
			return err
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	return nil
}

// parseSteps はロールバック件数を解析する。省略時は1。
func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid rollback steps %q", args[0])
	}
	return steps, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
