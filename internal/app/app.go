package app

import (
	"context"
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/auth"
	"github.com/hitoshi/deevent/internal/config"
	"github.com/hitoshi/deevent/internal/database"
	"github.com/hitoshi/deevent/internal/handler"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/metrics"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/repository"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/tracing"
	"github.com/hitoshi/deevent/internal/worker/cleanup"
)

// version はビルド時に -ldflags で上書きする。
var version = "dev"

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		Usage(w)
		return nil
	}

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
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// sessionBackend は選択されたセッションストアとその付随物。
type sessionBackend struct {
	store repository.SessionStore
	// purger は期限切れの削除が必要なストアのみ設定される。Redisはキーの TTL に任せる。
	purger cleanup.Purger
	checks map[string]handler.HealthCheck
	close  func() error
}

// openSessionBackend は設定に応じてセッションストアを開く。
func openSessionBackend(ctx context.Context, cfg *config.Config) (*sessionBackend, error) {
	ttl := cfg.SessionTTL()

	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		db, err := database.OpenAndPing(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store := repository.NewPostgresSessionStore(db, ttl)
		return &sessionBackend{
			store:  store,
			purger: store,
			checks: map[string]handler.HealthCheck{"database": db.PingContext},
			close:  db.Close,
		}, nil

	case config.SessionStoreRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &sessionBackend{
			store: repository.NewRedisSessionStore(client, ttl),
			checks: map[string]handler.HealthCheck{
				"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
			},
			close: client.Close,
		}, nil

	default:
		store := repository.NewMemorySessionStore(ttl)
		return &sessionBackend{
			store:  store,
			purger: store,
			close:  func() error { return nil },
		}, nil
	}
}

// newRegistry はGoランタイムとプロセスのコレクターを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はWebサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. トレーシング
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. セッションストア
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()
	slog.Info("session store ready", slog.String("session_store", cfg.SessionStore))

	// 3. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// メモリストアはワーカーから見えないため、プロセス内で期限切れを削除する
	if cfg.SessionStore == config.SessionStoreMemory {
		job := cleanup.NewCleanupJob(backend.purger, slog.Default())
		job.Interval = cfg.CleanupInterval
		job.Metrics = metrics.NewCleanupCollector(reg)
		go job.Start(ctx)
	}

	// 4. DeEvent APIクライアント
	apiCfg := apiclient.DefaultConfig(cfg.APIBaseURL)
	apiCfg.Timeout = cfg.APITimeout
	apiCfg.Breaker.Timeout = cfg.BreakerTimeout
	apiCfg.Breaker.FailureRatio = cfg.BreakerFailureRatio
	apiCfg.Breaker.MinRequests = cfg.BreakerMinRequests
	client := apiclient.New(apiCfg, collector, slog.Default())

	// 5. 表示とドメインサービス
	sanitizer := security.NewContentSanitizer()
	renderer, err := handler.NewRenderer(sanitizer)
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	sealer, err := newDraftSealer(cfg)
	if err != nil {
		return err
	}
	authService := auth.NewService(client, backend.store, sealer)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	// 6. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		AuthService:       authService,
		API:               client,
		Renderer:          renderer,
		Sanitizer:         sanitizer,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		RateLimiter:       rateLimiter,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Session: middleware.SessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
			NewID:        auth.GenerateSessionID,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HealthChecks: backend.checks,
	})

	// 7. HTTPサーバー
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.APITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はPostgreSQLセッションストアの期限切れ削除ループを起動する。
// 他のストアでは削除対象がないためエラーを返す。
func runWorker(cfg *config.Config) error {
	if cfg.SessionStore != config.SessionStorePostgres {
		return fmt.Errorf("worker requires SESSION_STORE=%s, got %q", config.SessionStorePostgres, cfg.SessionStore)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	slog.Info("database connection established (worker)")

	// ワーカー自身のメトリクスは別ポートで公開する
	reg := newRegistry()
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	job := cleanup.NewCleanupJob(backend.purger, slog.Default())
	job.Interval = cfg.CleanupInterval
	job.Metrics = metrics.NewCleanupCollector(reg)

	slog.Info("worker starting", slog.Duration("cleanup_interval", job.Interval))

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// newDraftSealer は登録下書きの暗号化に使うDraftSealerを返す。
// DRAFT_SECRETが未設定の場合は乱数鍵を使い、再起動で下書きが読めなくなる旨を警告する。
func newDraftSealer(cfg *config.Config) (*security.DraftSealer, error) {
	if cfg.DraftSecret != "" {
		return security.NewDraftSealer(cfg.DraftSecret)
	}
	if cfg.SessionStore != config.SessionStoreMemory {
		slog.Warn("DRAFT_SECRET is not set; registration drafts will not survive a restart or be shared across instances",
			slog.String("session_store", cfg.SessionStore),
		)
	}
	return security.NewEphemeralDraftSealer()
}

// runMigrate はセッションストアのマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	applied, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(applied)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
