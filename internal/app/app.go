package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/invisibilled/internal/auth"
	"github.com/hitoshi/invisibilled/internal/billing"
	"github.com/hitoshi/invisibilled/internal/config"
	"github.com/hitoshi/invisibilled/internal/database"
	"github.com/hitoshi/invisibilled/internal/handler"
	"github.com/hitoshi/invisibilled/internal/integration"
	"github.com/hitoshi/invisibilled/internal/logger"
	"github.com/hitoshi/invisibilled/internal/metrics"
	"github.com/hitoshi/invisibilled/internal/middleware"
	"github.com/hitoshi/invisibilled/internal/repository"
	"github.com/hitoshi/invisibilled/internal/security"
	"github.com/hitoshi/invisibilled/internal/worker/overdue"
)

// jwksFetchTimeout はJWKS取得のタイムアウト。
const jwksFetchTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

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
	cmd, ok := ParseCommand(args)
	if !ok {
		return usageError(args[0])
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

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	router, closeRouter, err := buildRouter(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer closeRouter()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
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

// buildRouter はDB接続と設定から全依存関係を組み立て、ルーターを返す。
// 返却するclose関数はレートリミッターのクリーンアップを停止する。
func buildRouter(cfg *config.Config, db *sql.DB, log *slog.Logger) (http.Handler, func(), error) {
	// 1. セキュリティサービスの初期化
	guard := security.NewOutboundGuard()
	sanitizer := security.NewTextSanitizer()

	// 2. トークン検証
	verifier, err := auth.NewVerifier(auth.Config{
		PEMKey:            cfg.ClerkJWTKey,
		JWKSURL:           cfg.ClerkJWKSURL,
		SecretKey:         cfg.ClerkSecretKey,
		CacheTTL:          cfg.JWKSCacheTTL,
		AuthorizedParties: cfg.ClerkAuthorizedParties,
		HTTPClient:        guard.NewSafeClient(jwksFetchTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// 3. メトリクス
	reg, collector := newMetricsRegistry()

	// 4. リポジトリの初期化
	invoiceRepo := repository.NewPostgresInvoiceRepo(db)
	entryRepo := repository.NewPostgresTimeEntryRepo(db)
	connRepo := repository.NewPostgresConnectionRepo(db)

	// 5. ドメインサービスの初期化
	pricing := billing.Pricing{HourlyRate: cfg.HourlyRate, Currency: cfg.Currency}
	invoiceService := billing.NewInvoiceService(invoiceRepo, entryRepo, sanitizer, collector, pricing)
	entryService := billing.NewTimeEntryService(entryRepo, invoiceRepo, sanitizer, pricing)

	providers, err := integration.NewProviders(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure integrations: %w", err)
	}
	if err := integration.ValidateProviders(providers, guard); err != nil {
		return nil, nil, fmt.Errorf("invalid integration endpoint: %w", err)
	}
	for name, p := range providers {
		log.Info("integration configured",
			slog.String("integration", string(name)),
			slog.Bool("enabled", p.Enabled()),
		)
	}
	integrationService := integration.NewService(
		providers, connRepo, guard.NewSafeClient(cfg.UpstreamTimeout), collector, log,
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitUpstream),
	)
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}

	deps := &handler.RouterDeps{
		Verifier:          verifier,
		SessionCookieName: cfg.SessionCookieName,
		CSRFConfig:        csrfConfig,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,

		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  db,

		InvoiceService:   invoiceService,
		TimeEntryService: entryService,

		IntegrationService: integrationService,
		IntegrationConfig: handler.IntegrationHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
		},
	}

	return handler.NewRouter(deps), rateLimiter.Stop, nil
}

// newMetricsRegistry はランタイムのコレクターとアプリケーションのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildWorker は期限超過ジョブと、そのメトリクスを公開するハンドラーを組み立てる。
func buildWorker(cfg *config.Config, db *sql.DB) (*overdue.Job, http.Handler) {
	reg, collector := newMetricsRegistry()

	job := overdue.NewJob(repository.NewPostgresInvoiceRepo(db), collector, slog.Default())
	job.DueDays = cfg.InvoiceDueDays

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return job, mux
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限超過の請求書を定期的に更新する。
// メトリクスはWORKER_METRICS_PORTの/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job, metricsHandler := buildWorker(cfg, db)
	interval := cfg.OverdueCheckInterval
	if interval <= 0 {
		interval = time.Hour
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := &http.Server{
		Addr:         ":" + cfg.WorkerMetricsPort,
		Handler:      metricsHandler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("interval", interval),
		slog.Int("due_days", cfg.InvoiceDueDays),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, interval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker metrics server shutdown error", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
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
