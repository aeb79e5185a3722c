// Package app はコマンドの解析と各起動モードのワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/newsjockey/internal/config"
	"github.com/hitoshi/newsjockey/internal/database"
	"github.com/hitoshi/newsjockey/internal/feed"
	"github.com/hitoshi/newsjockey/internal/handler"
	"github.com/hitoshi/newsjockey/internal/logger"
	"github.com/hitoshi/newsjockey/internal/metrics"
	"github.com/hitoshi/newsjockey/internal/middleware"
	"github.com/hitoshi/newsjockey/internal/subscription"
	"github.com/hitoshi/newsjockey/internal/worker/cleanup"
	"github.com/hitoshi/newsjockey/internal/worker/scheduler"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、設定を読み込んだ後にLOG_LEVELを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 設定を読み込む
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
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandProcess:
		ownerID, err := processOwnerID(args)
		if err != nil {
			return err
		}
		return runProcess(cfg, ownerID)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	c, err := openComponents(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	subService := subscription.NewService(c.subs, feed.NewFeedDetector(c.ssrfGuard), log)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitProcess), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		SessionFinder:     c.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.NewCSRF(middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}, log),

		HealthChecker:  c.db,
		MetricsHandler: metrics.Handler(c.registry),
		AudioDir:       c.store.Dir(),

		Processor:           c.orchestrator,
		FeedSettingsService: subService,
		ArticleLister:       c.articles,
	})

	// 書き込みタイムアウトはパイプライン実行の締め切りより長くする。締め切りなしなら無制限
	var writeTimeout time.Duration
	if cfg.RunTimeout > 0 {
		writeTimeout = cfg.RunTimeout + 15*time.Second
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
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

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// パイプラインの定期実行と、孤立した音声ファイルの掃除を行う。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	c, err := openComponents(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	sched := scheduler.NewScheduler(c.subs, c.orchestrator, log, cfg.WorkerMaxConcurrent)

	sweep := cleanup.NewAudioSweepJob(c.store, c.articles, c.metrics, log)
	sweep.GracePeriod = cfg.AudioSweepGrace

	ctx, stop := signalContext()
	defer stop()

	log.Info("worker starting",
		slog.Duration("interval", cfg.WorkerInterval),
		slog.Int("max_concurrent", cfg.WorkerMaxConcurrent),
		slog.Duration("audio_sweep_interval", cfg.AudioSweepInterval),
	)

	// 音声掃除をバックグラウンドで定期実行
	go runPeriodically(ctx, cfg.AudioSweepInterval, func(ctx context.Context) {
		if _, err := sweep.Run(ctx); err != nil {
			log.Error("audio sweep failed", slog.String("error", err.Error()))
		}
	})

	// スケジューラをメインgoroutineで実行（ブロッキング）
	sched.Start(ctx, cfg.WorkerInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runPeriodically は起動直後に1回、その後intervalごとにfnを実行する。
func runPeriodically(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runProcess は指定ユーザーのパイプラインを1回実行し、結果をログに出力する。
// 失敗した場合はエラーを返す。
func runProcess(cfg *config.Config, ownerID string) error {
	log := slog.Default()

	c, err := openComponents(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signalContext()
	defer stop()

	user, err := c.users.FindByID(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %s not found", ownerID)
	}

	result := c.orchestrator.ProcessForOwner(ctx, ownerID)
	if !result.Succeeded() {
		return fmt.Errorf("pipeline failed at %s: %w", result.Stage, result.Err)
	}

	attrs := []any{
		slog.String("owner_id", ownerID),
		slog.String("outcome", string(result.Outcome)),
		slog.String("message", result.Message()),
	}
	if result.Article != nil {
		attrs = append(attrs,
			slog.String("source_url", result.Article.SourceURL),
			slog.String("audio_url", result.Article.AudioURL),
		)
	}
	log.Info("process completed", attrs...)
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

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
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
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
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
