package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsjockey/internal/audio"
	"github.com/hitoshi/newsjockey/internal/config"
	"github.com/hitoshi/newsjockey/internal/database"
	"github.com/hitoshi/newsjockey/internal/feed"
	"github.com/hitoshi/newsjockey/internal/metrics"
	"github.com/hitoshi/newsjockey/internal/pipeline"
	"github.com/hitoshi/newsjockey/internal/repository"
	"github.com/hitoshi/newsjockey/internal/security"
	"github.com/hitoshi/newsjockey/internal/speech"
	"github.com/hitoshi/newsjockey/internal/summarize"
	"github.com/hitoshi/newsjockey/internal/translate"
)

// components はserve・worker・processで共有する依存関係。
type components struct {
	db       *sql.DB
	registry *prometheus.Registry
	metrics  *metrics.Collector

	articles *repository.PostgresArticleRepo
	subs     *repository.PostgresSubscriptionRepo
	sessions *repository.PostgresSessionRepo
	users    *repository.PostgresUserRepo

	ssrfGuard feed.SSRFValidator
	store     *audio.FileStore

	orchestrator *pipeline.Orchestrator
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	return c.db.Close()
}

// openComponents はDBに接続し、パイプラインまでの依存関係をワイヤリングする。
func openComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	c, err := wireComponents(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// wireComponents は接続済みのDBから依存関係を構築する。
func wireComponents(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	c := &components{db: db}

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 3. リポジトリ
	c.articles = repository.NewPostgresArticleRepo(db)
	c.subs = repository.NewPostgresSubscriptionRepo(db)
	c.sessions = repository.NewPostgresSessionRepo(db)
	c.users = repository.NewPostgresUserRepo(db)

	// 4. セキュリティ
	c.ssrfGuard = security.NewSSRFGuardWithConfig(security.SSRFGuardConfig{
		AllowedPorts: cfg.SSRFAllowedPorts,
	})

	// 5. 音声ストア
	store, err := audio.NewFileStore(cfg.AudioDir, cfg.AudioPublicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audio store: %w", err)
	}
	c.store = store

	// 6. パイプライン
	policy, err := pipeline.ParseOrphanPolicy(cfg.OrphanPolicy)
	if err != nil {
		return nil, err
	}

	source := feed.NewSource(c.ssrfGuard, security.NewTextSanitizer(), logger, cfg.FetchTimeout, cfg.FetchMaxSize)
	summarizer := summarize.NewGeminiClient(summarize.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
		Prompt: cfg.SummaryPrompt,
	}, logger)
	translator := translate.NewDeepLClient(translate.Config{
		APIKey:   cfg.DeepLAPIKey,
		Endpoint: cfg.DeepLEndpoint,
	}, logger)
	synthesizer := speech.NewGoogleTTSClient(speech.Config{APIKey: cfg.TTSAPIKey}, logger)

	c.orchestrator = pipeline.NewOrchestrator(pipeline.Deps{
		Feeds:       c.subs,
		Source:      source,
		Articles:    c.articles,
		Summarizer:  summarizer,
		Translator:  translator,
		Synthesizer: synthesizer,
		Audio:       c.store,
		Recorder:    c.metrics,
		Logger:      logger,
	}, pipeline.Config{
		SourceLang:     cfg.SourceLang,
		TargetLang:     cfg.TargetLang,
		Voice:          cfg.Voice,
		MaxItemsPerRun: cfg.MaxItemsPerRun,
		RunTimeout:     cfg.RunTimeout,
		OrphanPolicy:   policy,
	})

	resolved := c.orchestrator.Config()
	logger.Info("pipeline configured",
		slog.String("orphan_policy", string(resolved.OrphanPolicy)),
		slog.Int("max_items_per_run", resolved.MaxItemsPerRun),
		slog.Duration("run_timeout", resolved.RunTimeout),
		slog.String("language_pair", resolved.SourceLang+"->"+resolved.TargetLang),
		slog.String("voice", resolved.Voice.LanguageCode),
		slog.String("audio_dir", c.store.Dir()),
	)

	return c, nil
}
