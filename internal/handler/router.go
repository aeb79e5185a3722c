package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsjockey/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              *middleware.CSRF

	// 認証不要
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	AudioDir       string

	// 認証必要
	Processor           Processor
	FeedSettingsService FeedSettingsService
	ArticleLister       ArticleLister
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// /health, /metrics, /audio/*, /api/csrf-token はセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	processHandler := NewProcessHandler(deps.Processor, deps.Logger)
	feedHandler := NewFeedSettingsHandler(deps.FeedSettingsService, deps.Logger)
	articleHandler := NewArticleHandler(deps.ArticleLister, deps.Logger)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Handle("/audio/*", http.StripPrefix("/audio/", newAudioFileServer(deps.AudioDir)))
	r.Method(http.MethodGet, "/api/csrf-token", deps.CSRF.TokenHandler())

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.Logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.CSRF.Middleware())

		// パイプライン実行（実行専用レート制限を追加）
		r.Route("/api/process-news", func(r chi.Router) {
			r.Use(deps.RateLimiter.ProcessMiddleware())
			r.Post("/", processHandler.ProcessNews)
			r.Get("/", processHandler.ProcessNews)
		})

		// フィード設定
		r.Route("/api/settings/feeds", func(r chi.Router) {
			r.Get("/", feedHandler.ListFeeds)
			r.Post("/", feedHandler.AddFeed)
			r.Delete("/{id}", feedHandler.RemoveFeed)
		})

		// 処理済み記事
		r.Get("/api/articles", articleHandler.ListArticles)
	})

	return r
}

// newAudioFileServer は保存済み音声ファイルを配信するハンドラーを返す。
// ディレクトリ一覧は返さない。
func newAudioFileServer(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
