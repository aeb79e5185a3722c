package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/newsjockey/internal/middleware"
	"github.com/hitoshi/newsjockey/internal/model"
)

const (
	defaultArticleLimit = 20
	maxArticleLimit     = 100
)

// ArticleLister は処理済み記事の一覧を取得する。
type ArticleLister interface {
	ListByOwner(ctx context.Context, ownerID string, before *time.Time, limit int) ([]*model.Article, error)
}

// ArticleHandler は処理済み記事一覧のHTTPハンドラー。
type ArticleHandler struct {
	articles ArticleLister
	logger   *slog.Logger
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(articles ArticleLister, logger *slog.Logger) *ArticleHandler {
	return &ArticleHandler{articles: articles, logger: logger}
}

// articleListResponse は記事一覧のAPIレスポンス。
// nextBeforeは次ページ取得時にbeforeへ渡す値で、続きがない場合は省略する。
type articleListResponse struct {
	Articles   []*articleResponse `json:"articles"`
	NextBefore *time.Time         `json:"nextBefore,omitempty"`
}

// ListArticles はユーザーの処理済み記事を新しい順に返す。
// GET /api/articles?limit=&before=
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit, before, apiErr := parseArticleQuery(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	articles, err := h.articles.ListByOwner(r.Context(), userID, before, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := articleListResponse{Articles: make([]*articleResponse, len(articles))}
	for i, a := range articles {
		resp.Articles[i] = toArticleResponse(a)
	}
	if len(articles) == limit {
		last := articles[len(articles)-1].ProcessedAt
		resp.NextBefore = &last
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseArticleQuery はlimitとbeforeクエリパラメータを検証する。
func parseArticleQuery(r *http.Request) (int, *time.Time, *model.APIError) {
	q := r.URL.Query()

	limit := defaultArticleLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxArticleLimit {
			return 0, nil, model.NewInvalidRequestError("limitは1から100の整数で指定してください。")
		}
		limit = n
	}

	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return 0, nil, model.NewInvalidRequestError("beforeはRFC3339形式で指定してください。")
		}
		before = &t
	}

	return limit, before, nil
}
