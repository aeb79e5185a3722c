package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsjockey/internal/middleware"
	"github.com/hitoshi/newsjockey/internal/model"
)

// FeedSettingsService はフィード設定ハンドラーが必要とするサービスインターフェース。
type FeedSettingsService interface {
	ListFeeds(ctx context.Context, userID string) ([]*model.FeedSubscription, error)
	AddFeed(ctx context.Context, userID, rawURL string) (*model.FeedSubscription, error)
	RemoveFeed(ctx context.Context, userID, subscriptionID string) error
}

// FeedSettingsHandler はフィード設定のHTTPハンドラー。
type FeedSettingsHandler struct {
	service FeedSettingsService
	logger  *slog.Logger
}

// NewFeedSettingsHandler はFeedSettingsHandlerを生成する。
func NewFeedSettingsHandler(service FeedSettingsService, logger *slog.Logger) *FeedSettingsHandler {
	return &FeedSettingsHandler{service: service, logger: logger}
}

// feedResponse はフィード設定のAPIレスポンス。
type feedResponse struct {
	ID      string    `json:"id"`
	RSSURL  string    `json:"rssUrl"`
	AddedAt time.Time `json:"addedAt"`
}

// addFeedRequest はフィード追加リクエストのボディ。
type addFeedRequest struct {
	RSSURL string `json:"rssUrl"`
}

func toFeedResponse(sub *model.FeedSubscription) feedResponse {
	return feedResponse{ID: sub.ID, RSSURL: sub.URL, AddedAt: sub.AddedAt}
}

// ListFeeds はユーザーのフィード設定を登録順で返す。
// 先頭のフィードがパイプラインの処理対象になる。
// GET /api/settings/feeds
func (h *FeedSettingsHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	subs, err := h.service.ListFeeds(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	feeds := make([]feedResponse, len(subs))
	for i, sub := range subs {
		feeds[i] = toFeedResponse(sub)
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

// AddFeed はフィード設定を追加する。
// POST /api/settings/feeds
func (h *FeedSettingsHandler) AddFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}
	req.RSSURL = strings.TrimSpace(req.RSSURL)
	if req.RSSURL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("rssUrlを指定してください。"))
		return
	}

	sub, err := h.service.AddFeed(r.Context(), userID, req.RSSURL)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(sub))
}

// RemoveFeed はフィード設定を削除する。
// DELETE /api/settings/feeds/{id}
func (h *FeedSettingsHandler) RemoveFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveFeed(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
