package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/newsjockey/internal/middleware"
	"github.com/hitoshi/newsjockey/internal/model"
	"github.com/hitoshi/newsjockey/internal/pipeline"
)

// --- モック定義 ---

type mockProcessor struct {
	processFn func(ctx context.Context, ownerID string) *pipeline.Result
	calls     []string
}

func (m *mockProcessor) ProcessForOwner(ctx context.Context, ownerID string) *pipeline.Result {
	m.calls = append(m.calls, ownerID)
	if m.processFn != nil {
		return m.processFn(ctx, ownerID)
	}
	return &pipeline.Result{Outcome: pipeline.OutcomeNoNewItem}
}

type mockFeedSettingsService struct {
	listFeedsFn  func(ctx context.Context, userID string) ([]*model.FeedSubscription, error)
	addFeedFn    func(ctx context.Context, userID, rawURL string) (*model.FeedSubscription, error)
	removeFeedFn func(ctx context.Context, userID, subscriptionID string) error
}

func (m *mockFeedSettingsService) ListFeeds(ctx context.Context, userID string) ([]*model.FeedSubscription, error) {
	if m.listFeedsFn != nil {
		return m.listFeedsFn(ctx, userID)
	}
	return []*model.FeedSubscription{}, nil
}

func (m *mockFeedSettingsService) AddFeed(ctx context.Context, userID, rawURL string) (*model.FeedSubscription, error) {
	if m.addFeedFn != nil {
		return m.addFeedFn(ctx, userID, rawURL)
	}
	return nil, nil
}

func (m *mockFeedSettingsService) RemoveFeed(ctx context.Context, userID, subscriptionID string) error {
	if m.removeFeedFn != nil {
		return m.removeFeedFn(ctx, userID, subscriptionID)
	}
	return nil
}

type mockArticleLister struct {
	listFn func(ctx context.Context, ownerID string, before *time.Time, limit int) ([]*model.Article, error)
}

func (m *mockArticleLister) ListByOwner(ctx context.Context, ownerID string, before *time.Time, limit int) ([]*model.Article, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, before, limit)
	}
	return nil, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// withUserID はリクエストコンテキストにユーザーIDを注入する。
func withUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body=%s)", err, w.Body.String())
	}
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeJSON(t, w, &body)
	return body
}
