package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsjockey/internal/model"
)

func TestFeedSettingsHandler_ListFeeds(t *testing.T) {
	added := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockFeedSettingsService{
		listFeedsFn: func(ctx context.Context, userID string) ([]*model.FeedSubscription, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return []*model.FeedSubscription{
				{ID: "sub-1", UserID: userID, URL: "https://example.com/feed.xml", AddedAt: added},
				{ID: "sub-2", UserID: userID, URL: "https://example.org/rss", AddedAt: added.Add(time.Hour)},
			}, nil
		},
	}
	h := NewFeedSettingsHandler(svc, discardLogger())

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/settings/feeds", nil), "user-1")
	w := httptest.NewRecorder()
	h.ListFeeds(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Feeds []feedResponse `json:"feeds"`
	}
	decodeJSON(t, w, &body)
	if len(body.Feeds) != 2 {
		t.Fatalf("feeds = %d, want 2", len(body.Feeds))
	}
	if body.Feeds[0].RSSURL != "https://example.com/feed.xml" {
		t.Errorf("first feed = %q, registration order should be kept", body.Feeds[0].RSSURL)
	}
}

func TestFeedSettingsHandler_ListFeeds_EmptyIsArray(t *testing.T) {
	h := NewFeedSettingsHandler(&mockFeedSettingsService{}, discardLogger())

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/settings/feeds", nil), "user-1")
	w := httptest.NewRecorder()
	h.ListFeeds(w, req)

	if got := strings.TrimSpace(w.Body.String()); got != `{"feeds":[]}` {
		t.Errorf("body = %s, want {\"feeds\":[]}", got)
	}
}

func TestFeedSettingsHandler_AddFeed(t *testing.T) {
	svc := &mockFeedSettingsService{
		addFeedFn: func(ctx context.Context, userID, rawURL string) (*model.FeedSubscription, error) {
			if rawURL != "https://example.com" {
				t.Errorf("rawURL = %q, want trimmed URL", rawURL)
			}
			return &model.FeedSubscription{ID: "sub-1", UserID: userID, URL: "https://example.com/feed.xml"}, nil
		},
	}
	h := NewFeedSettingsHandler(svc, discardLogger())

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/settings/feeds",
		strings.NewReader(`{"rssUrl":"  https://example.com  "}`)), "user-1")
	w := httptest.NewRecorder()
	h.AddFeed(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var body feedResponse
	decodeJSON(t, w, &body)
	if body.RSSURL != "https://example.com/feed.xml" || body.ID != "sub-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestFeedSettingsHandler_AddFeed_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeInvalidRequest},
		{name: "empty url", body: `{"rssUrl":" "}`, wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeInvalidURL},
		{
			name:       "feed not detected",
			body:       `{"rssUrl":"https://example.com"}`,
			serviceErr: model.NewFeedNotDetectedError("https://example.com"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   model.ErrCodeFeedNotDetected,
		},
		{
			name:       "ssrf blocked",
			body:       `{"rssUrl":"http://127.0.0.1"}`,
			serviceErr: model.NewSSRFBlockedError(),
			wantStatus: http.StatusForbidden,
			wantCode:   model.ErrCodeSSRFBlocked,
		},
		{
			name:       "duplicate",
			body:       `{"rssUrl":"https://example.com"}`,
			serviceErr: model.NewDuplicateSubscriptionError(),
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrCodeDuplicateSubscription,
		},
		{
			name:       "limit",
			body:       `{"rssUrl":"https://example.com"}`,
			serviceErr: model.NewSubscriptionLimitError(100),
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrCodeSubscriptionLimit,
		},
		{
			name:       "repository unavailable",
			body:       `{"rssUrl":"https://example.com"}`,
			serviceErr: fmt.Errorf("フィード設定数の取得に失敗しました: %w", model.ErrRepositoryUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   model.ErrCodeRepositoryUnavailable,
		},
		{
			name:       "unexpected",
			body:       `{"rssUrl":"https://example.com"}`,
			serviceErr: errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFeedSettingsService{
				addFeedFn: func(ctx context.Context, userID, rawURL string) (*model.FeedSubscription, error) {
					return nil, tt.serviceErr
				},
			}
			h := NewFeedSettingsHandler(svc, discardLogger())

			req := withUserID(httptest.NewRequest(http.MethodPost, "/api/settings/feeds", strings.NewReader(tt.body)), "user-1")
			w := httptest.NewRecorder()
			h.AddFeed(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeAPIError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestFeedSettingsHandler_RemoveFeed(t *testing.T) {
	var gotID string
	svc := &mockFeedSettingsService{
		removeFeedFn: func(ctx context.Context, userID, subscriptionID string) error {
			gotID = subscriptionID
			return nil
		},
	}
	h := NewFeedSettingsHandler(svc, discardLogger())

	r := chi.NewRouter()
	r.Delete("/api/settings/feeds/{id}", h.RemoveFeed)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/settings/feeds/sub-1", nil), "user-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if gotID != "sub-1" {
		t.Errorf("subscription ID = %q, want sub-1", gotID)
	}
}

func TestFeedSettingsHandler_RemoveFeed_NotFound(t *testing.T) {
	svc := &mockFeedSettingsService{
		removeFeedFn: func(ctx context.Context, userID, subscriptionID string) error {
			return model.NewSubscriptionNotFoundError(subscriptionID)
		},
	}
	h := NewFeedSettingsHandler(svc, discardLogger())

	r := chi.NewRouter()
	r.Delete("/api/settings/feeds/{id}", h.RemoveFeed)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/settings/feeds/other", nil), "user-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
