package subscription

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsjockey/internal/model"
)

// --- モック ---

type mockSubRepo struct {
	subs      []*model.FeedSubscription
	count     int
	countErr  error
	createErr error
	deleteFn  func(ctx context.Context, userID, id string) (bool, error)
	created   []*model.FeedSubscription
}

func (m *mockSubRepo) ListByUserID(_ context.Context, _ string) ([]*model.FeedSubscription, error) {
	return m.subs, nil
}
func (m *mockSubRepo) CountByUserID(_ context.Context, _ string) (int, error) {
	return m.count, m.countErr
}
func (m *mockSubRepo) Create(_ context.Context, sub *model.FeedSubscription) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, sub)
	return nil
}
func (m *mockSubRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	return m.deleteFn(ctx, userID, id)
}
func (m *mockSubRepo) ListOwnerIDs(_ context.Context) ([]string, error) {
	return nil, nil
}

type mockDetector struct {
	feedURL string
	err     error
	calls   int
}

func (m *mockDetector) DetectFeedURL(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.feedURL, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func newTestService(repo *mockSubRepo, det *mockDetector) (*Service, *bytes.Buffer) {
	var buf bytes.Buffer
	svc := NewService(repo, det, newTestLogger(&buf))
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	return svc, &buf
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- ListFeeds ---

func TestListFeeds_EmptyReturnsEmptySlice(t *testing.T) {
	svc, _ := newTestService(&mockSubRepo{}, &mockDetector{})

	feeds, err := svc.ListFeeds(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feeds == nil || len(feeds) != 0 {
		t.Errorf("feeds = %v, want empty non-nil slice", feeds)
	}
}

func TestListFeeds_ReturnsRepositoryOrder(t *testing.T) {
	repo := &mockSubRepo{subs: []*model.FeedSubscription{{ID: "a"}, {ID: "b"}}}
	svc, _ := newTestService(repo, &mockDetector{})

	feeds, err := svc.ListFeeds(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feeds) != 2 || feeds[0].ID != "a" {
		t.Errorf("feeds = %v", feeds)
	}
}

// --- AddFeed ---

func TestAddFeed_Success(t *testing.T) {
	repo := &mockSubRepo{}
	det := &mockDetector{feedURL: "https://example.com/feed.xml"}
	svc, logs := newTestService(repo, det)

	sub, err := svc.AddFeed(context.Background(), "u1", "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.URL != "https://example.com/feed.xml" || sub.UserID != "u1" || sub.ID == "" {
		t.Errorf("unexpected subscription: %+v", sub)
	}
	if !sub.AddedAt.Equal(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("AddedAt = %v", sub.AddedAt)
	}
	if len(repo.created) != 1 {
		t.Errorf("created = %d, want 1", len(repo.created))
	}
	if !strings.Contains(logs.String(), "フィードを登録しました") {
		t.Error("registration should be logged")
	}
}

func TestAddFeed_LimitReached(t *testing.T) {
	det := &mockDetector{feedURL: "https://example.com/feed.xml"}
	svc, _ := newTestService(&mockSubRepo{count: MaxFeedsPerUser}, det)

	_, err := svc.AddFeed(context.Background(), "u1", "https://example.com/")
	assertAPIErrorCode(t, err, model.ErrCodeSubscriptionLimit)
	if det.calls != 0 {
		t.Error("detector must not be called when the limit is reached")
	}
}

func TestAddFeed_Duplicate(t *testing.T) {
	repo := &mockSubRepo{createErr: model.ErrDuplicateKey}
	svc, _ := newTestService(repo, &mockDetector{feedURL: "https://example.com/feed.xml"})

	_, err := svc.AddFeed(context.Background(), "u1", "https://example.com/feed.xml")
	assertAPIErrorCode(t, err, model.ErrCodeDuplicateSubscription)
}

func TestAddFeed_DetectorErrorPassedThrough(t *testing.T) {
	det := &mockDetector{err: model.NewSSRFBlockedError()}
	repo := &mockSubRepo{}
	svc, _ := newTestService(repo, det)

	_, err := svc.AddFeed(context.Background(), "u1", "http://127.0.0.1/")
	assertAPIErrorCode(t, err, model.ErrCodeSSRFBlocked)
	if len(repo.created) != 0 {
		t.Error("nothing should be created")
	}
}

func TestAddFeed_RepositoryError(t *testing.T) {
	repo := &mockSubRepo{countErr: model.ErrRepositoryUnavailable}
	svc, _ := newTestService(repo, &mockDetector{})

	_, err := svc.AddFeed(context.Background(), "u1", "https://example.com/")
	if !errors.Is(err, model.ErrRepositoryUnavailable) {
		t.Errorf("err = %v, want ErrRepositoryUnavailable", err)
	}
}

// --- RemoveFeed ---

func TestRemoveFeed_Success(t *testing.T) {
	var gotUser, gotID string
	repo := &mockSubRepo{deleteFn: func(_ context.Context, userID, id string) (bool, error) {
		gotUser, gotID = userID, id
		return true, nil
	}}
	svc, _ := newTestService(repo, &mockDetector{})

	id := "5b0a5b5e-3c1f-4e0a-9f61-1f2b7c9d1a11"
	if err := svc.RemoveFeed(context.Background(), "u1", id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "u1" || gotID != id {
		t.Errorf("Delete called with (%q, %q)", gotUser, gotID)
	}
}

func TestRemoveFeed_NotFound(t *testing.T) {
	repo := &mockSubRepo{deleteFn: func(context.Context, string, string) (bool, error) {
		return false, nil
	}}
	svc, _ := newTestService(repo, &mockDetector{})

	err := svc.RemoveFeed(context.Background(), "u1", "5b0a5b5e-3c1f-4e0a-9f61-1f2b7c9d1a11")
	assertAPIErrorCode(t, err, model.ErrCodeSubscriptionNotFound)
}

func TestRemoveFeed_MalformedID(t *testing.T) {
	repo := &mockSubRepo{deleteFn: func(context.Context, string, string) (bool, error) {
		t.Fatal("Delete must not be called for a malformed id")
		return false, nil
	}}
	svc, _ := newTestService(repo, &mockDetector{})

	err := svc.RemoveFeed(context.Background(), "u1", "not-a-uuid")
	assertAPIErrorCode(t, err, model.ErrCodeSubscriptionNotFound)
}

func TestRemoveFeed_RepositoryError(t *testing.T) {
	repo := &mockSubRepo{deleteFn: func(context.Context, string, string) (bool, error) {
		return false, model.ErrRepositoryUnavailable
	}}
	svc, _ := newTestService(repo, &mockDetector{})

	err := svc.RemoveFeed(context.Background(), "u1", "5b0a5b5e-3c1f-4e0a-9f61-1f2b7c9d1a11")
	if !errors.Is(err, model.ErrRepositoryUnavailable) {
		t.Errorf("err = %v, want ErrRepositoryUnavailable", err)
	}
}
