package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsjockey/internal/model"
)

// userAgent はフィード取得時に送るUser-Agent。
const userAgent = "NewsJockey/1.0"

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultPermanent は設定の見直しが必要なステータス（404/410/401/403）。
	FetchResultPermanent
	// FetchResultTransient は時間をおけば回復しうるステータス（429/5xx）。
	FetchResultTransient
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// String はログ出力用の分類名を返す。
func (r FetchResult) String() string {
	switch r {
	case FetchResultOK:
		return "ok"
	case FetchResultPermanent:
		return "permanent"
	case FetchResultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return FetchResultPermanent
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultPermanent
	case statusCode == http.StatusTooManyRequests:
		return FetchResultTransient
	case statusCode >= 500:
		return FetchResultTransient
	default:
		return FetchResultUnknown
	}
}

// TextSanitizer はフィード由来の文字列をプレーンテキストにする。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Source はフィードを取得し、文書順の候補記事に変換する。
// 複数のgoroutineから同時に使用できる。
type Source struct {
	ssrfGuard   SSRFValidator
	sanitizer   TextSanitizer
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewSource はSourceの新しいインスタンスを生成する。
func NewSource(
	ssrfGuard SSRFValidator,
	sanitizer TextSanitizer,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Source {
	return &Source{
		ssrfGuard:   ssrfGuard,
		sanitizer:   sanitizer,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はフィードを取得してパースし、リンクを持つ記事を文書順で返す。
// 失敗時のエラーは常にmodel.ErrFeedUnavailableを包む。
// 記事が0件の場合は空スライスとnilを返す。
func (s *Source) Fetch(ctx context.Context, feedURL string) ([]model.CandidateItem, error) {
	start := time.Now()

	if err := s.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("%w: SSRF検証に失敗: %w", model.ErrFeedUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: リクエスト作成に失敗: %w", model.ErrFeedUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, */*")

	client := s.ssrfGuard.NewSafeClient(s.timeout, s.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: HTTPリクエスト失敗: %w", model.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if result := ClassifyHTTPStatus(resp.StatusCode); result != FetchResultOK {
		s.logger.Warn("フィード取得が正常に完了しませんでした",
			slog.String("feed_url", feedURL),
			slog.Int("http_status", resp.StatusCode),
			slog.String("classification", result.String()),
		)
		return nil, fmt.Errorf("%w: HTTPステータス %d (%s)", model.ErrFeedUnavailable, resp.StatusCode, result)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: レスポンス読み取り失敗: %w", model.ErrFeedUnavailable, err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: フィードのパースに失敗: %w", model.ErrFeedUnavailable, err)
	}

	items := s.convertItems(parsed.Items)

	s.logger.Debug("フィードを取得しました",
		slog.String("feed_url", feedURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("items_total", len(parsed.Items)),
		slog.Int("items_linkable", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return items, nil
}

// convertItems はgofeedの記事をCandidateItemに変換する。
// LinkもURL形式のGUIDも持たない記事は重複判定できないため除外する。
func (s *Source) convertItems(items []*gofeed.Item) []model.CandidateItem {
	candidates := make([]model.CandidateItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		link := strings.TrimSpace(item.Link)
		if link == "" && isHTTPURL(item.GUID) {
			link = strings.TrimSpace(item.GUID)
		}
		if link == "" {
			continue
		}

		candidate := model.CandidateItem{
			Title: s.sanitizer.Sanitize(item.Title),
			Link:  link,
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			candidate.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			candidate.PublishedAt = &t
		}

		candidates = append(candidates, candidate)
	}

	return candidates
}

func isHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
