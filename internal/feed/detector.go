// Package feed はフィードの取得・パースと、サイトURLからのフィード自動検出を提供する。
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/newsjockey/internal/model"
	"github.com/hitoshi/newsjockey/internal/security"
)

// FeedType はフィードの種類を表す。
type FeedType string

const (
	FeedTypeRSS  FeedType = "rss"
	FeedTypeAtom FeedType = "atom"
	FeedTypeJSON FeedType = "json"
)

// linkTypes は<link rel="alternate">のtype属性とフィード種別の対応。
var linkTypes = map[string]FeedType{
	"application/rss+xml":   FeedTypeRSS,
	"application/atom+xml":  FeedTypeAtom,
	"application/feed+json": FeedTypeJSON,
}

// FeedCandidate はHTMLから検出されたフィード候補を表す。
type FeedCandidate struct {
	URL      string
	FeedType FeedType
	Title    string
}

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// detectTimeout と detectMaxBodySize は検出時のHTTP取得の上限。
const (
	detectTimeout     = 10 * time.Second
	detectMaxBodySize = 5 * 1024 * 1024
)

// FeedDetector はフィード自動検出機能を提供する。
type FeedDetector struct {
	ssrfGuard SSRFValidator
}

// NewFeedDetector はFeedDetectorの新しいインスタンスを生成する。
func NewFeedDetector(ssrfGuard SSRFValidator) *FeedDetector {
	return &FeedDetector{
		ssrfGuard: ssrfGuard,
	}
}

// IsDirectFeed はContent-Typeとボディから、レスポンスがフィードそのものかを判定する。
func (d *FeedDetector) IsDirectFeed(contentType string, body []byte) bool {
	mediaType := parseMediaType(contentType)

	if _, ok := linkTypes[mediaType]; ok {
		return true
	}

	if len(body) == 0 {
		return false
	}

	switch mediaType {
	case "text/xml", "application/xml":
		return isRSSOrAtomXML(body)
	case "application/json":
		return isJSONFeed(body)
	}
	return false
}

// parseMediaType はContent-Typeからパラメータを除いた小文字のメディアタイプを返す。
func parseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// sniffPrefix はボディ先頭の検査対象（小文字化済み、最大4KB）を返す。
func sniffPrefix(body []byte) string {
	n := min(len(body), 4096)
	return strings.ToLower(string(body[:n]))
}

func isRSSOrAtomXML(body []byte) bool {
	prefix := sniffPrefix(body)
	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

func isJSONFeed(body []byte) bool {
	return strings.Contains(sniffPrefix(body), "jsonfeed.org/version")
}

// ParseFeedLinksFromHTML はHTMLのhead内の<link rel="alternate">からフィード候補を抽出する。
// 相対URLはbaseURLを基準に絶対URLに解決される。
func (d *FeedDetector) ParseFeedLinksFromHTML(htmlBody []byte, baseURL string) []FeedCandidate {
	var candidates []FeedCandidate

	base, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return candidates
	}

	doc.Find("head link[href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		if !slices.Contains(rel, "alternate") {
			return
		}

		feedType, ok := linkTypes[strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))]
		if !ok {
			return
		}

		resolved := resolveURL(base, strings.TrimSpace(s.AttrOr("href", "")))
		if resolved == "" {
			return
		}

		candidates = append(candidates, FeedCandidate{
			URL:      resolved,
			FeedType: feedType,
			Title:    strings.TrimSpace(s.AttrOr("title", "")),
		})
	})

	return candidates
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	if rawRef == "" {
		return ""
	}
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// SelectBestFeed は候補から1件を選ぶ。入力URLと同一ホストの候補を優先し、同条件なら文書順で先頭。
func (d *FeedDetector) SelectBestFeed(candidates []FeedCandidate, inputURL string) *FeedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := extractHost(inputURL)
	for i := range candidates {
		if extractHost(candidates[i].URL) == inputHost {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

// extractHost はURLからホスト名を抽出する。
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DetectFeedURL はURLがフィードかHTMLかを判定し、購読すべきフィードURLを返す。
// 返すエラーは常に*model.APIError。
func (d *FeedDetector) DetectFeedURL(ctx context.Context, inputURL string) (string, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}

	if err := d.ssrfGuard.ValidateURL(inputURL); err != nil {
		if errors.Is(err, security.ErrInvalidURL) {
			return "", model.NewInvalidURLError(err.Error())
		}
		return "", model.NewSSRFBlockedError()
	}

	client := d.ssrfGuard.NewSafeClient(detectTimeout, detectMaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, detectMaxBodySize))
	if err != nil {
		return "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if d.IsDirectFeed(contentType, body) {
		return inputURL, nil
	}

	if !strings.Contains(parseMediaType(contentType), "html") {
		return "", model.NewFeedNotDetectedError(inputURL)
	}

	best := d.SelectBestFeed(d.ParseFeedLinksFromHTML(body, inputURL), inputURL)
	if best == nil {
		return "", model.NewFeedNotDetectedError(inputURL)
	}

	// 検出したリンク先も登録前に検証する
	if err := d.ssrfGuard.ValidateURL(best.URL); err != nil {
		return "", model.NewSSRFBlockedError()
	}

	return best.URL, nil
}
