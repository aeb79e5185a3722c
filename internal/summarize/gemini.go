// Package summarize は記事リンクから英語の要約を生成するGeminiクライアントを提供する。
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/newsjockey/internal/model"
)

const (
	// DefaultModel は要約に使うGeminiモデル。
	DefaultModel = "gemini-1.5-pro-latest"
	// DefaultPrompt は記事リンクの前に置く指示文。
	DefaultPrompt = `Analyse the content of the following news article link and provide a concise summary in English, consisting of three bullet points. Use "*" for each bullet point. Do not include any introductory or concluding remarks. Output only the summary. News Article Link:`

	defaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultHTTPTimeout = 60 * time.Second
	// maxErrorBody はエラー応答から保持する本文の最大バイト数。
	maxErrorBody = 512
)

// Config はGeminiクライアントの設定を保持する。
type Config struct {
	APIKey  string
	Model   string
	Prompt  string
	BaseURL string // テスト用にエンドポイントを差し替え可能
}

// GeminiClient はGemini generateContent APIを呼び出して要約を生成する。
// 状態を持たないため複数のgoroutineから同時に使用できる。
type GeminiClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option はクライアントの設定を上書きする。
type Option func(*GeminiClient)

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(client *http.Client) Option {
	return func(c *GeminiClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewGeminiClient はGeminiClientを生成する。空の設定値は既定値で補う。
func NewGeminiClient(cfg Config, logger *slog.Logger, opts ...Option) *GeminiClient {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = DefaultPrompt
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	c := &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Summarize は記事リンクを指示文とともに送り、箇条書きの英語要約を返す。
// 失敗時のエラーは常にmodel.ErrSummarizationFailedを包む。再試行はしない。
func (c *GeminiClient) Summarize(ctx context.Context, reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", fmt.Errorf("%w: 参照URLが空です", model.ErrSummarizationFailed)
	}
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("%w: APIキーが設定されていません", model.ErrSummarizationFailed)
	}

	payload, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: c.cfg.Prompt + " " + reference}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: リクエストのエンコードに失敗: %w", model.ErrSummarizationFailed, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: リクエスト作成に失敗: %w", model.ErrSummarizationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: Gemini APIの呼び出しに失敗: %w", model.ErrSummarizationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Gemini APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("model", c.cfg.Model),
		)
		return "", fmt.Errorf("%w: Gemini APIがステータス %d を返しました: %s",
			model.ErrSummarizationFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: レスポンスJSONのパースに失敗: %w", model.ErrSummarizationFailed, err)
	}

	summary, err := extractText(decoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrSummarizationFailed, err)
	}
	return summary, nil
}

// extractText は先頭候補のテキストパートを連結して返す。
func extractText(resp generateResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("プロンプトがブロックされました: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("候補が返されませんでした")
	}

	first := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range first.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("空の要約が返されました (finishReason=%q)", first.FinishReason)
	}
	return text, nil
}
