// Package translate はDeepL APIによる翻訳クライアントを提供する。
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/hitoshi/newsjockey/internal/model"
)

const (
	proEndpoint        = "https://api.deepl.com/v2/translate"
	freeEndpoint       = "https://api-free.deepl.com/v2/translate"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 512
)

// Config はDeepLクライアントの設定を保持する。
type Config struct {
	APIKey string
	// Endpoint が空の場合、APIキーの末尾が":fx"ならFree API、それ以外はPro APIを使う。
	Endpoint string
}

// DeepLClient はDeepLの/v2/translateを呼び出す。
type DeepLClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option はクライアントの設定を上書きする。
type Option func(*DeepLClient)

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(client *http.Client) Option {
	return func(c *DeepLClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewDeepLClient はDeepLClientを生成する。
func NewDeepLClient(cfg Config, logger *slog.Logger, opts ...Option) *DeepLClient {
	key := strings.TrimSpace(cfg.APIKey)
	c := &DeepLClient{
		apiKey:     key,
		endpoint:   ResolveEndpoint(key, cfg.Endpoint),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveEndpoint は明示指定がなければAPIキーの種類からエンドポイントを決める。
func ResolveEndpoint(apiKey, override string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	if strings.HasSuffix(apiKey, ":fx") {
		return freeEndpoint
	}
	return proEndpoint
}

// NormalizeLang はBCP 47の言語タグをDeepLの言語コードに変換する。
// 翻訳元は基本言語のみ（"en-US" → "EN"）。翻訳先は地域・文字体系の指定を残す
// （"en-GB" → "EN-GB", "zh-Hant" → "ZH-HANT"）。
func NormalizeLang(code string, target bool) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("言語コード %q を解釈できません: %w", code, err)
	}
	base, script, region := tag.Raw()
	normalized := strings.ToUpper(base.String())
	if !target {
		return normalized, nil
	}

	switch normalized {
	case "EN", "PT":
		if region.String() != "ZZ" {
			normalized += "-" + strings.ToUpper(region.String())
		}
	case "ZH":
		if script.String() != "Zzzz" {
			normalized += "-" + strings.ToUpper(script.String())
		}
	}
	return normalized, nil
}

type translateRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate はtextをsourceLangからtargetLangに翻訳する。
// 失敗時のエラーは常にmodel.ErrTranslationFailedを包む。再試行はしない。
func (c *DeepLClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: 翻訳対象のテキストが空です", model.ErrTranslationFailed)
	}
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: APIキーが設定されていません", model.ErrTranslationFailed)
	}

	source, err := NormalizeLang(sourceLang, false)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrTranslationFailed, err)
	}
	target, err := NormalizeLang(targetLang, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrTranslationFailed, err)
	}

	payload, err := json.Marshal(translateRequest{
		Text:       []string{text},
		SourceLang: source,
		TargetLang: target,
	})
	if err != nil {
		return "", fmt.Errorf("%w: リクエストのエンコードに失敗: %w", model.ErrTranslationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: リクエスト作成に失敗: %w", model.ErrTranslationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: DeepL APIの呼び出しに失敗: %w", model.ErrTranslationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("DeepL APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("target_lang", target),
		)
		return "", fmt.Errorf("%w: DeepL APIがステータス %d を返しました: %s",
			model.ErrTranslationFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: レスポンスJSONのパースに失敗: %w", model.ErrTranslationFailed, err)
	}
	if len(decoded.Translations) == 0 {
		return "", fmt.Errorf("%w: %w", model.ErrTranslationFailed, errors.New("翻訳結果が返されませんでした"))
	}

	translated := strings.TrimSpace(decoded.Translations[0].Text)
	if translated == "" {
		return "", fmt.Errorf("%w: 空の翻訳が返されました", model.ErrTranslationFailed)
	}
	return translated, nil
}
