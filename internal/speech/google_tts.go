// Package speech はGoogle Cloud Text-to-Speechによる音声合成クライアントを提供する。
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/newsjockey/internal/model"
)

const (
	defaultEndpoint    = "https://texttospeech.googleapis.com/v1/text:synthesize"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 512
	// maxInputBytes はAPIが受け付ける入力テキストの上限バイト数。
	maxInputBytes = 5000
)

// Config はGoogle TTSクライアントの設定を保持する。
type Config struct {
	APIKey   string
	Endpoint string // テスト用にエンドポイントを差し替え可能
}

// GoogleTTSClient はtext:synthesizeを呼び出して音声データを返す。
type GoogleTTSClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option はクライアントの設定を上書きする。
type Option func(*GoogleTTSClient)

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(client *http.Client) Option {
	return func(c *GoogleTTSClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewGoogleTTSClient はGoogleTTSClientを生成する。
func NewGoogleTTSClient(cfg Config, logger *slog.Logger, opts ...Option) *GoogleTTSClient {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	c := &GoogleTTSClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceParams    `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceParams struct {
	LanguageCode string `json:"languageCode"`
	SSMLGender   string `json:"ssmlGender,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize はtextを指定の音声設定で合成し、エンコード済みの音声バイト列を返す。
// 失敗時のエラーは常にmodel.ErrSynthesisFailedを包む。再試行はしない。
func (c *GoogleTTSClient) Synthesize(ctx context.Context, text string, voice model.VoiceConfig) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: 合成対象のテキストが空です", model.ErrSynthesisFailed)
	}
	if len(text) > maxInputBytes {
		return nil, fmt.Errorf("%w: テキストが上限を超えています: %d > %d バイト", model.ErrSynthesisFailed, len(text), maxInputBytes)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: APIキーが設定されていません", model.ErrSynthesisFailed)
	}

	payload, err := json.Marshal(synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceParams{
			LanguageCode: voice.LanguageCode,
			SSMLGender:   voice.SSMLGender,
		},
		AudioConfig: audioConfig{
			AudioEncoding: voice.AudioEncoding,
			SpeakingRate:  voice.SpeakingRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: リクエストのエンコードに失敗: %w", model.ErrSynthesisFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: リクエスト作成に失敗: %w", model.ErrSynthesisFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: Text-to-Speech APIの呼び出しに失敗: %w", model.ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Text-to-Speech APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("language_code", voice.LanguageCode),
		)
		return nil, fmt.Errorf("%w: Text-to-Speech APIがステータス %d を返しました: %s",
			model.ErrSynthesisFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: レスポンスJSONのパースに失敗: %w", model.ErrSynthesisFailed, err)
	}

	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("%w: 音声データのデコードに失敗: %w", model.ErrSynthesisFailed, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: 空の音声データが返されました", model.ErrSynthesisFailed)
	}
	return audio, nil
}
