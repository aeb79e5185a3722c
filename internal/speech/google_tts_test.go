package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/newsjockey/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var testVoice = model.VoiceConfig{
	LanguageCode:  "ja-JP",
	SSMLGender:    "NEUTRAL",
	AudioEncoding: "MP3",
}

func TestGoogleTTSClient_Synthesize_Success(t *testing.T) {
	want := []byte("ID3-fake-mp3-bytes")
	var gotKey string
	var gotBody synthesizeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("リクエストボディのデコードに失敗: %v", err)
		}
		fmt.Fprintf(w, `{"audioContent":%q}`, base64.StdEncoding.EncodeToString(want))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewGoogleTTSClient(Config{APIKey: "tts-key", Endpoint: server.URL}, newTestLogger(&buf))

	got, err := c.Synthesize(context.Background(), "こんにちは", testVoice)
	if err != nil {
		t.Fatalf("Synthesize() がエラーを返した: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Synthesize() = %q, want %q", got, want)
	}
	if gotKey != "tts-key" {
		t.Errorf("x-goog-api-key = %q", gotKey)
	}
	if gotBody.Input.Text != "こんにちは" {
		t.Errorf("input.text = %q", gotBody.Input.Text)
	}
	if gotBody.Voice.LanguageCode != "ja-JP" || gotBody.Voice.SSMLGender != "NEUTRAL" {
		t.Errorf("voice = %+v", gotBody.Voice)
	}
	if gotBody.AudioConfig.AudioEncoding != "MP3" || gotBody.AudioConfig.SpeakingRate != 0 {
		t.Errorf("audioConfig = %+v", gotBody.AudioConfig)
	}
}

func TestGoogleTTSClient_Synthesize_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "権限エラー", status: http.StatusForbidden, body: `{"error":{"message":"API key not valid"}}`},
		{name: "サーバーエラー", status: http.StatusInternalServerError, body: `{}`},
		{name: "空の音声", status: http.StatusOK, body: `{"audioContent":""}`},
		{name: "不正なbase64", status: http.StatusOK, body: `{"audioContent":"!!!"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			var buf bytes.Buffer
			c := NewGoogleTTSClient(Config{APIKey: "k", Endpoint: server.URL}, newTestLogger(&buf))
			_, err := c.Synthesize(context.Background(), "text", testVoice)
			if !errors.Is(err, model.ErrSynthesisFailed) {
				t.Errorf("ErrSynthesisFailed を包むべき: %v", err)
			}
		})
	}
}

func TestGoogleTTSClient_Synthesize_InputTooLong(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewGoogleTTSClient(Config{APIKey: "k", Endpoint: server.URL}, newTestLogger(&buf))
	_, err := c.Synthesize(context.Background(), strings.Repeat("あ", 2000), testVoice)
	if !errors.Is(err, model.ErrSynthesisFailed) {
		t.Errorf("上限超過は ErrSynthesisFailed であるべき: %v", err)
	}
	if calls != 0 {
		t.Errorf("上限超過時にAPIを呼び出してはならない: %d 回", calls)
	}
}
