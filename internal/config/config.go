// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/newsjockey/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// 外部サービス
	GeminiAPIKey  string
	GeminiModel   string
	SummaryPrompt string
	DeepLAPIKey   string
	DeepLEndpoint string
	TTSAPIKey     string

	// Pipeline
	SourceLang     string
	TargetLang     string
	Voice          model.VoiceConfig
	MaxItemsPerRun int
	RunTimeout     time.Duration
	OrphanPolicy   string

	// Fetch
	FetchTimeout     time.Duration
	FetchMaxSize     int64
	SSRFAllowedPorts []int

	// Audio
	AudioDir           string
	AudioPublicPath    string
	AudioSweepGrace    time.Duration
	AudioSweepInterval time.Duration

	// Worker
	WorkerInterval      time.Duration
	WorkerMaxConcurrent int

	// Rate Limit
	RateLimitProcess int

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Profile はPIPELINE_PROFILEで指定するYAMLのパイプライン設定。
// 環境変数が設定されている項目は環境変数が優先される。
type Profile struct {
	Model          string       `yaml:"model"`
	Prompt         string       `yaml:"prompt"`
	SourceLang     string       `yaml:"source_lang"`
	TargetLang     string       `yaml:"target_lang"`
	Voice          VoiceProfile `yaml:"voice"`
	MaxItemsPerRun int          `yaml:"max_items_per_run"`
}

// VoiceProfile は音声合成のボイス設定。
type VoiceProfile struct {
	LanguageCode  string  `yaml:"language_code"`
	SSMLGender    string  `yaml:"ssml_gender"`
	AudioEncoding string  `yaml:"audio_encoding"`
	SpeakingRate  float64 `yaml:"speaking_rate"`
}

// Load は.env、YAMLプロファイル、環境変数の順に設定を読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	// .envは任意。存在しなくてもエラーにしない
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	cfg.DeepLAPIKey = os.Getenv("DEEPL_API_KEY")
	if cfg.DeepLAPIKey == "" {
		missing = append(missing, "DEEPL_API_KEY")
	}

	cfg.TTSAPIKey = os.Getenv("TTS_API_KEY")
	if cfg.TTSAPIKey == "" {
		missing = append(missing, "TTS_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	profile := defaultProfile()
	if path := os.Getenv("PIPELINE_PROFILE"); path != "" {
		p, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		profile = mergeProfile(profile, p)
	}

	// Pipeline（環境変数 > プロファイル > デフォルト）
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", profile.Model)
	cfg.SummaryPrompt = getEnvString("SUMMARY_PROMPT", profile.Prompt)
	cfg.SourceLang = getEnvString("PIPELINE_SOURCE_LANG", profile.SourceLang)
	cfg.TargetLang = getEnvString("PIPELINE_TARGET_LANG", profile.TargetLang)
	cfg.Voice = model.VoiceConfig{
		LanguageCode:  getEnvString("TTS_LANGUAGE_CODE", profile.Voice.LanguageCode),
		SSMLGender:    strings.ToUpper(getEnvString("TTS_SSML_GENDER", profile.Voice.SSMLGender)),
		AudioEncoding: strings.ToUpper(getEnvString("TTS_AUDIO_ENCODING", profile.Voice.AudioEncoding)),
		SpeakingRate:  getEnvFloat("TTS_SPEAKING_RATE", profile.Voice.SpeakingRate),
	}
	cfg.MaxItemsPerRun = getEnvInt("PIPELINE_MAX_ITEMS_PER_RUN", profile.MaxItemsPerRun)
	cfg.RunTimeout = getEnvDuration("PIPELINE_RUN_TIMEOUT", 3*time.Minute)
	cfg.OrphanPolicy = strings.ToLower(getEnvString("AUDIO_ORPHAN_POLICY", "cleanup"))
	cfg.DeepLEndpoint = getEnvString("DEEPL_ENDPOINT", "")

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.SSRFAllowedPorts = getEnvIntList("SSRF_ALLOWED_PORTS", nil)
	cfg.AudioDir = getEnvString("AUDIO_DIR", "./public/audio")
	cfg.AudioPublicPath = getEnvString("AUDIO_PUBLIC_PATH", "/audio")
	cfg.AudioSweepGrace = getEnvDuration("AUDIO_SWEEP_GRACE", time.Hour)
	cfg.AudioSweepInterval = getEnvDuration("AUDIO_SWEEP_INTERVAL", 24*time.Hour)
	cfg.WorkerInterval = getEnvDuration("WORKER_INTERVAL", time.Hour)
	cfg.WorkerMaxConcurrent = getEnvInt("WORKER_MAX_CONCURRENT", 4)
	cfg.RateLimitProcess = getEnvInt("RATE_LIMIT_PROCESS", 6)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadProfile はYAMLのパイプラインプロファイルを読み込む。
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline profile %s: %w", path, err)
	}
	return &p, nil
}

func defaultProfile() Profile {
	return Profile{
		SourceLang: "EN",
		TargetLang: "JA",
		Voice: VoiceProfile{
			LanguageCode:  "ja-JP",
			SSMLGender:    "NEUTRAL",
			AudioEncoding: "MP3",
		},
		MaxItemsPerRun: 1,
	}
}

// mergeProfile はoverrideの設定済み項目でbaseを上書きする。
func mergeProfile(base Profile, override *Profile) Profile {
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Prompt != "" {
		base.Prompt = override.Prompt
	}
	if override.SourceLang != "" {
		base.SourceLang = override.SourceLang
	}
	if override.TargetLang != "" {
		base.TargetLang = override.TargetLang
	}
	if override.Voice.LanguageCode != "" {
		base.Voice.LanguageCode = override.Voice.LanguageCode
	}
	if override.Voice.SSMLGender != "" {
		base.Voice.SSMLGender = override.Voice.SSMLGender
	}
	if override.Voice.AudioEncoding != "" {
		base.Voice.AudioEncoding = override.Voice.AudioEncoding
	}
	if override.Voice.SpeakingRate != 0 {
		base.Voice.SpeakingRate = override.Voice.SpeakingRate
	}
	if override.MaxItemsPerRun != 0 {
		base.MaxItemsPerRun = override.MaxItemsPerRun
	}
	return base
}

// validate は値の範囲と形式を検証し、全ての違反をまとめて返す。
func (c *Config) validate() error {
	var errs []error

	for _, lang := range []struct{ key, val string }{
		{"PIPELINE_SOURCE_LANG", c.SourceLang},
		{"PIPELINE_TARGET_LANG", c.TargetLang},
		{"TTS_LANGUAGE_CODE", c.Voice.LanguageCode},
	} {
		if _, err := language.Parse(lang.val); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid language code %q", lang.key, lang.val))
		}
	}

	switch c.Voice.SSMLGender {
	case "NEUTRAL", "FEMALE", "MALE":
	default:
		errs = append(errs, fmt.Errorf("TTS_SSML_GENDER: unsupported value %q", c.Voice.SSMLGender))
	}

	switch c.Voice.AudioEncoding {
	case "MP3", "OGG_OPUS", "LINEAR16":
	default:
		errs = append(errs, fmt.Errorf("TTS_AUDIO_ENCODING: unsupported value %q", c.Voice.AudioEncoding))
	}

	if c.Voice.SpeakingRate != 0 && (c.Voice.SpeakingRate < 0.25 || c.Voice.SpeakingRate > 4.0) {
		errs = append(errs, fmt.Errorf("TTS_SPEAKING_RATE: must be between 0.25 and 4.0, got %v", c.Voice.SpeakingRate))
	}

	switch c.OrphanPolicy {
	case "cleanup", "retain":
	default:
		errs = append(errs, fmt.Errorf("AUDIO_ORPHAN_POLICY: must be cleanup or retain, got %q", c.OrphanPolicy))
	}

	if c.MaxItemsPerRun < 1 {
		errs = append(errs, fmt.Errorf("PIPELINE_MAX_ITEMS_PER_RUN: must be at least 1, got %d", c.MaxItemsPerRun))
	}

	for _, port := range c.SSRFAllowedPorts {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("SSRF_ALLOWED_PORTS: invalid port %d", port))
		}
	}

	return errors.Join(errs...)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvIntList はカンマ区切りの整数リストを読み込む。解析できない要素がある場合はデフォルト値を返す。
func getEnvIntList(key string, defaultVal []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return defaultVal
		}
		out = append(out, i)
	}
	return out
}
