// Package model はドメインモデルを定義する。
package model

import "time"

// Article はパイプラインが生成・永続化したブリーフィングを表す。
// (OwnerID, SourceURL) の組は一意で、作成後は変更されない。
type Article struct {
	ID            string
	OwnerID       string
	Title         string
	SourceURL     string
	Summary       string
	Translation   string
	AudioFileName string
	AudioURL      string
	ProcessedAt   time.Time
}

// CandidateItem はフィードから読み出した未処理の記事候補を表す。
// 1回のパイプライン実行の中でのみ存在し、永続化されない。
type CandidateItem struct {
	Title       string
	Link        string
	PublishedAt *time.Time
}

// VoiceConfig は音声合成のボイス設定を表す。
type VoiceConfig struct {
	LanguageCode  string  // 例: "ja-JP"
	SSMLGender    string  // NEUTRAL, FEMALE, MALE
	AudioEncoding string  // MP3, OGG_OPUS, LINEAR16
	SpeakingRate  float64 // 0はサービスのデフォルト
}

// FileExtension はAudioEncodingに対応する音声ファイルの拡張子を返す。
func (v VoiceConfig) FileExtension() string {
	switch v.AudioEncoding {
	case "OGG_OPUS":
		return "ogg"
	case "LINEAR16":
		return "wav"
	default:
		return "mp3"
	}
}
