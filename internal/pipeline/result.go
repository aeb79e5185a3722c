// Package pipeline はユーザーごとの記事処理パイプライン
// （取得 → 重複確認 → 要約 → 翻訳 → 音声合成 → 保存）を提供する。
package pipeline

import (
	"fmt"

	"github.com/hitoshi/newsjockey/internal/model"
)

// Outcome はパイプライン実行の結果種別。
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeNoFeedConfigured Outcome = "no_feed_configured"
	OutcomeNoNewItem        Outcome = "no_new_item"
	OutcomeFailure          Outcome = "failure"
)

// Stage はパイプラインの段階名。
type Stage string

const (
	StageLoadConfig Stage = "load-config"
	StageFetch      Stage = "fetch"
	StageDedupe     Stage = "dedupe"
	StageSummarize  Stage = "summarize"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageStoreAudio Stage = "store-audio"
	StagePersist    Stage = "persist"
)

// IsRepositoryStage はデータベースへのアクセスで失敗しうる段階かどうかを返す。
func (s Stage) IsRepositoryStage() bool {
	switch s {
	case StageLoadConfig, StageDedupe, StagePersist:
		return true
	default:
		return false
	}
}

// StageError は失敗した段階と原因を保持する。
type StageError struct {
	Stage Stage
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap は原因のエラーを返す。
func (e *StageError) Unwrap() error {
	return e.Err
}

// Result はProcessForOwnerの実行結果。
// Articleは新規作成された先頭の記事、またはalready_processedの場合は既存の記事。
// Articlesには実行中に新規作成された全ての記事が入る。
type Result struct {
	Outcome  Outcome
	Stage    Stage
	Err      error
	Article  *model.Article
	Articles []*model.Article
}

// Message は利用者向けのメッセージを返す。
func (r *Result) Message() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return "全ての処理が正常に完了しました！"
	case OutcomeAlreadyProcessed:
		return "この記事はすでに処理済みです。"
	case OutcomeNoFeedConfigured:
		return "RSSフィードが設定されていません。設定ページから追加してください。"
	case OutcomeNoNewItem:
		return "新しい記事が見つかりませんでした。"
	default:
		return "サーバーでエラーが発生しました。"
	}
}

// Succeeded は実行が失敗でなかったかを返す。
// 処理済み・フィード未設定・記事なしは情報としての結果であり失敗ではない。
func (r *Result) Succeeded() bool {
	return r.Outcome != OutcomeFailure
}
