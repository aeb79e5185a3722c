package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsjockey/internal/model"
)

// FeedConfigLoader はユーザーのフィード設定を登録順で返す。
type FeedConfigLoader interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.FeedSubscription, error)
}

// FeedSource はフィードを取得し、文書順の候補記事を返す。
type FeedSource interface {
	Fetch(ctx context.Context, feedURL string) ([]model.CandidateItem, error)
}

// ArticleRepository は記事の重複確認と登録を行う。
type ArticleRepository interface {
	FindByOwnerAndURL(ctx context.Context, ownerID, sourceURL string) (*model.Article, error)
	Insert(ctx context.Context, article *model.Article) error
}

// Summarizer は記事の要約を生成する。
type Summarizer interface {
	Summarize(ctx context.Context, reference string) (string, error)
}

// Translator はテキストを翻訳する。
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Synthesizer はテキストから音声を合成する。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice model.VoiceConfig) ([]byte, error)
}

// AudioStore は合成した音声を保存し、公開参照を返す。
type AudioStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, name string) error
}

// Recorder はパイプラインのメトリクスを記録する。
type Recorder interface {
	RecordRun(outcome string)
	RecordStageFailure(stage string)
	ObserveStage(stage string, d time.Duration)
}

// OrphanPolicy は保存後に記事登録へ至らなかった音声の扱いを表す。
type OrphanPolicy string

const (
	// OrphanPolicyCleanup は登録失敗時に直前に保存した音声を削除する。
	OrphanPolicyCleanup OrphanPolicy = "cleanup"
	// OrphanPolicyRetain は音声を残し、定期掃除に任せる。
	OrphanPolicyRetain OrphanPolicy = "retain"
)

// ParseOrphanPolicy は文字列をOrphanPolicyに変換する。空文字はcleanup。
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(s) {
	case "", OrphanPolicyCleanup:
		return OrphanPolicyCleanup, nil
	case OrphanPolicyRetain:
		return OrphanPolicyRetain, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q (cleanup or retain)", s)
	}
}

// maxNameAttempts は音声ファイル名が衝突した場合に試す名前の数。
const maxNameAttempts = 5

// Config はパイプラインの実行設定。
type Config struct {
	SourceLang     string
	TargetLang     string
	Voice          model.VoiceConfig
	MaxItemsPerRun int           // 1回の実行で処理する先頭記事の数。1未満は1
	RunTimeout     time.Duration // 0は無制限
	OrphanPolicy   OrphanPolicy
}

// Deps はパイプラインの依存先。
type Deps struct {
	Feeds       FeedConfigLoader
	Source      FeedSource
	Articles    ArticleRepository
	Summarizer  Summarizer
	Translator  Translator
	Synthesizer Synthesizer
	Audio       AudioStore
	Recorder    Recorder
	Logger      *slog.Logger

	// Now と NewID は省略時にtime.Nowとuuid.NewStringを使う。
	Now   func() time.Time
	NewID func() string
}

// Orchestrator はユーザー単位でパイプラインを実行する。
// 状態を持たないため、異なるユーザーに対して並行に呼び出せる。
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxItemsPerRun < 1 {
		cfg.MaxItemsPerRun = 1
	}
	if cfg.OrphanPolicy == "" {
		cfg.OrphanPolicy = OrphanPolicyCleanup
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Config は適用済みの実行設定を返す。
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// ProcessForOwner はユーザーの最初のフィードから新しい記事を処理し、結果を返す。
// 各段階の失敗はその場で実行を終了し、記事は登録されない。
// 外部サービスの呼び出しは再試行しない。
func (o *Orchestrator) ProcessForOwner(ctx context.Context, ownerID string) *Result {
	start := time.Now()
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	logger := o.deps.Logger.With(slog.String("owner_id", ownerID))
	result := o.run(ctx, ownerID, logger)

	o.deps.Recorder.RecordRun(string(result.Outcome))
	attrs := []any{
		slog.String("outcome", string(result.Outcome)),
		slog.Int("articles_created", len(result.Articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	}
	if result.Outcome == OutcomeFailure {
		o.deps.Recorder.RecordStageFailure(string(result.Stage))
		attrs = append(attrs, slog.String("stage", string(result.Stage)), slog.String("error", result.Err.Error()))
		logger.Error("パイプラインが失敗しました", attrs...)
	} else {
		logger.Info("パイプラインが完了しました", attrs...)
	}
	return result
}

func (o *Orchestrator) run(ctx context.Context, ownerID string, logger *slog.Logger) *Result {
	var feeds []*model.FeedSubscription
	err := o.stage(ctx, StageLoadConfig, logger, func(ctx context.Context) error {
		var err error
		feeds, err = o.deps.Feeds.ListByUserID(ctx, ownerID)
		return err
	})
	if err != nil {
		return failure(StageLoadConfig, mark(err, model.ErrRepositoryUnavailable))
	}
	if len(feeds) == 0 {
		return &Result{Outcome: OutcomeNoFeedConfigured}
	}

	feedURL := feeds[0].URL
	var items []model.CandidateItem
	err = o.stage(ctx, StageFetch, logger.With(slog.String("feed_url", feedURL)), func(ctx context.Context) error {
		var err error
		items, err = o.deps.Source.Fetch(ctx, feedURL)
		return err
	})
	if err != nil {
		return failure(StageFetch, mark(err, model.ErrFeedUnavailable))
	}
	if len(items) == 0 {
		return &Result{Outcome: OutcomeNoNewItem}
	}

	n := min(o.cfg.MaxItemsPerRun, len(items))
	result := &Result{}
	var leadingExisting *model.Article
	for i, item := range items[:n] {
		article, existing, res := o.processItem(ctx, ownerID, item, logger.With(slog.String("source_url", item.Link)))
		if res != nil {
			res.Articles = result.Articles
			if len(res.Articles) > 0 {
				res.Article = res.Articles[0]
			}
			return res
		}
		if article != nil {
			result.Articles = append(result.Articles, article)
		}
		if i == 0 {
			leadingExisting = existing
		}
	}

	if len(result.Articles) > 0 {
		result.Outcome = OutcomeSuccess
		result.Article = result.Articles[0]
		return result
	}
	return &Result{Outcome: OutcomeAlreadyProcessed, Article: leadingExisting}
}

// processItem は1件の候補記事に対して重複確認から登録までを行う。
// 新規作成した記事、既に処理済みだった記事、失敗時のResultのいずれかを返す。
func (o *Orchestrator) processItem(
	ctx context.Context,
	ownerID string,
	item model.CandidateItem,
	logger *slog.Logger,
) (*model.Article, *model.Article, *Result) {
	var existing *model.Article
	err := o.stage(ctx, StageDedupe, logger, func(ctx context.Context) error {
		var err error
		existing, err = o.deps.Articles.FindByOwnerAndURL(ctx, ownerID, item.Link)
		return err
	})
	if err != nil {
		return nil, nil, failure(StageDedupe, mark(err, model.ErrRepositoryUnavailable))
	}
	if existing != nil {
		logger.Info("この記事はすでに処理済みです", slog.String("article_id", existing.ID))
		return nil, existing, nil
	}

	var summary string
	err = o.stage(ctx, StageSummarize, logger, func(ctx context.Context) error {
		var err error
		summary, err = o.deps.Summarizer.Summarize(ctx, item.Link)
		return err
	})
	if err != nil {
		return nil, nil, failure(StageSummarize, mark(err, model.ErrSummarizationFailed))
	}

	var translation string
	err = o.stage(ctx, StageTranslate, logger, func(ctx context.Context) error {
		var err error
		translation, err = o.deps.Translator.Translate(ctx, summary, o.cfg.SourceLang, o.cfg.TargetLang)
		return err
	})
	if err != nil {
		return nil, nil, failure(StageTranslate, mark(err, model.ErrTranslationFailed))
	}

	var audioData []byte
	err = o.stage(ctx, StageSynthesize, logger, func(ctx context.Context) error {
		var err error
		audioData, err = o.deps.Synthesizer.Synthesize(ctx, translation, o.cfg.Voice)
		return err
	})
	if err != nil {
		return nil, nil, failure(StageSynthesize, mark(err, model.ErrSynthesisFailed))
	}

	var fileName, audioURL string
	err = o.stage(ctx, StageStoreAudio, logger, func(ctx context.Context) error {
		var err error
		fileName, audioURL, err = o.saveAudio(ctx, audioData)
		return err
	})
	if err != nil {
		return nil, nil, failure(StageStoreAudio, mark(err, model.ErrStorageFailed))
	}

	article := &model.Article{
		ID:            o.deps.NewID(),
		OwnerID:       ownerID,
		Title:         item.Title,
		SourceURL:     item.Link,
		Summary:       summary,
		Translation:   translation,
		AudioFileName: fileName,
		AudioURL:      audioURL,
		ProcessedAt:   o.deps.Now(),
	}

	var winner *model.Article
	err = o.stage(ctx, StagePersist, logger, func(ctx context.Context) error {
		err := o.deps.Articles.Insert(ctx, article)
		if !errors.Is(err, model.ErrDuplicateKey) {
			return err
		}
		// 並行実行に先を越された場合は登録済みの記事を読み直す
		winner, err = o.deps.Articles.FindByOwnerAndURL(ctx, ownerID, item.Link)
		if err != nil {
			return err
		}
		if winner == nil {
			return fmt.Errorf("%w: 重複した記事を再取得できませんでした", model.ErrRepositoryUnavailable)
		}
		return nil
	})
	if err != nil {
		o.discardAudio(ctx, fileName, logger)
		return nil, nil, failure(StagePersist, mark(err, model.ErrRepositoryUnavailable))
	}
	if winner != nil {
		logger.Info("並行実行により記事は登録済みでした", slog.String("article_id", winner.ID))
		o.discardAudio(ctx, fileName, logger)
		return nil, winner, nil
	}

	logger.Info("記事を登録しました",
		slog.String("article_id", article.ID),
		slog.String("audio_file_name", fileName),
	)
	return article, nil, nil
}

// saveAudio はUnixミリ秒を名前として音声を保存する。
// 同名のファイルが既にある場合は値を1ずつ増やして再試行する。
func (o *Orchestrator) saveAudio(ctx context.Context, data []byte) (string, string, error) {
	base := o.deps.Now().UnixMilli()
	ext := o.cfg.Voice.FileExtension()

	var lastErr error
	for i := range int64(maxNameAttempts) {
		name := fmt.Sprintf("%d.%s", base+i, ext)
		ref, err := o.deps.Audio.Save(ctx, name, data)
		if err == nil {
			return name, ref, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
		lastErr = err
	}
	return "", "", lastErr
}

// discardAudio は記事に紐付かなかった音声をポリシーに従って削除する。
// 失敗しても実行結果には影響させない。
func (o *Orchestrator) discardAudio(ctx context.Context, name string, logger *slog.Logger) {
	if o.cfg.OrphanPolicy != OrphanPolicyCleanup {
		logger.Warn("記事に紐付かない音声を残しました", slog.String("audio_file_name", name))
		return
	}
	if err := o.deps.Audio.Delete(context.WithoutCancel(ctx), name); err != nil {
		logger.Warn("記事に紐付かない音声の削除に失敗しました",
			slog.String("audio_file_name", name),
			slog.String("error", err.Error()),
		)
	}
}

// stage は1段階を実行し、所要時間の記録と段階遷移のログ出力を行う。
func (o *Orchestrator) stage(ctx context.Context, stage Stage, logger *slog.Logger, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	o.deps.Recorder.ObserveStage(string(stage), elapsed)

	attrs := []any{
		slog.String("stage", string(stage)),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	}
	if err != nil {
		logger.Warn("段階が失敗しました", append(attrs, slog.String("error", err.Error()))...)
		return err
	}
	logger.Debug("段階が完了しました", attrs...)
	return nil
}

// mark はerrがmarkerを含まない場合にmarkerで包む。
func mark(err, marker error) error {
	if errors.Is(err, marker) {
		return err
	}
	return fmt.Errorf("%w: %w", marker, err)
}

func failure(stage Stage, err error) *Result {
	return &Result{
		Outcome: OutcomeFailure,
		Stage:   stage,
		Err:     &StageError{Stage: stage, Err: err},
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string)                   {}
func (nopRecorder) RecordStageFailure(string)          {}
func (nopRecorder) ObserveStage(string, time.Duration) {}
