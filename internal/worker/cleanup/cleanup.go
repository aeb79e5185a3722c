// Package cleanup は孤立した音声ファイルの自動削除ジョブを提供する。
// 音声保存後に記事の保存が失敗すると、どの記事からも参照されない音声が残る。
// このジョブは猶予期間を過ぎた未参照の音声を定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsjockey/internal/audio"
)

// batchSize は参照確認クエリ1回あたりのファイル名数。
const batchSize = 500

// AudioStore は音声ファイルの列挙と削除を抽象化するインターフェース。
type AudioStore interface {
	List(ctx context.Context) ([]audio.StoredObject, error)
	Delete(ctx context.Context, name string) error
}

// ReferenceFinder は記事から参照されている音声ファイル名を返すインターフェース。
type ReferenceFinder interface {
	ReferencedAudioFileNames(ctx context.Context, names []string) ([]string, error)
}

// SweepRecorder は削除件数を記録するインターフェース。
type SweepRecorder interface {
	RecordAudioSweep(deleted int, failed bool)
}

// AudioSweepJob は未参照の音声ファイルを削除するジョブ。
// 冪等であり、削除対象がない場合でもエラーにならない。
type AudioSweepJob struct {
	store    AudioStore
	refs     ReferenceFinder
	recorder SweepRecorder
	logger   *slog.Logger
	// GracePeriod より新しいファイルは、保存から記事登録までの実行中とみなして残す（デフォルト: 1時間）
	GracePeriod time.Duration
	now         func() time.Time
}

// NewAudioSweepJob は新しいAudioSweepJobを生成する。recorderはnilでもよい。
func NewAudioSweepJob(store AudioStore, refs ReferenceFinder, recorder SweepRecorder, logger *slog.Logger) *AudioSweepJob {
	return &AudioSweepJob{
		store:       store,
		refs:        refs,
		recorder:    recorder,
		logger:      logger,
		GracePeriod: time.Hour,
		now:         time.Now,
	}
}

// Run は猶予期間を過ぎた未参照の音声ファイルを削除し、削除件数を返す。
// 個々のファイル削除の失敗はログに記録して処理を続ける。
func (j *AudioSweepJob) Run(ctx context.Context) (int, error) {
	start := time.Now()

	deleted, err := j.sweep(ctx)
	if j.recorder != nil {
		j.recorder.RecordAudioSweep(deleted, err != nil)
	}
	if err != nil {
		j.logger.Error("音声クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("deleted_count", deleted),
		)
		return deleted, err
	}

	j.logger.Info("音声クリーンアップジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Duration("grace_period", j.GracePeriod),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

func (j *AudioSweepJob) sweep(ctx context.Context) (int, error) {
	objects, err := j.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("音声ファイルの列挙に失敗: %w", err)
	}

	cutoff := j.now().Add(-j.GracePeriod)
	var candidates []string
	for _, o := range objects {
		if o.ModTime.Before(cutoff) {
			candidates = append(candidates, o.Name)
		}
	}

	deleted := 0
	for startIdx := 0; startIdx < len(candidates); startIdx += batchSize {
		batch := candidates[startIdx:min(startIdx+batchSize, len(candidates))]

		referenced, err := j.refs.ReferencedAudioFileNames(ctx, batch)
		if err != nil {
			return deleted, fmt.Errorf("参照中の音声ファイルの取得に失敗: %w", err)
		}
		inUse := make(map[string]struct{}, len(referenced))
		for _, name := range referenced {
			inUse[name] = struct{}{}
		}

		for _, name := range batch {
			if _, ok := inUse[name]; ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return deleted, err
			}
			if err := j.store.Delete(ctx, name); err != nil {
				j.logger.Warn("孤立した音声ファイルの削除に失敗しました",
					slog.String("audio_file_name", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			deleted++
		}
	}

	return deleted, nil
}
