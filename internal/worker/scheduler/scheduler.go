// Package scheduler はパイプラインを定期的に全ユーザーへ適用するワーカーを提供する。
// パイプライン自体はスケジューラを持たず、このパッケージが外側から呼び出す。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsjockey/internal/pipeline"
)

// OwnerLister はフィード設定を持つユーザーのIDを返す。
type OwnerLister interface {
	ListOwnerIDs(ctx context.Context) ([]string, error)
}

// Processor はユーザー1人分のパイプラインを実行する。
type Processor interface {
	ProcessForOwner(ctx context.Context, ownerID string) *pipeline.Result
}

// defaultMaxConcurrency は同時に処理するユーザー数のデフォルト値。
const defaultMaxConcurrency = 4

// Scheduler はパイプライン実行のスケジューリングと並列制御を行う。
// semaphoreパターンで同時実行数を制限し、1サイクル内で同じユーザーを重複して処理しない。
type Scheduler struct {
	owners         OwnerLister
	processor      Processor
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	owners OwnerLister,
	processor Processor,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Scheduler{
		owners:         owners,
		processor:      processor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("パイプラインスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("パイプラインスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("パイプラインサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// CycleSummary は1サイクルの結果別の実行数。
type CycleSummary map[pipeline.Outcome]int

// RunOnce は処理対象ユーザーを取得し、並列でパイプラインを実行する。
// 個々のユーザーの失敗はサイクル全体のエラーにはしない。
func (s *Scheduler) RunOnce(ctx context.Context) (CycleSummary, error) {
	start := time.Now()

	ids, err := s.owners.ListOwnerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("処理対象ユーザーの取得に失敗しました: %w", err)
	}
	ids = uniqueOwners(ids)

	summary := CycleSummary{}
	if len(ids) == 0 {
		s.logger.Info("処理対象のユーザーはいません")
		return summary, nil
	}

	s.logger.Info("パイプラインサイクルを開始します",
		slog.Int("owner_count", len(ids)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(ownerID string) {
			defer wg.Done()
			defer func() { <-sem }()

			res := s.processor.ProcessForOwner(ctx, ownerID)

			mu.Lock()
			summary[res.Outcome]++
			mu.Unlock()
		}(id)
	}

	wg.Wait()

	s.logger.Info("パイプラインサイクルが完了しました",
		slog.Int("owner_count", len(ids)),
		slog.Int("succeeded", summary[pipeline.OutcomeSuccess]),
		slog.Int("failed", summary[pipeline.OutcomeFailure]),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary, ctx.Err()
}

// uniqueOwners は順序を保ったまま重複したユーザーIDを取り除く。
func uniqueOwners(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
