// Package subscription はフィード設定（設定ページの購読管理）のドメインロジックを提供する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsjockey/internal/model"
	"github.com/hitoshi/newsjockey/internal/repository"
)

// MaxFeedsPerUser はユーザーあたりのフィード設定数の上限。
const MaxFeedsPerUser = 100

// FeedURLDetector は入力URLから登録すべきフィードURLを検出する。
// エラーは*model.APIErrorとして返す。
type FeedURLDetector interface {
	DetectFeedURL(ctx context.Context, inputURL string) (string, error)
}

// Service はフィード設定の一覧取得・追加・削除を提供する。
type Service struct {
	subRepo  repository.SubscriptionRepository
	detector FeedURLDetector
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	subRepo repository.SubscriptionRepository,
	detector FeedURLDetector,
	logger *slog.Logger,
) *Service {
	return &Service{
		subRepo:  subRepo,
		detector: detector,
		logger:   logger,
		now:      time.Now,
	}
}

// ListFeeds はユーザーのフィード設定を登録順で返す。
func (s *Service) ListFeeds(ctx context.Context, userID string) ([]*model.FeedSubscription, error) {
	subs, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フィード設定一覧の取得に失敗しました: %w", err)
	}
	if subs == nil {
		subs = []*model.FeedSubscription{}
	}
	return subs, nil
}

// AddFeed はURLからフィードを検出し、ユーザーのフィード設定に追加する。
// HTMLページのURLが指定された場合は<link rel="alternate">からフィードURLを解決する。
func (s *Service) AddFeed(ctx context.Context, userID, rawURL string) (*model.FeedSubscription, error) {
	count, err := s.subRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フィード設定数の取得に失敗しました: %w", err)
	}
	if count >= MaxFeedsPerUser {
		return nil, model.NewSubscriptionLimitError(MaxFeedsPerUser)
	}

	feedURL, err := s.detector.DetectFeedURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	sub := &model.FeedSubscription{
		ID:      uuid.New().String(),
		UserID:  userID,
		URL:     feedURL,
		AddedAt: s.now(),
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, model.ErrDuplicateKey) {
			return nil, model.NewDuplicateSubscriptionError()
		}
		return nil, fmt.Errorf("フィード設定の作成に失敗しました: %w", err)
	}

	s.logger.Info("フィードを登録しました",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID),
		slog.String("feed_url", feedURL),
	)
	return sub, nil
}

// RemoveFeed はユーザーのフィード設定を削除する。
// 存在しない、または他のユーザーのフィード設定の場合はSUBSCRIPTION_NOT_FOUNDを返す。
func (s *Service) RemoveFeed(ctx context.Context, userID, subscriptionID string) error {
	if _, err := uuid.Parse(subscriptionID); err != nil {
		return model.NewSubscriptionNotFoundError(subscriptionID)
	}

	deleted, err := s.subRepo.Delete(ctx, userID, subscriptionID)
	if err != nil {
		return fmt.Errorf("フィード設定の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewSubscriptionNotFoundError(subscriptionID)
	}

	s.logger.Info("フィードを削除しました",
		slog.String("user_id", userID),
		slog.String("subscription_id", subscriptionID),
	)
	return nil
}
