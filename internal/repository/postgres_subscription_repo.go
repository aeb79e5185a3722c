package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/newsjockey/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用したフィード設定リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// ListByUserID はユーザーのフィード設定を登録日時順（同時刻はID順）で返す。
// パイプラインは先頭の1件を処理対象とする。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.FeedSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, url, added_at
		 FROM feed_subscriptions WHERE user_id = $1 ORDER BY added_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: フィード設定一覧の取得に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	defer rows.Close()

	var subs []*model.FeedSubscription
	for rows.Next() {
		sub := &model.FeedSubscription{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.URL, &sub.AddedAt); err != nil {
			return nil, fmt.Errorf("フィード設定行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: フィード設定一覧の走査に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return subs, nil
}

// CountByUserID はユーザーのフィード設定数を返す。
func (r *PostgresSubscriptionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: フィード設定数の取得に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return count, nil
}

// Create はフィード設定を作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.FeedSubscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_subscriptions (id, user_id, url, added_at)
		 VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.UserID, sub.URL, sub.AddedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: フィード %s は登録済みです", model.ErrDuplicateKey, sub.URL)
	}
	if err != nil {
		return fmt.Errorf("%w: フィード設定の作成に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return nil
}

// Delete はユーザーのフィード設定を削除する。
// 他のユーザーのフィード設定は削除せず、該当なしとしてfalseを返す。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM feed_subscriptions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: フィード設定の削除に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListOwnerIDs はフィード設定を1件以上持つユーザーのIDを返す。
func (r *PostgresSubscriptionRepo) ListOwnerIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM feed_subscriptions ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: 処理対象ユーザーの取得に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ユーザーIDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: 処理対象ユーザーの走査に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return ids, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
