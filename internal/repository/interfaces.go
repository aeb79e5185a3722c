// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsjockey/internal/model"
)

// ArticleRepository は処理済み記事の永続化インターフェース。
// (owner_id, source_url) の一意制約により、同一記事の二重登録はストレージ層で拒否される。
type ArticleRepository interface {
	// FindByOwnerAndURL はオーナーと元記事URLで記事を検索する。見つからない場合はnilを返す。
	FindByOwnerAndURL(ctx context.Context, ownerID, sourceURL string) (*model.Article, error)

	// Insert は記事を登録する。一意制約に違反した場合はmodel.ErrDuplicateKeyを包んだエラーを返す。
	Insert(ctx context.Context, article *model.Article) error

	// ListByOwner はオーナーの記事を処理日時の新しい順に返す。
	// beforeが指定された場合はそれより前に処理された記事のみを返す。
	ListByOwner(ctx context.Context, ownerID string, before *time.Time, limit int) ([]*model.Article, error)

	// ReferencedAudioFileNames はnamesのうち、いずれかの記事から参照されている音声ファイル名を返す。
	ReferencedAudioFileNames(ctx context.Context, names []string) ([]string, error)
}

// SubscriptionRepository はフィード設定の永続化インターフェース。
type SubscriptionRepository interface {
	// ListByUserID はユーザーのフィード設定を登録日時順（同時刻はID順）で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.FeedSubscription, error)

	// CountByUserID はユーザーのフィード設定数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create はフィード設定を作成する。同じURLが登録済みの場合はmodel.ErrDuplicateKeyを包んだエラーを返す。
	Create(ctx context.Context, sub *model.FeedSubscription) error

	// Delete はユーザーのフィード設定を削除する。該当がなければfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// ListOwnerIDs はフィード設定を1件以上持つユーザーのIDを返す。
	ListOwnerIDs(ctx context.Context) ([]string, error)
}

// SessionRepository はセッションの参照インターフェース。
// セッションの発行は外部のログイン機能が行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserRepository はユーザーの参照インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}
