package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/newsjockey/internal/model"
)

// articleColumns はarticlesテーブルからの取得カラム（scanArticleの順序と一致させる）。
var articleColumns = []string{
	"id", "owner_id", "title", "source_url", "summary", "translation",
	"audio_file_name", "audio_url", "processed_at",
}

// psql はPostgreSQLのプレースホルダ形式を使うクエリビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*model.Article, error) {
	a := &model.Article{}
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Title, &a.SourceURL, &a.Summary, &a.Translation,
		&a.AudioFileName, &a.AudioURL, &a.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindByOwnerAndURL はオーナーと元記事URLで記事を検索する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByOwnerAndURL(ctx context.Context, ownerID, sourceURL string) (*model.Article, error) {
	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, source_url, summary, translation, audio_file_name, audio_url, processed_at
		 FROM articles WHERE owner_id = $1 AND source_url = $2`,
		ownerID, sourceURL,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: 記事の検索に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return a, nil
}

// Insert は記事を登録する。一意制約に違反した場合はmodel.ErrDuplicateKeyを包んだエラーを返す。
func (r *PostgresArticleRepo) Insert(ctx context.Context, a *model.Article) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO articles (id, owner_id, title, source_url, summary, translation, audio_file_name, audio_url, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OwnerID, a.Title, a.SourceURL, a.Summary, a.Translation, a.AudioFileName, a.AudioURL, a.ProcessedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: 記事 %s は登録済みです", model.ErrDuplicateKey, a.SourceURL)
	}
	if err != nil {
		return fmt.Errorf("%w: 記事の登録に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return nil
}

// buildListByOwnerQuery は記事一覧取得のSQLを組み立てる。
func buildListByOwnerQuery(ownerID string, before *time.Time, limit int) (string, []any, error) {
	q := psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("processed_at DESC", "id DESC").
		Limit(uint64(limit))
	if before != nil {
		q = q.Where(sq.Lt{"processed_at": *before})
	}
	return q.ToSql()
}

// ListByOwner はオーナーの記事を処理日時の新しい順に返す。
func (r *PostgresArticleRepo) ListByOwner(ctx context.Context, ownerID string, before *time.Time, limit int) ([]*model.Article, error) {
	query, args, err := buildListByOwnerQuery(ownerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("記事一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: 記事一覧の取得に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	defer rows.Close()

	articles := make([]*model.Article, 0, limit)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事のスキャンに失敗しました: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: 記事一覧の読み取りに失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return articles, nil
}

// ReferencedAudioFileNames はnamesのうち、いずれかの記事から参照されている音声ファイル名を返す。
func (r *PostgresArticleRepo) ReferencedAudioFileNames(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT audio_file_name FROM articles WHERE audio_file_name = ANY($1)`,
		pq.StringArray(names),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: 参照中の音声ファイルの取得に失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	defer rows.Close()

	var referenced []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("音声ファイル名のスキャンに失敗しました: %w", err)
		}
		referenced = append(referenced, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: 音声ファイル名の読み取りに失敗しました: %w", model.ErrRepositoryUnavailable, err)
	}
	return referenced, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
