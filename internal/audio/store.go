// Package audio は合成音声ファイルの保存先を提供する。
package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hitoshi/newsjockey/internal/model"
)

// DefaultPublicPath は保存した音声を配信するURLパスの既定値。
const DefaultPublicPath = "/audio"

// tempPrefix は書き込み途中の一時ファイルの接頭辞。List の対象外となる。
const tempPrefix = ".tmp-"

// StoredObject は保存済み音声ファイルを表す。
type StoredObject struct {
	Name    string
	ModTime time.Time
}

// FileStore はローカルディレクトリに音声ファイルを保存する。
// 保存したファイルはPublicPath配下のURLとして公開される想定。
type FileStore struct {
	dir        string
	publicPath string
}

// NewFileStore はFileStoreを生成し、保存先ディレクトリを作成する。
func NewFileStore(dir, publicPath string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("音声の保存先ディレクトリが指定されていません")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("音声の保存先ディレクトリの作成に失敗: %w", err)
	}
	publicPath = strings.TrimSuffix(strings.TrimSpace(publicPath), "/")
	if publicPath == "" {
		publicPath = DefaultPublicPath
	}
	return &FileStore{
		dir:        dir,
		publicPath: publicPath,
	}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *FileStore) Dir() string {
	return s.dir
}

// PublicPath は配信URLのパス接頭辞を返す。
func (s *FileStore) PublicPath() string {
	return s.publicPath
}

// validateName はファイル名がディレクトリ外を指さないことを検証する。
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("不正なファイル名です: %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tempPrefix) {
		return fmt.Errorf("不正なファイル名です: %q", name)
	}
	return nil
}

// Save はdataをnameで保存し、公開URLを返す。
// 一時ファイルに書き込んでからリンクするため、読み手が書きかけのファイルを見ることはない。
// 同名のファイルが既に存在する場合は上書きせず、fs.ErrExistを包んだエラーを返す。
// 失敗時のエラーは常にmodel.ErrStorageFailedを包む。
func (s *FileStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrStorageFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrStorageFailed, err)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("%w: 一時ファイルの作成に失敗: %w", model.ErrStorageFailed, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: 書き込みに失敗: %w", model.ErrStorageFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: 同期に失敗: %w", model.ErrStorageFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: クローズに失敗: %w", model.ErrStorageFailed, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("%w: 権限の設定に失敗: %w", model.ErrStorageFailed, err)
	}

	// os.Link は宛先が存在すると失敗するため、既存ファイルを上書きしない
	if err := os.Link(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("%w: %s の確定に失敗: %w", model.ErrStorageFailed, name, err)
	}

	return s.publicPath + "/" + name, nil
}

// Delete はnameのファイルを削除する。存在しない場合も成功とする。
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("音声ファイル %s の削除に失敗: %w", name, err)
	}
	return nil
}

// List は保存済みの音声ファイルを返す。書き込み途中の一時ファイルとディレクトリは含まない。
func (s *FileStore) List(ctx context.Context) ([]StoredObject, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("音声ディレクトリの読み取りに失敗: %w", err)
	}

	objects := make([]StoredObject, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 列挙と取得の間に削除された
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("音声ファイル %s の情報取得に失敗: %w", e.Name(), err)
		}
		objects = append(objects, StoredObject{Name: e.Name(), ModTime: info.ModTime()})
	}
	return objects, nil
}
