// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// パイプラインの各段階が返すエラーの分類マーカー。
// アダプタは原因を fmt.Errorf("%w: ...: %w", marker, err) の形で包み、
// 呼び出し元は errors.Is で分類を判定する。
var (
	ErrFeedUnavailable       = errors.New("feed unavailable")
	ErrSummarizationFailed   = errors.New("summarization failed")
	ErrTranslationFailed     = errors.New("translation failed")
	ErrSynthesisFailed       = errors.New("synthesis failed")
	ErrStorageFailed         = errors.New("storage failed")
	ErrDuplicateKey          = errors.New("duplicate key")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, pipeline, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeFeedNotDetected       = "FEED_NOT_DETECTED"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
	ErrCodeFetchFailed           = "FETCH_FAILED"
	ErrCodeSubscriptionLimit     = "SUBSCRIPTION_LIMIT"
	ErrCodeDuplicateSubscription = "DUPLICATE_SUBSCRIPTION"
	ErrCodeSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeExternalService       = "EXTERNAL_SERVICE_FAILED"
	ErrCodeRepositoryUnavailable = "REPOSITORY_UNAVAILABLE"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid           = "CSRF_INVALID"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
)

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "feed",
		Action:   "RSS/AtomフィードのURLを直接入力するか、フィードが公開されているページのURLを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSubscriptionLimitError は購読上限エラーを生成する。
func NewSubscriptionLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionLimit,
		Message:  fmt.Sprintf("登録できるフィード数の上限（%d件）に達しています。", limit),
		Category: "feed",
		Action:   "不要なフィードを削除してから、新しいフィードを登録してください。",
	}
}

// NewDuplicateSubscriptionError は既に登録済みのフィードを再度登録しようとした場合のエラーを生成する。
func NewDuplicateSubscriptionError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSubscription,
		Message:  "このフィードは既に登録されています。",
		Category: "feed",
		Action:   "設定ページのフィード一覧を確認してください。",
	}
}

// NewSubscriptionNotFoundError はフィード登録が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", subscriptionID),
		Category: "feed",
		Action:   "フィードIDを確認してください。",
	}
}

// NewExternalServiceError は外部サービス呼び出しの失敗を、失敗した段階名とともに表すエラーを生成する。
func NewExternalServiceError(stage string) *APIError {
	return &APIError{
		Code:     ErrCodeExternalService,
		Message:  fmt.Sprintf("外部サービスの処理に失敗しました（段階: %s）。", stage),
		Category: "pipeline",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRepositoryUnavailableError はデータベースが利用できない場合のエラーを生成する。
func NewRepositoryUnavailableError(stage string) *APIError {
	return &APIError{
		Code:     ErrCodeRepositoryUnavailable,
		Message:  fmt.Sprintf("データベースにアクセスできませんでした（段階: %s）。", stage),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は未ログインのリクエストに対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインしてください。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限を超えたリクエストに対するエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
