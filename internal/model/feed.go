// Package model はドメインモデルを定義する。
package model

import "time"

// FeedSubscription はユーザーが登録したRSS/Atomフィードを表す。
// 作成後は変更されず、削除のみ可能。
type FeedSubscription struct {
	ID      string
	UserID  string
	URL     string
	AddedAt time.Time
}
