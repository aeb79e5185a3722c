// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Feedsは登録順に並び、パイプラインは先頭のフィードのみを処理する。
type User struct {
	ID        string
	Email     string
	Name      string
	Feeds     []*FeedSubscription
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// セッションの発行は外部の認証基盤が行い、本サービスは検証のみを行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
