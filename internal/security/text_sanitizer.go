package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はフィード由来の文字列をプレーンテキストに変換する機能のインターフェースを定義する。
// 記事タイトルは音声合成や要約の入力、API応答にそのまま使われるため、マークアップを残さない。
type TextSanitizerService interface {
	// Sanitize は全てのタグを除去し、HTMLエンティティを復元し、連続する空白を1つにまとめる。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなため、1つのインスタンスを共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyを使うTextSanitizerServiceを生成する。
// script, styleタグは中身ごと除去される。
// 除去したタグの位置には空白を挿入し、隣接するブロック要素の語が連結しないようにする。
func NewTextSanitizer() *textSanitizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return &textSanitizer{
		policy: p,
	}
}

// Sanitize はプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
