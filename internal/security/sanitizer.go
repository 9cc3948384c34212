package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部から受け取った表示用テキストを無害化する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// DescriptionSanitizer は銀行取引の摘要・加盟店名からマークアップを除去する。
// 摘要はプロバイダー経由で第三者が自由に設定できるため、保存前にプレーンテキスト化する。
type DescriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はタグを一切許可しないbluemondayポリシーでDescriptionSanitizerを生成する。
func NewDescriptionSanitizer() *DescriptionSanitizer {
	return &DescriptionSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エンティティを元の文字に戻し、連続する空白を1つにまとめる。
// 同一入力に対して常に同一出力を返す。
func (s *DescriptionSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}

var _ TextSanitizer = (*DescriptionSanitizer)(nil)
