package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はユーザー入力のプレーンテキストを正規化する機能のインターフェース。
// 請求先名や作業内容などの自由入力欄の保存前に使用される。
type TextSanitizerService interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyでタグをすべて除去する。
// StrictPolicyは&や<をエンティティに変換するため、保存値はエスケープを戻したテキストとする。
// 表示時のエスケープはクライアントの責務。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
