package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は表示名として保持する最大文字数。
const maxDisplayNameLength = 100

// ProfileSanitizer はプロバイダーから受け取った表示名などのテキストからマークアップを取り除く。
// 結果はエスケープされていないプレーンテキストなので、表示側でエスケープすること。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグと制御文字を取り除き、前後の空白を削って返す。
func (s *ProfileSanitizer) Sanitize(text string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(text))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if r := []rune(cleaned); len(r) > maxDisplayNameLength {
		cleaned = string(r[:maxDisplayNameLength])
	}
	return cleaned
}
