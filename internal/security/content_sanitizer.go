// Package security はAPIから受け取ったテキストの無害化と、
// セッションストアに置く登録の下書きの暗号化を提供する。
//
// エラーメッセージなどの短いテキストはマークアップを全て除去し、
// 組織の説明文は許可リストに含まれる安全なタグのみを残す。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はAPI由来のテキストを表示用に無害化するインターフェース。
type ContentSanitizer interface {
	// Text は全てのタグを除去したプレーンテキストを返す。
	// 結果はテンプレート側で改めてエスケープされる前提で、実体参照は復元する。
	Text(raw string) string

	// RichText は許可タグ（p, br, a, ul, ol, li, strong, em）のみを残したHTMLを返す。
	// aタグのhrefはhttpsのみ許可し、target="_blank"とrel="noopener noreferrer"を付与する。
	RichText(raw string) string
}

// contentSanitizer はContentSanitizerの実装。bluemondayのポリシーは並行利用できる。
type contentSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() ContentSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowRelativeURLs(false)
	rich.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// Text は全てのタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// RichText は許可タグのみを残したHTMLを返す。
func (s *contentSanitizer) RichText(raw string) string {
	return s.rich.Sanitize(raw)
}
