package wizard

import (
	"regexp"
	"strings"
)

var phoneSeparators = regexp.MustCompile(`[\s\-()]`)

// FormatPhoneNumber はケニアの電話番号をE.164形式（+254...）に寄せる。
// 空白・ハイフン・括弧を除去したうえで次の4形式のみ変換する:
//
//	0XXXXXXXXX (10桁)   -> +254XXXXXXXXX
//	7XXXXXXXX (9桁)     -> +2547XXXXXXXX
//	254XXXXXXXXX (12桁) -> +254XXXXXXXXX
//	1XXXXXXXXX (10桁)   -> +254XXXXXXXXX
//
// それ以外の形はそのまま返す。
func FormatPhoneNumber(phone string) string {
	formatted := phoneSeparators.ReplaceAllString(strings.TrimSpace(phone), "")

	switch {
	case strings.HasPrefix(formatted, "0") && len(formatted) == 10:
		formatted = "+254" + formatted[1:]
	case strings.HasPrefix(formatted, "7") && len(formatted) == 9:
		formatted = "+254" + formatted
	case strings.HasPrefix(formatted, "254") && len(formatted) == 12:
		formatted = "+" + formatted
	case strings.HasPrefix(formatted, "1") && len(formatted) == 10:
		formatted = "+254" + formatted[1:]
	}
	return formatted
}
