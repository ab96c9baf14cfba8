package model

import (
	"strings"
	"unicode"
)

// Slugify 生成 URL slug：小写、空白转连字符，仅保留 a-z 0-9 韩文音节与连字符。
func Slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsSpace(r) || r == '-':
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || isHangulSyllable(r):
			b.WriteRune(r)
			lastDash = false
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func isHangulSyllable(r rune) bool {
	return r >= 0xAC00 && r <= 0xD7A3
}
