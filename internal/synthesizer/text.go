package synthesizer

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// stripHTML 去掉 HTML 标签只保留文本，script/style 内容一并丢弃。
// 不含标签的 markdown 原样返回。
func stripHTML(raw string) string {
	if !looksLikeHTML(raw) {
		return raw
	}
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4":
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if skip > 0 {
					skip--
				}
			}
		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "br" {
				b.WriteString("\n")
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

// looksLikeHTML 粗略判断文本里是否有 HTML 标签。
func looksLikeHTML(s string) bool {
	i := strings.Index(s, "<")
	if i < 0 || i+1 >= len(s) {
		return false
	}
	next := s[i+1]
	if !(next == '/' || next == '!' || (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z')) {
		return looksLikeHTML(s[i+1:])
	}
	return strings.Contains(s[i:], ">")
}

// summarize 提取纯文本摘要，最多 max 个字符。
func summarize(content string, max int) string {
	text := stripHTML(content)
	lines := strings.Split(text, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#>*-|"))
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	out := collapseSpaces(strings.Join(parts, " "))
	if utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return strings.TrimSpace(string(runes[:max])) + "…"
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
