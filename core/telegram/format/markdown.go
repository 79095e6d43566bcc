// Package format prepares text for Telegram parse modes.
package format

import (
	"fmt"
	"strings"
)

const (
	// MarkdownV1 denotes Telegram legacy Markdown.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram MarkdownV2.
	MarkdownV2 = 2
)

// Entity types with their own escaping rules.
const (
	EntityText = ""
	EntityCode = "code"
	EntityPre  = "pre"
	EntityLink = "text_link"
)

const (
	mdV1Specials = "_*`["
	mdV2Specials = "_*[]()~`>#+-=|{}.!\\"
)

// EscapeMarkdown escapes text for the given Markdown version. Inside code and
// pre entities MarkdownV2 only reserves the backtick and the backslash; inside
// a link URL only ')' and the backslash.
func EscapeMarkdown(text string, version int, entityType string) (string, error) {
	var specials string
	switch version {
	case MarkdownV1:
		specials = mdV1Specials
		if entityType == EntityCode || entityType == EntityPre {
			specials = "`"
		}
	case MarkdownV2:
		switch entityType {
		case EntityCode, EntityPre:
			specials = "`\\"
		case EntityLink:
			specials = ")\\"
		default:
			specials = mdV2Specials
		}
	default:
		return "", fmt.Errorf("unsupported markdown version: %d", version)
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// MustEscapeV2 escapes plain text for MarkdownV2.
func MustEscapeV2(text string) string {
	s, _ := EscapeMarkdown(text, MarkdownV2, EntityText)
	return s
}
