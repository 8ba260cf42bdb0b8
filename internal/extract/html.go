package extract

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/pkg/utils"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
)

// CleanHTML removes tags, decodes entities and collapses whitespace.
func CleanHTML(text string) string {
	text = scriptStyleRe.ReplaceAllString(text, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return utils.CollapseWhitespace(text)
}

// plainText returns content as a string, replacing invalid UTF-8 sequences.
func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}
