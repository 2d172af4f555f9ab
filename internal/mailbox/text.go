package mailbox

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// SnippetLength is the number of runes kept for a stored snippet.
const SnippetLength = 200

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from an HTML body and collapses whitespace.
func PlainText(body string) string {
	return collapse(html.UnescapeString(strictPolicy.Sanitize(body)))
}

// Snippet collapses whitespace and cuts text to n runes.
func Snippet(text string, n int) string {
	text = collapse(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
