package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	got := PlainText(`<html><body><p>Hello&nbsp;<b>there</b></p>
		<script>alert(1)</script><a href="x">link</a></body></html>`)
	assert.Equal(t, "Hello there link", got)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", Snippet("  a\n b\t\tc ", 10))
	assert.Equal(t, "héllo", Snippet("héllo wörld", 5))
}

func TestParseMIMEBody(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=BOUND\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html body</p>\r\n" +
		"--BOUND--\r\n"

	text, html := parseMIMEBody([]byte(raw))
	assert.Equal(t, "plain body", text)
	assert.Equal(t, "<p>html body</p>", html)
}
