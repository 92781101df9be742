package connector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnippetPrefersPlainText(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=BOUND\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain   version\r\n" +
		"--BOUND--\r\n"

	assert.Equal(t, "plain version", snippetFromMIME(strings.NewReader(raw)))
}

func TestSnippetFromHTML(t *testing.T) {
	raw := "Content-Type: text/html\r\n\r\n" +
		"<html><head><style>p{color:red}</style></head><body><p>Hello</p><p>World</p><script>x()</script></body></html>"

	assert.Equal(t, "Hello World", snippetFromMIME(strings.NewReader(raw)))
}

func TestSnippetGarbage(t *testing.T) {
	assert.Equal(t, "", snippetFromMIME(strings.NewReader("")))
}

func TestMakeSnippet(t *testing.T) {
	assert.Equal(t, "a b", makeSnippet("\u200b a\n\t b "))

	long := strings.Repeat("x", 300)
	got := makeSnippet(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, snippetLength+3, len([]rune(got)))
}
