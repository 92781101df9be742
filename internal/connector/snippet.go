package connector

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// snippetLength is the number of runes kept in a message snippet
const snippetLength = 200

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	// Zero-width and other invisible characters common in marketing mail
	invisibleRegex = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}]+`)
)

// snippetFromMIME reads an RFC 5322 message and returns a short plain text
// preview. text/plain parts are preferred over text/html.
func snippetFromMIME(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return ""
	}
	defer mr.Close()

	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(body)
		}
	}

	if text == "" && html != "" {
		text = htmlToText(html)
	}
	return makeSnippet(text)
}

// htmlToText strips markup, scripts and styles from an HTML body
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Keep words in adjacent blocks apart
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr, td").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml(" ")
	})

	return doc.Text()
}

// makeSnippet normalizes whitespace and truncates to snippetLength runes
func makeSnippet(s string) string {
	s = invisibleRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))

	runes := []rune(s)
	if len(runes) <= snippetLength {
		return s
	}
	return strings.TrimSpace(string(runes[:snippetLength])) + "..."
}
