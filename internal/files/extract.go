package files

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pbberlin/pdf"
	"golang.org/x/net/html"
)

// LooksLikeHTML detects error pages served with a success status. Several
// council systems answer a dead file link with their login or error page
// instead of a 404.
func LooksLikeHTML(contentType string, data []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if !utf8.Valid(head) {
		return false
	}
	doc, err := html.Parse(bytes.NewReader(head))
	if err != nil {
		return false
	}
	return hasElement(doc, "title") || hasElement(doc, "script") ||
		bytes.Contains(bytes.ToLower(head), []byte("<!doctype html"))
}

func hasElement(n *html.Node, name string) bool {
	if n.Type == html.ElementNode && n.Data == name {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasElement(c, name) {
			return true
		}
	}
	return false
}

// ExtractText pulls plain text out of a file body. PDFs yield their text
// layer and page count; plain text passes through. Everything else is
// stored without a text layer.
func ExtractText(data []byte, mimeType string) (text *string, pageCount *int, err error) {
	switch {
	case strings.Contains(mimeType, "application/pdf"):
		return extractPDF(data)
	case strings.HasPrefix(mimeType, "text/"):
		s := string(data)
		return &s, nil, nil
	default:
		return nil, nil, nil
	}
}

func extractPDF(data []byte) (text *string, pageCount *int, err error) {
	// The parser panics on several malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, pageCount = nil, nil
			err = fmt.Errorf("open pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	pages := reader.NumPage()

	var content strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		cn, err := pageContent(&page)
		if err != nil {
			// A single broken page should not lose the rest of the
			// document.
			continue
		}
		for _, t := range cn.Text {
			content.WriteString(t.S)
		}
		content.WriteString("\n")
	}
	s := content.String()
	return &s, &pages, nil
}

// pageContent wraps the panicky page parser.
func pageContent(p *pdf.Page) (cnt *pdf.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read page content: %v", r)
		}
	}()
	c := p.Content()
	return &c, nil
}
