package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// blockSelectors are elements whose text is separated by newlines.
const blockSelectors = "p, div, li, h1, h2, h3, h4, h5, h6, tr, br, section, article, header, footer, blockquote, pre"

// HTML extracts the visible text of an HTML page. The page title, when present,
// is emitted as the first line.
func HTML(_ context.Context, data []byte, mimeType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(data), mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: detecting charset: %v", ErrExtraction, err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: parsing html: %v", ErrExtraction, err)
	}

	doc.Find("script, style, noscript, template, iframe, svg, nav").Remove()
	doc.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(doc.Find("body").Text())
	return b.String(), nil
}
