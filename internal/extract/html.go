package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// extractHTML pulls the main article text out of an HTML document.
// Readability extraction is tried first; if the page has no identifiable
// article (dashboards, fragments), it falls back to stripping the full
// body with goquery.
func (e *Extractor) extractHTML(raw []byte) (text, title string, err error) {
	fakeURL := &url.URL{Scheme: "https", Host: "localhost"}

	article, rErr := readability.FromReader(bytes.NewReader(raw), fakeURL)
	if rErr == nil && strings.TrimSpace(article.TextContent) != "" {
		return normalizeWhitespace(sanitizeText(article.TextContent)), strings.TrimSpace(article.Title), nil
	}
	if rErr != nil {
		e.logger.Debug("readability extraction failed, falling back to body text", "error", rErr)
	}

	doc, qErr := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if qErr != nil {
		return "", "", fmt.Errorf("parsing HTML: %w", qErr)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	// Scripts, styles and navigation chrome carry no document content.
	doc.Find("script, style, nav, header, footer, noscript").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	if b.Len() == 0 {
		// Fragment without a <body> wrapper.
		b.WriteString(doc.Text())
	}

	return normalizeWhitespace(sanitizeText(b.String())), title, nil
}
