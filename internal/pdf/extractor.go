package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/helixir/paper-search-service/internal/domain"
)

const defaultMaxPages = 60

// Extractor turns PDF bytes into plain text, one output line per text row.
type Extractor struct {
	maxPages int
}

// NewExtractor creates an Extractor that reads at most maxPages pages
// (default 60 when maxPages <= 0).
func NewExtractor(maxPages int) *Extractor {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Extractor{maxPages: maxPages}
}

// Extract returns the document text. A document that cannot be parsed, or
// parses to blank text, yields an error wrapping domain.ErrNoExtractableText.
func (e *Extractor) Extract(content []byte) (text string, err error) {
	// The reader reports some malformed structures by panicking.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", domain.ErrNoExtractableText, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNoExtractableText, err)
	}

	pages := r.NumPage()
	if pages > e.maxPages {
		pages = e.maxPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var line strings.Builder
			for _, t := range row.Content {
				line.WriteString(t.S)
			}
			if s := strings.TrimSpace(line.String()); s != "" {
				sb.WriteString(s)
				sb.WriteByte('\n')
			}
		}
	}

	text = strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.ErrNoExtractableText
	}
	return text, nil
}
