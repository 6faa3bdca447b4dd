package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the text of every page, pages separated by a form feed.
// The parser panics on some malformed files; that is reported as an error.
func extractPDF(content []byte) (c *Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("open PDF: malformed document: %v", r)
		}
	}()
	if len(content) == 0 {
		return nil, fmt.Errorf("open PDF: empty file")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		if i > 0 {
			buf.WriteByte('\f')
		}
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
	}
	c = &Content{Text: buf.String(), Pages: numPages}
	info := r.Trailer().Key("Info")
	if !info.IsNull() {
		c.Title = strings.TrimSpace(info.Key("Title").Text())
		c.Author = strings.TrimSpace(info.Key("Author").Text())
	}
	return c, nil
}
