// Package extract provides text extraction from legal-act source files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hyperjump/pravo/internal/fileid"
	"github.com/hyperjump/pravo/internal/models"
	"go.uber.org/zap"
)

// Content is what a format handler pulls out of a file.
type Content struct {
	Text     string
	Title    string
	Author   string
	URL      string
	Pages    int
	Encoding string
}

// Extractor turns source files into document records.
type Extractor struct {
	ocrMinChars        int
	ocrMinCharsPerPage int
	source             string
	logger             *zap.Logger // optional
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// WithOCRThresholds sets the minimum number of non-space characters for a document
// and, for PDFs, per page, below which the source is treated as a scan.
func WithOCRThresholds(minChars, minCharsPerPage int) ExtractorOption {
	return func(e *Extractor) {
		e.ocrMinChars = minChars
		e.ocrMinCharsPerPage = minCharsPerPage
	}
}

// WithSource sets the source label stored on every document.
func WithSource(source string) ExtractorOption {
	return func(e *Extractor) { e.source = source }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{ocrMinChars: 100, ocrMinCharsPerPage: 50, source: "local"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its document record.
// Unreadable or corrupt files still produce a record, with empty text and the
// failure reason in metadata. The only error is ErrUnsupportedType.
func (e *Extractor) Extract(ctx context.Context, path string) (*models.DocumentRecord, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = filepath.Clean(path)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	doc := &models.Document{
		ID:       fileid.DocID(absPath),
		FilePath: absPath,
		Source:   e.source,
		Title:    strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath)),
	}
	doc.SetMeta(models.MetaFileExtension, ext)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, readErr := os.ReadFile(absPath)
	ft, err := DetectType(absPath, data)
	if err != nil {
		return nil, err
	}
	doc.FileType = ft
	if readErr != nil {
		doc.SetMeta(models.MetaError, fmt.Sprintf("read file: %v", readErr))
		doc.NeedsOCR = ft == models.FileTypePDF
		return models.NewDocumentRecord(doc, ""), nil
	}

	content, err := e.ExtractBytes(data, ft)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("extraction failed", zap.String("path", absPath), zap.Error(err))
		}
		doc.SetMeta(models.MetaError, err.Error())
		doc.NeedsOCR = ft == models.FileTypePDF
		return models.NewDocumentRecord(doc, ""), nil
	}

	if content.Title != "" {
		doc.Title = content.Title
	}
	if content.URL != "" {
		doc.URL = content.URL
	}
	if content.Author != "" {
		doc.SetMeta(models.MetaAuthor, content.Author)
	}
	if content.Pages > 0 {
		doc.SetMeta(models.MetaPageCount, content.Pages)
	}
	if content.Encoding != "" {
		doc.SetMeta(models.MetaEncoding, content.Encoding)
	}
	doc.TextLength = len([]rune(content.Text))
	doc.NeedsOCR = e.needsOCR(ft, content)
	return models.NewDocumentRecord(doc, content.Text), nil
}

// ExtractBytes dispatches data to the handler for ft.
func (e *Extractor) ExtractBytes(data []byte, ft models.FileType) (*Content, error) {
	switch ft {
	case models.FileTypePDF:
		return extractPDF(data)
	case models.FileTypeHTML:
		return extractHTML(data)
	case models.FileTypeDOCX:
		return extractDOCX(data)
	case models.FileTypePlainText:
		return extractPlain(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ft)
}

// needsOCR reports whether the text is empty or, for PDFs, implausibly short
// for the number of pages.
func (e *Extractor) needsOCR(ft models.FileType, c *Content) bool {
	n := countVisible(c.Text)
	if n == 0 {
		return true
	}
	if ft != models.FileTypePDF {
		return false
	}
	if n < e.ocrMinChars {
		return true
	}
	return c.Pages > 0 && n/c.Pages < e.ocrMinCharsPerPage
}

func countVisible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// IsUnsupported reports whether err is an unsupported-type refusal.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedType)
}
