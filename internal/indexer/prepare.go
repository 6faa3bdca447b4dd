package indexer

import (
	"fmt"
	"unicode/utf8"

	"github.com/hyperjump/pravo/internal/clean"
	"github.com/hyperjump/pravo/internal/models"
)

// Prepared is an extracted document after cleaning and chunking. A non-empty
// SkipReason means the document carries no retrievable text.
type Prepared struct {
	Document   *models.Document
	Chunks     []*models.Chunk
	SkipReason string
}

// Prepare cleans the record's text and splits it into chunks. Documents that
// failed extraction, need OCR, or are shorter than minTextChars after
// cleaning get no chunks and a skip reason.
func Prepare(rec *models.DocumentRecord, chunker *Chunker, minTextChars int) *Prepared {
	doc := rec.Document()
	p := &Prepared{Document: doc}
	switch {
	case doc.ExtractError() != "":
		p.SkipReason = doc.ExtractError()
	case doc.NeedsOCR:
		p.SkipReason = "needs OCR"
	}
	if p.SkipReason != "" {
		p.finish()
		return p
	}

	res := clean.Clean(rec.Text)
	res.Apply(doc)
	if n := utf8.RuneCountInString(res.Text); n < minTextChars {
		p.SkipReason = fmt.Sprintf("text too short: %d chars, minimum %d", n, minTextChars)
		p.finish()
		return p
	}
	p.Chunks = chunker.Chunk(doc.ID, res.Text)
	if len(p.Chunks) == 0 {
		p.SkipReason = "no chunks"
	}
	p.finish()
	return p
}

func (p *Prepared) finish() {
	p.Document.SetMeta(models.MetaChunkCount, len(p.Chunks))
	p.Document.SetMeta(models.MetaChunkingSignature, Signature(p.Chunks))
}
