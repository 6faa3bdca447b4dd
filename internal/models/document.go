// Package models defines core data structures for legal-act documents, chunks, queries, and results.
package models

import (
	"fmt"
	"strings"
	"time"
)

// FileType is the closed set of source formats the extractor understands.
type FileType string

const (
	FileTypePDF       FileType = "pdf"
	FileTypeHTML      FileType = "html"
	FileTypeDOCX      FileType = "docx"
	FileTypePlainText FileType = "txt"
)

// ParseFileType converts a stored or user-supplied name into a FileType.
func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToLower(strings.TrimSpace(s))) {
	case FileTypePDF:
		return FileTypePDF, nil
	case FileTypeHTML, "htm":
		return FileTypeHTML, nil
	case FileTypeDOCX:
		return FileTypeDOCX, nil
	case FileTypePlainText, "text", "plain":
		return FileTypePlainText, nil
	}
	return "", fmt.Errorf("unknown file type %q", s)
}

// Document is a legal act as stored by the storage layer.
// Text is carried between stages but never persisted.
type Document struct {
	ID             string                 `json:"doc_id" db:"doc_id"`
	Title          string                 `json:"title" db:"title"`
	ActNumber      string                 `json:"act_number,omitempty" db:"act_number"`
	Date           string                 `json:"date,omitempty" db:"date"`
	Authority      string                 `json:"authority,omitempty" db:"authority"`
	URL            string                 `json:"url,omitempty" db:"url"`
	Source         string                 `json:"source,omitempty" db:"source"`
	FileType       FileType               `json:"file_type" db:"file_type"`
	FilePath       string                 `json:"file_path" db:"file_path"`
	TextLength     int                    `json:"text_length" db:"text_length"`
	NeedsOCR       bool                   `json:"needs_ocr" db:"needs_ocr"`
	ReferenceBlock string                 `json:"reference_block,omitempty" db:"reference_block"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time              `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at,omitempty" db:"updated_at"`
}

// Metadata keys shared by the pipeline stages.
const (
	MetaError             = "error"
	MetaPageCount         = "page_count"
	MetaAuthor            = "author"
	MetaEncoding          = "encoding"
	MetaFileExtension     = "file_extension"
	MetaChunkCount        = "chunk_count"
	MetaChunkingSignature = "chunking_signature"
)

// SetMeta sets a metadata key, allocating the map when needed.
func (d *Document) SetMeta(key string, value interface{}) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]interface{})
	}
	d.Metadata[key] = value
}

// MetaString returns the metadata value for key as a string, or "".
func (d *Document) MetaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	switch v := d.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ExtractError returns the recorded extraction failure reason, if any.
func (d *Document) ExtractError() string {
	return d.MetaString(MetaError)
}

// DocumentRecord is one line of the extract stage output: {doc_id, metadata, text}.
type DocumentRecord struct {
	DocID    string    `json:"doc_id"`
	Metadata *Document `json:"metadata"`
	Text     string    `json:"text"`
}

// NewDocumentRecord pairs a document with its extracted text.
func NewDocumentRecord(doc *Document, text string) *DocumentRecord {
	return &DocumentRecord{DocID: doc.ID, Metadata: doc, Text: text}
}

// Document returns the record's document, making sure the id is populated.
func (r *DocumentRecord) Document() *Document {
	doc := r.Metadata
	if doc == nil {
		doc = &Document{}
	}
	if doc.ID == "" {
		doc.ID = r.DocID
	}
	return doc
}
