package models

import (
	"time"

	"github.com/hyperjump/pravo/internal/fileid"
)

// Chunk is a retrievable unit of a document's cleaned text.
// Text equals the cleaned text between CharStart and CharEnd (rune offsets);
// the first OverlapChars runes repeat the tail of the previous chunk.
type Chunk struct {
	ID            string                 `json:"chunk_id" db:"chunk_id"`
	DocumentID    string                 `json:"doc_id" db:"doc_id"`
	Text          string                 `json:"text" db:"chunk_text"`
	Embedding     []float32              `json:"-" db:"embedding"`
	SectionPath   []string               `json:"section_path" db:"section_path"`
	ChunkIndex    int                    `json:"chunk_index" db:"chunk_index"`
	CharStart     int                    `json:"char_start" db:"char_start"`
	CharEnd       int                    `json:"char_end" db:"char_end"`
	Tokens        int                    `json:"tokens" db:"tokens"`
	OverlapChars  int                    `json:"overlap_chars" db:"-"`
	OverlapTokens int                    `json:"overlap_tokens" db:"-"`
	Oversized     bool                   `json:"oversized,omitempty" db:"-"`
	ContentHash   string                 `json:"content_hash,omitempty" db:"content_hash"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time              `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at,omitempty" db:"updated_at"`
}

// Chunk metadata keys persisted in the metadata column.
const (
	MetaOverlapChars  = "overlap_chars"
	MetaOverlapTokens = "overlap_tokens"
	MetaOversized     = "oversized"
)

// ChunkMetadata is the metadata object of a chunk record.
type ChunkMetadata struct {
	SectionPath   []string `json:"section_path"`
	ChunkIndex    int      `json:"chunk_index"`
	CharStart     int      `json:"char_start"`
	CharEnd       int      `json:"char_end"`
	Tokens        int      `json:"tokens"`
	OverlapChars  int      `json:"overlap_chars"`
	OverlapTokens int      `json:"overlap_tokens"`
	Oversized     bool     `json:"oversized,omitempty"`
	ContentHash   string   `json:"content_hash,omitempty"`
}

// ChunkRecord is one line of the chunk stage output.
type ChunkRecord struct {
	ChunkID  string        `json:"chunk_id"`
	DocID    string        `json:"doc_id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Record converts the chunk to its intermediate representation.
func (c *Chunk) Record() *ChunkRecord {
	return &ChunkRecord{
		ChunkID: c.ID,
		DocID:   c.DocumentID,
		Text:    c.Text,
		Metadata: ChunkMetadata{
			SectionPath:   c.SectionPath,
			ChunkIndex:    c.ChunkIndex,
			CharStart:     c.CharStart,
			CharEnd:       c.CharEnd,
			Tokens:        c.Tokens,
			OverlapChars:  c.OverlapChars,
			OverlapTokens: c.OverlapTokens,
			Oversized:     c.Oversized,
			ContentHash:   c.ContentHash,
		},
	}
}

// Chunk converts a record back to a chunk without an embedding. A record
// without a content hash gets one computed from its text.
func (r *ChunkRecord) Chunk() *Chunk {
	path := r.Metadata.SectionPath
	if path == nil {
		path = []string{}
	}
	hash := r.Metadata.ContentHash
	if hash == "" {
		hash = fileid.ContentHash(r.Text)
	}
	return &Chunk{
		ID:            r.ChunkID,
		DocumentID:    r.DocID,
		Text:          r.Text,
		SectionPath:   path,
		ChunkIndex:    r.Metadata.ChunkIndex,
		CharStart:     r.Metadata.CharStart,
		CharEnd:       r.Metadata.CharEnd,
		Tokens:        r.Metadata.Tokens,
		OverlapChars:  r.Metadata.OverlapChars,
		OverlapTokens: r.Metadata.OverlapTokens,
		Oversized:     r.Metadata.Oversized,
		ContentHash:   hash,
	}
}

// StoredMetadata returns the metadata map persisted with the chunk row.
func (c *Chunk) StoredMetadata() map[string]interface{} {
	m := make(map[string]interface{}, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		m[k] = v
	}
	m[MetaOverlapChars] = c.OverlapChars
	m[MetaOverlapTokens] = c.OverlapTokens
	if c.Oversized {
		m[MetaOversized] = true
	}
	return m
}

// ApplyStoredMetadata fills the overlap fields from a persisted metadata map.
func (c *Chunk) ApplyStoredMetadata(m map[string]interface{}) {
	c.Metadata = m
	c.OverlapChars = metaInt(m, MetaOverlapChars)
	c.OverlapTokens = metaInt(m, MetaOverlapTokens)
	if v, ok := m[MetaOversized].(bool); ok {
		c.Oversized = v
	}
}

// ChunkState is what storage knows about an existing chunk row.
type ChunkState struct {
	ContentHash string
	Embedded    bool
}

func metaInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
