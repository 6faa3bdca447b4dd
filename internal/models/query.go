package models

import (
	"fmt"
	"strings"
)

// DefaultTopK is used when the caller leaves TopK unset.
const DefaultTopK = 10

// SearchQuery is a retrieval request. Either Query (text) or Vector must be set.
type SearchQuery struct {
	Query         string    `json:"query,omitempty"`
	Vector        []float32 `json:"vector,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	DocID         string    `json:"doc_id,omitempty"`
	SectionPrefix []string  `json:"section_prefix,omitempty"`
	// Threshold drops results scoring below it; nil means the configured default.
	Threshold *float64 `json:"similarity_threshold,omitempty"`
}

// Validate ensures the query has a text or vector, defaults TopK and checks
// the threshold range. The upper TopK limit is configuration.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" && len(q.Vector) == 0 {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.Threshold != nil && (*q.Threshold < -1 || *q.Threshold > 1) {
		return fmt.Errorf("similarity threshold %v out of range [-1, 1]", *q.Threshold)
	}
	cleaned := q.SectionPrefix[:0]
	for _, s := range q.SectionPrefix {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	q.SectionPrefix = cleaned
	return nil
}

// ParseSectionPath splits "Розділ I/Стаття 1" (or " → " separated) into path labels.
func ParseSectionPath(s string) []string {
	s = strings.ReplaceAll(s, "→", "/")
	var out []string
	for _, part := range strings.Split(s, "/") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HasPrefix reports whether path starts with prefix.
func HasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
