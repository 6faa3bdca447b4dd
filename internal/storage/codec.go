package storage

import (
	"encoding/json"
	"fmt"

	"github.com/hyperjump/pravo/internal/models"
)

func marshalMeta(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMeta(b []byte) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

func marshalPath(path []string) (string, error) {
	if path == nil {
		path = []string{}
	}
	b, err := json.Marshal(path)
	if err != nil {
		return "", fmt.Errorf("failed to marshal section path: %w", err)
	}
	return string(b), nil
}

func unmarshalPath(s string) ([]string, error) {
	path := []string{}
	if s == "" {
		return path, nil
	}
	if err := json.Unmarshal([]byte(s), &path); err != nil {
		return nil, fmt.Errorf("failed to unmarshal section path: %w", err)
	}
	return path, nil
}

// chunkMeta is the metadata column of a chunk row.
func chunkMeta(c *models.Chunk) ([]byte, error) {
	return marshalMeta(c.StoredMetadata())
}

func sectionPath(path []string) []string {
	if path == nil {
		return []string{}
	}
	return path
}
