// Package fileid derives deterministic document and chunk identifiers.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// docIDLen is the number of hex characters kept from the path hash (128 bits).
const docIDLen = 32

// DocID returns a stable document ID for the given source path.
// Same path always yields the same ID, so reprocessing updates instead of duplicating.
func DocID(absolutePath string) string {
	normalized := filepath.ToSlash(filepath.Clean(absolutePath))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])[:docIDLen]
}

// ChunkID returns "{docID}_chunk_{index}".
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, index)
}

// ParseChunkID splits a chunk ID into its document ID and index.
func ParseChunkID(chunkID string) (docID string, index int, err error) {
	i := strings.LastIndex(chunkID, "_chunk_")
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid chunk id %q", chunkID)
	}
	index, err = strconv.Atoi(chunkID[i+len("_chunk_"):])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("invalid chunk id %q", chunkID)
	}
	return chunkID[:i], index, nil
}

// ContentHash returns the hex sha256 of text, used to detect changed chunks.
func ContentHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
