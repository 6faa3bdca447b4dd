package search

import (
	"strings"

	"github.com/hyperjump/pravo/pkg/utils"
)

// Highlight renders chunk text as a one-line snippet: whitespace runs,
// including line breaks, collapse to one space and the result is cut to
// maxRunes runes with "..." appended.
func Highlight(content string, maxRunes int) string {
	return utils.Truncate(strings.Join(strings.Fields(content), " "), maxRunes)
}
