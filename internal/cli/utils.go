// Package cli provides output helpers for the pravo commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/search"
	"github.com/hyperjump/pravo/internal/storage"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// SnippetRunes is how much chunk text the text format shows per hit.
const SnippetRunes = 200

// SectionSeparator joins section path elements for display.
const SectionSeparator = " → "

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json): %w", s, models.ErrData)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (top %d, threshold %.2f)\n\n",
		response.Total, response.QueryTime, response.TopK, response.Threshold)
	if len(response.Results) == 0 {
		fmt.Fprintln(w, "No chunks passed the similarity threshold.")
		return
	}
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", result.Rank, result.Score)
	if result.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", result.Title)
	}
	if result.ActNumber != "" {
		fmt.Fprintf(w, "Act: %s", result.ActNumber)
		if result.Date != "" {
			fmt.Fprintf(w, " of %s", result.Date)
		}
		fmt.Fprintln(w)
	}
	if c := result.Chunk; c != nil {
		fmt.Fprintf(w, "Chunk: %s\n", c.ID)
		if len(c.SectionPath) > 0 {
			fmt.Fprintf(w, "Section: %s\n", FormatSectionPath(c.SectionPath))
		}
		fmt.Fprintf(w, "\n%s\n", search.Highlight(c.Text, SnippetRunes))
	}
	fmt.Fprintln(w)
}

// FormatSectionPath joins a section path for display.
func FormatSectionPath(path []string) string {
	return strings.Join(path, SectionSeparator)
}

// WriteSummary writes a stage summary to w in the given format.
func WriteSummary(w io.Writer, s models.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "%s finished in %s (run %s)\n", s.Stage, s.Elapsed.Round(time.Millisecond), s.RunID)
	fmt.Fprintf(w, "  succeeded: %d\n  unchanged: %d\n  skipped:   %d\n  failed:    %d\n",
		s.Succeeded, s.Unchanged, s.Skipped, s.Failed)
	writeIDs(w, "skipped", s.SkippedIDs, s.Reasons)
	writeIDs(w, "failed", s.FailedIDs, s.Reasons)
	if s.Aborted != "" {
		fmt.Fprintf(w, "ABORTED: %s\n", s.Aborted)
	}
	return nil
}

func writeIDs(w io.Writer, label string, ids []string, reasons map[string]string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, id := range ids {
		if r := reasons[id]; r != "" {
			fmt.Fprintf(w, "  %s: %s\n", id, r)
		} else {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
}

// WriteStatus writes corpus statistics to w in the given format.
func WriteStatus(w io.Writer, st storage.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Storage:    %s\n", st.Driver)
	fmt.Fprintf(w, "Documents:  %d (%d need OCR)\n", st.Documents, st.NeedsOCR)
	fmt.Fprintf(w, "Chunks:     %d (%d embedded)\n", st.Chunks, st.Embedded)
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(st.DiskUsageBytes))
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
