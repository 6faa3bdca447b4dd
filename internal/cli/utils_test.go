package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/storage"
)

func testResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "право на освіту",
		QueryTime: 42,
		Total:     1,
		TopK:      10,
		Threshold: 0.7,
		Results: []*models.SearchResult{
			{
				Rank:      1,
				Score:     0.91,
				Title:     "Про освіту",
				ActNumber: "2145-VIII",
				Date:      "2017-09-05",
				Chunk: &models.Chunk{
					ID:          "doc1_chunk_3",
					DocumentID:  "doc1",
					Text:        strings.Repeat("Кожен має право на освіту. ", 20),
					SectionPath: []string{"Розділ I", "Стаття 3"},
					ChunkIndex:  3,
				},
			},
		},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := testResponse()
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Chunk.ID != "doc1_chunk_3" {
		t.Fatalf("decoded results = %+v", decoded.Results)
	}
	if decoded.Results[0].Chunk.Text != response.Results[0].Chunk.Text {
		t.Error("JSON output should carry the full chunk text")
	}
}

func TestWriteSearchResults_JSON_empty(t *testing.T) {
	response := &models.SearchResponse{Query: "q", Results: []*models.SearchResult{}}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	if !strings.Contains(buf.String(), `"results": []`) {
		t.Errorf("empty results should encode as an empty array:\n%s", buf.String())
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, testResponse(), OutputText); err != nil {
		t.Fatalf("WriteSearchResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "42ms", "Rank: 1", "0.9100", "Про освіту",
		"2145-VIII of 2017-09-05", "Розділ I → Стаття 3", "doc1_chunk_3"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
	if !strings.Contains(out, "...") {
		t.Error("long chunk text should be truncated")
	}
}

func TestWriteSearchResults_textEmpty(t *testing.T) {
	var buf bytes.Buffer
	response := &models.SearchResponse{Results: []*models.SearchResult{}, Threshold: 0.99}
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No chunks passed") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteSearchResults_unknownFormatTreatedAsText(t *testing.T) {
	response := &models.SearchResponse{Query: "x"}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputFormat("unknown")); err != nil {
		t.Fatalf("WriteSearchResults(unknown): %v", err)
	}
	if !strings.Contains(buf.String(), "Found") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil && !errors.Is(err, models.ErrData) {
			t.Errorf("ParseOutputFormat(%q) err = %v, want data error", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	s := models.Summary{
		Stage:      "embed",
		RunID:      "run-1",
		Succeeded:  600,
		Unchanged:  10,
		Failed:     1,
		FailedIDs:  []string{"doc9_chunk_2"},
		Reasons:    map[string]string{"doc9_chunk_2": "input too long"},
		Elapsed:    1500 * time.Millisecond,
		Aborted:    "embed: interrupted, rerun to resume",
		SkippedIDs: []string{},
	}
	var buf bytes.Buffer
	if err := WriteSummary(&buf, s, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"embed finished in 1.5s", "succeeded: 600", "unchanged: 10",
		"doc9_chunk_2: input too long", "ABORTED: embed: interrupted"} {
		if !strings.Contains(out, sub) {
			t.Errorf("summary missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteSummary(&buf, s, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Succeeded != 600 || decoded.FailedIDs[0] != "doc9_chunk_2" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	st := storage.Stats{Driver: "sqlite", Documents: 3, Chunks: 12, Embedded: 10, NeedsOCR: 1, DiskUsageBytes: 3 << 20}
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"sqlite", "3 (1 need OCR)", "12 (10 embedded)", "3.0 MiB"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("status missing %q:\n%s", sub, buf.String())
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
