package indexer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/pravo/internal/clean"
	"github.com/hyperjump/pravo/internal/fileid"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/tokens"
)

// reconstruct concatenates chunks, dropping each overlap prefix after the first.
func reconstruct(chunks []*models.Chunk) string {
	var b strings.Builder
	for i, ch := range chunks {
		r := []rune(ch.Text)
		if i > 0 {
			r = r[ch.OverlapChars:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}

// checkChunks verifies the invariants every chunk set must hold.
func checkChunks(t *testing.T, docID, text string, chunks []*models.Chunk, maxTokens int) {
	t.Helper()
	if got := reconstruct(chunks); got != text {
		t.Fatalf("reconstruction mismatch:\n got %q\nwant %q", got, text)
	}
	runes := []rune(text)
	counter := tokens.WordCounter{}
	for i, ch := range chunks {
		if ch.ID != fileid.ChunkID(docID, i) || ch.ChunkIndex != i || ch.DocumentID != docID {
			t.Errorf("chunk %d identity = %s/%d/%s", i, ch.ID, ch.ChunkIndex, ch.DocumentID)
		}
		if string(runes[ch.CharStart:ch.CharEnd]) != ch.Text {
			t.Errorf("chunk %d offsets [%d:%d] do not select its text", i, ch.CharStart, ch.CharEnd)
		}
		if ch.Tokens != counter.Count(ch.Text) {
			t.Errorf("chunk %d tokens = %d, want %d", i, ch.Tokens, counter.Count(ch.Text))
		}
		if ch.Tokens > maxTokens && !ch.Oversized {
			t.Errorf("chunk %d has %d tokens > %d without oversized flag", i, ch.Tokens, maxTokens)
		}
		if ch.ContentHash != fileid.ContentHash(ch.Text) {
			t.Errorf("chunk %d content hash mismatch", i)
		}
		if i > 0 && ch.OverlapChars > 0 {
			prefix := string([]rune(ch.Text)[:ch.OverlapChars])
			if !strings.HasSuffix(chunks[i-1].Text, prefix) {
				t.Errorf("chunk %d overlap %q is not a suffix of chunk %d", i, prefix, i-1)
			}
		}
		if ch.SectionPath == nil {
			t.Errorf("chunk %d section path is nil", i)
		}
	}
}

func sentences(prefix string, from, to int) string {
	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, "Держава забезпечує %s номер %d відповідно до закону.\n", prefix, i)
	}
	return b.String()
}

func TestChunker_threePageLaw(t *testing.T) {
	raw := "Розділ I. ЗАГАЛЬНІ ПОЛОЖЕННЯ\n\n" +
		"Стаття 1. Загальні положення\n" + sentences("право", 1, 6) + "1\n\f" +
		sentences("право", 7, 12) + "2\n\f" +
		"Стаття 2. Гарантії\n" + sentences("гарантію", 1, 12) + "3\n"
	text := clean.Clean(raw).Text

	c := NewChunker(tokens.WordCounter{}, 200, 0.15)
	if c.OverlapTokens() != 30 {
		t.Fatalf("overlap tokens = %d, want 30", c.OverlapTokens())
	}
	chunks := c.Chunk("law", text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	checkChunks(t, "law", text, chunks, 200)

	if want := []string{"Розділ I", "Стаття 1"}; !reflect.DeepEqual(chunks[0].SectionPath, want) {
		t.Errorf("chunk 0 path = %v, want %v", chunks[0].SectionPath, want)
	}
	if want := []string{"Розділ I", "Стаття 2"}; !reflect.DeepEqual(chunks[1].SectionPath, want) {
		t.Errorf("chunk 1 path = %v, want %v", chunks[1].SectionPath, want)
	}
	second := chunks[1]
	if second.OverlapTokens < 28 || second.OverlapTokens > 30 {
		t.Errorf("overlap tokens = %d, want about 30", second.OverlapTokens)
	}
	overlap := string([]rune(second.Text)[:second.OverlapChars])
	if !strings.HasSuffix(chunks[0].Text, overlap) {
		t.Errorf("second chunk does not start with the tail of the first: %q", overlap)
	}
	if !strings.Contains(string([]rune(second.Text)[second.OverlapChars:]), "Стаття 2. Гарантії") {
		t.Error("second chunk should hold article 2")
	}
}

func TestChunker_longDocumentInvariants(t *testing.T) {
	var b strings.Builder
	b.WriteString("ЗАКОН УКРАЇНИ\nПро тестування\n\n")
	b.WriteString("Розділ I\nЗАГАЛЬНІ ПОЛОЖЕННЯ\n\n")
	b.WriteString("Стаття 1. Визначення термінів\n")
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "%d) термін номер %d означає поняття, яке використовується в цьому Законі;\n", i, i)
	}
	b.WriteString("\nСтаття 2. Сфера дії\n")
	b.WriteString(sentences("сферу", 1, 20))
	b.WriteString("\nРОЗДІЛ II\n\nГлава 1\n\nСтаття 3. Прикінцеві положення\n")
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&b, "%d. Частина %d цієї статті набирає чинності з дня опублікування. Інші норми діють окремо.\n", i, i)
	}
	text := b.String()

	for _, size := range []int{25, 40, 80, 1000} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			chunks := NewChunker(tokens.WordCounter{}, size, 0.15).Chunk("doc", text)
			if len(chunks) == 0 {
				t.Fatal("no chunks")
			}
			checkChunks(t, "doc", text, chunks, size)
			if len(chunks[0].SectionPath) != 0 {
				t.Errorf("preamble path = %v, want empty", chunks[0].SectionPath)
			}
			last := chunks[len(chunks)-1].SectionPath
			if len(last) < 3 || last[0] != "Розділ II" || last[1] != "Глава 1" || last[2] != "Стаття 3" {
				t.Errorf("last path = %v", last)
			}
		})
	}
}

func TestChunker_pointsExtendPath(t *testing.T) {
	var b strings.Builder
	b.WriteString("Стаття 1. Визначення термінів\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&b, "%d) термін номер %d означає поняття цього Закону;\n", i, i)
	}
	chunks := NewChunker(tokens.WordCounter{}, 30, 0.1).Chunk("d", b.String())
	checkChunks(t, "d", b.String(), chunks, 30)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want the article split at its points", len(chunks))
	}
	if want := []string{"Стаття 1"}; !reflect.DeepEqual(chunks[0].SectionPath, want) {
		t.Errorf("chunk 0 path = %v", chunks[0].SectionPath)
	}
	for _, ch := range chunks[1:] {
		if len(ch.SectionPath) != 2 || !strings.HasPrefix(ch.SectionPath[1], "пункт ") {
			t.Errorf("chunk %d path = %v, want a point label", ch.ChunkIndex, ch.SectionPath)
		}
	}
}

func TestChunker_headingNesting(t *testing.T) {
	text := "Розділ I\n\nГлава 1\n\nСтаття 1. Текст один.\n\nГлава 2\n\nСтаття 2. Текст два.\n\nРОЗДІЛ II\n\nСтаття 3. Текст три."
	chunks := NewChunker(tokens.WordCounter{}, 200, 0).Chunk("d", text)
	checkChunks(t, "d", text, chunks, 200)
	want := [][]string{
		{"Розділ I", "Глава 1", "Стаття 1"},
		{"Розділ I", "Глава 2", "Стаття 2"},
		{"Розділ II", "Стаття 3"},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, ch := range chunks {
		if !reflect.DeepEqual(ch.SectionPath, want[i]) {
			t.Errorf("chunk %d path = %v, want %v", i, ch.SectionPath, want[i])
		}
		if ch.OverlapChars != 0 {
			t.Errorf("chunk %d overlap = %d with zero overlap configured", i, ch.OverlapChars)
		}
	}
}

func TestChunker_oversizedSentence(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("дуже ", 30)) + "."
	text := "Стаття 1. Короткий вступ.\n" + long
	chunks := NewChunker(tokens.WordCounter{}, 20, 0.15).Chunk("d", text)
	checkChunks(t, "d", text, chunks, 20)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	big := chunks[1]
	if !big.Oversized || big.Text != long || big.OverlapChars != 0 {
		t.Errorf("oversized chunk = %+v", big)
	}
	if big.Tokens != 31 {
		t.Errorf("tokens = %d, want 31", big.Tokens)
	}
}

func TestChunker_singleChunk(t *testing.T) {
	text := "Стаття 1. Цей Закон набирає чинності з дня його опублікування."
	chunks := NewChunker(tokens.WordCounter{}, 8000, 0.15).Chunk("d", text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != text || ch.CharStart != 0 || ch.CharEnd != len([]rune(text)) {
		t.Errorf("chunk = %+v", ch)
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(tokens.WordCounter{}, 5, 0.1)
	if chunks := c.Chunk("d", "   \n\t  "); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_deterministic(t *testing.T) {
	text := "Стаття 1. " + sentences("право", 1, 30)
	c := NewChunker(tokens.WordCounter{}, 50, 0.15)
	a, b := c.Chunk("d", text), c.Chunk("d", text)
	if Signature(a) != Signature(b) {
		t.Error("signature differs between identical runs")
	}
	changed := c.Chunk("d", text+"Новий рядок.")
	if Signature(changed) == Signature(a) {
		t.Error("signature should change with the text")
	}
}

func TestSplitSentences(t *testing.T) {
	text := "Перше речення. Друге речення; третє\nречення.\n\nЧетверте ст. 5 закону! П'яте"
	var got []string
	for _, s := range splitSentences(text, 0, len(text)) {
		got = append(got, text[s[0]:s[1]])
	}
	want := []string{
		"Перше речення. ",
		"Друге речення; третє\nречення.\n\n",
		"Четверте ст. ",
		"5 закону! ",
		"П'яте",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences = %q, want %q", got, want)
	}
}

func TestMatchHeading(t *testing.T) {
	tests := []struct {
		line  string
		label string
		level int
		ok    bool
	}{
		{"Розділ I. ЗАГАЛЬНІ ПОЛОЖЕННЯ", "Розділ I", 1, true},
		{"РОЗДІЛ IV", "Розділ IV", 1, true},
		{"Глава 3. Права", "Глава 3", 2, true},
		{"Стаття 12-1. Нова стаття", "Стаття 12-1", 3, true},
		{"Стаття 5", "Стаття 5", 3, true},
		{"Частина перша", "Частина перша", 4, true},
		{"Частина перша статті 5 викладена так", "", 0, false},
		{"Розділом визначено", "", 0, false},
		{"Статтею 3 встановлено", "", 0, false},
	}
	for _, tt := range tests {
		h, _, ok := matchHeading(tt.line)
		if ok != tt.ok || h.label != tt.label || h.level != tt.level {
			t.Errorf("matchHeading(%q) = %+v, %v", tt.line, h, ok)
		}
	}
}
