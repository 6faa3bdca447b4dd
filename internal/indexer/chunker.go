// Package indexer splits cleaned documents into chunks and runs the chunk and embed
// pipeline stages.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/pravo/internal/fileid"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/tokens"
)

// Chunker splits cleaned text into overlapping, structure-aware chunks sized in tokens.
type Chunker struct {
	counter       tokens.Counter
	maxTokens     int
	overlapTokens int
}

// NewChunker creates a chunker producing chunks of at most maxTokens tokens, each
// repeating up to floor(overlap*maxTokens) tokens of its predecessor.
func NewChunker(counter tokens.Counter, maxTokens int, overlap float64) *Chunker {
	if maxTokens < 1 {
		maxTokens = 1
	}
	ot := int(math.Floor(overlap * float64(maxTokens)))
	if ot < 0 {
		ot = 0
	}
	if ot >= maxTokens {
		ot = maxTokens - 1
	}
	return &Chunker{counter: counter, maxTokens: maxTokens, overlapTokens: ot}
}

// MaxTokens returns the chunk size limit.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// OverlapTokens returns the overlap budget.
func (c *Chunker) OverlapTokens() int { return c.overlapTokens }

// budget is the token room left for a chunk's own content.
func (c *Chunker) budget() int { return c.maxTokens - c.overlapTokens }

// piece is a contiguous byte range of the text that becomes one chunk's own content.
type piece struct {
	start, end int
	path       []string
	oversized  bool
}

// Chunk splits text into chunks in reading order. The pieces cover the text without
// gaps, so dropping each chunk's overlap prefix and concatenating gives text back.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var pieces []piece
	for _, seg := range splitStructure(text) {
		pieces = append(pieces, c.fit(text, seg)...)
	}
	return c.assemble(docID, text, pieces)
}

// fit returns seg as one piece, or packs its points and sentences into pieces that
// fit the content budget.
func (c *Chunker) fit(text string, seg segment) []piece {
	if c.counter.Count(text[seg.start:seg.end]) <= c.budget() {
		return []piece{{start: seg.start, end: seg.end, path: seg.path}}
	}
	var units []unit
	for _, part := range splitPoints(text, seg) {
		if n := c.counter.Count(text[part.start:part.end]); n <= c.budget() {
			units = append(units, unit{segment: part, tokens: n})
			continue
		}
		for _, s := range splitSentences(text, part.start, part.end) {
			units = append(units, unit{
				segment: segment{start: s[0], end: s[1], path: part.path},
				tokens:  c.counter.Count(text[s[0]:s[1]]),
			})
		}
	}
	return c.pack(units)
}

type unit struct {
	segment
	tokens int
}

// pack greedily joins consecutive units while their token sum fits the budget.
// Units are cut at whitespace, so the sum never undercounts the joined text.
// A unit that does not fit on its own becomes a piece by itself.
func (c *Chunker) pack(units []unit) []piece {
	var out []piece
	var cur piece
	curTokens := -1
	flush := func() {
		cur.oversized = curTokens > c.maxTokens
		out = append(out, cur)
	}
	for _, u := range units {
		if curTokens >= 0 && curTokens+u.tokens <= c.budget() {
			cur.end = u.end
			curTokens += u.tokens
			continue
		}
		if curTokens >= 0 {
			flush()
		}
		cur = piece{start: u.start, end: u.end, path: u.path}
		curTokens = u.tokens
	}
	if curTokens >= 0 {
		flush()
	}
	return out
}

func (c *Chunker) assemble(docID, text string, pieces []piece) []*models.Chunk {
	starts := make([]int, len(pieces))
	positions := make([]int, 0, 3*len(pieces))
	for i, p := range pieces {
		starts[i] = p.start
		if i > 0 {
			starts[i] = c.overlapStart(text, pieces[i-1], p)
		}
		positions = append(positions, starts[i], p.start, p.end)
	}
	runes := runeOffsets(text, positions)

	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, p := range pieces {
		body := text[starts[i]:p.end]
		path := p.path
		if path == nil {
			path = []string{}
		}
		ch := &models.Chunk{
			ID:           fileid.ChunkID(docID, i),
			DocumentID:   docID,
			Text:         body,
			SectionPath:  path,
			ChunkIndex:   i,
			CharStart:    runes[starts[i]],
			CharEnd:      runes[p.end],
			Tokens:       c.counter.Count(body),
			OverlapChars: runes[p.start] - runes[starts[i]],
			Oversized:    p.oversized,
			ContentHash:  fileid.ContentHash(body),
		}
		if starts[i] < p.start {
			ch.OverlapTokens = c.counter.Count(text[starts[i]:p.start])
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

// overlapStart returns where cur's chunk begins: the start of the longest
// word-aligned suffix of prev within the overlap budget, moved forward a word at a
// time while the whole chunk exceeds the maximum.
func (c *Chunker) overlapStart(text string, prev, cur piece) int {
	if c.overlapTokens == 0 || cur.oversized {
		return cur.start
	}
	words := wordStarts(text, prev.start, prev.end)
	k := sort.Search(len(words), func(k int) bool {
		return c.counter.Count(text[words[k]:prev.end]) <= c.overlapTokens
	})
	if k == len(words) {
		return cur.start
	}
	for ; k < len(words); k++ {
		if c.counter.Count(text[words[k]:cur.end]) <= c.maxTokens {
			return words[k]
		}
	}
	return cur.start
}

// wordStarts returns the byte offsets in [start, end) where a non-space rune follows
// whitespace or start.
func wordStarts(text string, start, end int) []int {
	var out []int
	prevSpace := true
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:end])
		space := unicode.IsSpace(r)
		if !space && prevSpace {
			out = append(out, i)
		}
		prevSpace = space
		i += size
	}
	return out
}

// runeOffsets maps each byte position to its rune offset in text with one pass.
func runeOffsets(text string, positions []int) map[int]int {
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	out := make(map[int]int, len(sorted))
	b, r := 0, 0
	for _, p := range sorted {
		if _, ok := out[p]; ok {
			continue
		}
		r += utf8.RuneCountInString(text[b:p])
		b = p
		out[p] = r
	}
	return out
}

// Signature fingerprints a chunk set. It changes whenever a chunk id or text changes,
// which tells the embed stage to replace the stored set instead of resuming it.
func Signature(chunks []*models.Chunk) string {
	h := sha256.New()
	for _, ch := range chunks {
		_, _ = io.WriteString(h, ch.ID)
		_, _ = h.Write([]byte{0})
		_, _ = io.WriteString(h, ch.ContentHash)
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
