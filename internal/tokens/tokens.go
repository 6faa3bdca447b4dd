// Package tokens counts tokens the way the embedding model sees them.
package tokens

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// WordsName selects the offline word/punctuation counter.
const WordsName = "words"

// Counter counts tokens in text. Implementations are safe for concurrent use.
type Counter interface {
	Count(text string) int
	Name() string
}

// New returns the counter for name: "words" or a tiktoken encoding such as cl100k_base.
func New(name string) (Counter, error) {
	if name == WordsName {
		return WordCounter{}, nil
	}
	return NewTiktokenCounter(name)
}

// TiktokenCounter counts BPE tokens with pkoukk/tiktoken-go.
type TiktokenCounter struct {
	name string
	mu   sync.RWMutex
	tke  *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the BPE ranks for encoding. The first call downloads
// them unless TIKTOKEN_CACHE_DIR already holds a copy.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		// Model names such as text-embedding-3-small resolve too.
		var modelErr error
		tke, modelErr = tiktoken.EncodingForModel(encoding)
		if modelErr != nil {
			return nil, fmt.Errorf("failed to load tokenizer %q (set TIKTOKEN_CACHE_DIR or use chunking.tokenizer: words offline): %w", encoding, err)
		}
	}
	return &TiktokenCounter{name: encoding, tke: tke}, nil
}

// Count returns the number of BPE tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tke.Encode(text, nil, nil))
}

// Name returns the encoding name.
func (c *TiktokenCounter) Name() string { return c.name }

// WordCounter counts each run of letters/digits as one token and every other
// non-space rune as its own token. Deterministic and additive across whitespace.
type WordCounter struct{}

// Count returns the number of word and punctuation tokens in text.
func (WordCounter) Count(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’':
			if !inWord {
				n++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			n++
			inWord = false
		}
	}
	return n
}

// Name returns "words".
func (WordCounter) Name() string { return WordsName }
