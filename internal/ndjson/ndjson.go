// Package ndjson reads and writes newline-delimited JSON record streams,
// the interchange format between pipeline stages.
package ndjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends JSON records, one per line. Safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     *bufio.Writer
	c     io.Closer
	count int
}

// NewWriter wraps w. If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer) *Writer {
	c, _ := w.(io.Closer)
	return &Writer{w: bufio.NewWriterSize(w, 1<<20), c: c}
}

// Create creates (truncating) the file at path, making parent directories.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return NewWriter(f), nil
}

// Write encodes v as one line.
func (w *Writer) Write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// WriteAll encodes records as consecutive lines; no other record is
// interleaved between them.
func (w *Writer) WriteAll(records ...interface{}) error {
	var buf bytes.Buffer
	for _, v := range records {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return err
	}
	w.count += len(records)
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Close flushes and closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LineError reports a malformed line. Readers skip it and continue.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Each decodes every line of r into a fresh T and calls fn with it.
// Blank lines are ignored. Malformed lines are passed to onBad (when non-nil)
// and skipped. An error returned by fn stops the iteration and is returned.
func Each[T any](ctx context.Context, r io.Reader, fn func(line int, rec *T) error, onBad func(*LineError)) error {
	br := bufio.NewReaderSize(r, 1<<20)
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, readErr := br.ReadBytes('\n')
		if len(data) > 0 {
			line++
			data = bytes.TrimSpace(data)
			if len(data) > 0 {
				rec := new(T)
				if err := json.Unmarshal(data, rec); err != nil {
					if onBad != nil {
						onBad(&LineError{Line: line, Err: err})
					}
				} else if err := fn(line, rec); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// EachFile is Each over the file at path.
func EachFile[T any](ctx context.Context, path string, fn func(line int, rec *T) error, onBad func(*LineError)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return Each(ctx, f, fn, onBad)
}
