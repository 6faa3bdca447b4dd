// Package embedding turns chunk and query text into vectors through a
// rate-limited, retrying gateway to an embedding provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
)

// Embedder produces vector embeddings for text. Implementations return one
// vector per input text, in input order, and never normalize.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// Embed embeds a single text with e.
func Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text: %w", len(vecs), models.ErrFatal)
	}
	return vecs[0], nil
}

// TransientError is a provider failure worth retrying: rate limiting,
// timeouts, server errors. RetryAfter carries the provider's hint, if any.
type TransientError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("embedding provider: status %d: %s", e.Status, msg)
	}
	return "embedding provider: " + msg
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == models.ErrTransient }

// RateLimited reports whether the provider rejected the request for exceeding its rate limit.
func (e *TransientError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// PermanentError is the provider rejecting the input itself. Retrying the same
// input cannot succeed.
type PermanentError struct {
	Status  int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("embedding provider rejected input: status %d: %s", e.Status, e.Message)
}

func (e *PermanentError) Is(target error) bool { return target == models.ErrData }

// RetryAfter returns the retry hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// parseRetryAfter reads a Retry-After header value: delay seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(cfg, WithLogger(logger))
	case config.ProviderMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q: %w", cfg.Provider, models.ErrFatal)
}

// Option configures an embedder or generator.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	batchSize int
	timeout   time.Duration
}

// WithLogger sets the logger. A nil logger keeps the component silent.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBatchSize caps the number of texts per provider request.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithTimeout sets the per-call timeout of provider requests.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{batchSize: 100, timeout: 60 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
