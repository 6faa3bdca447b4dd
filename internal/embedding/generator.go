package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/models"
)

// Item is one text to embed, identified by its chunk id.
type Item struct {
	ID   string
	Text string
}

// BatchResult holds the vectors of the items that were embedded and the
// reason for each item the provider rejected.
type BatchResult struct {
	Vectors map[string][]float32
	Failed  map[string]error
}

// Generator batches items through an Embedder under a shared RateLimiter and
// a RetryPolicy.
type Generator struct {
	embedder  Embedder
	limiter   *RateLimiter
	policy    RetryPolicy
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewGenerator returns a generator. A nil limiter means no rate limit.
func NewGenerator(e Embedder, limiter *RateLimiter, policy RetryPolicy, opts ...Option) *Generator {
	o := buildOptions(opts)
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	if o.batchSize <= 0 {
		o.batchSize = 100
	}
	return &Generator{
		embedder:  e,
		limiter:   limiter,
		policy:    policy,
		batchSize: o.batchSize,
		timeout:   o.timeout,
		logger:    o.logger,
	}
}

// Embedder returns the underlying embedder.
func (g *Generator) Embedder() Embedder { return g.embedder }

// Embed embeds items in batches. Items the provider rejects are isolated by
// bisecting their batch and reported in Failed; the others still succeed.
// Exhausted retries or a fatal provider error abort with a *models.StageError;
// vectors embedded before the abort are still returned.
func (g *Generator) Embed(ctx context.Context, items []Item) (BatchResult, error) {
	res := BatchResult{
		Vectors: make(map[string][]float32, len(items)),
		Failed:  make(map[string]error),
	}
	for start := 0; start < len(items); start += g.batchSize {
		end := start + g.batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := g.embedBatch(ctx, items[start:end], &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (g *Generator) embedBatch(ctx context.Context, items []Item, res *BatchResult) error {
	vecs, out := g.call(ctx, items)
	switch out.Kind {
	case OutcomeSuccess:
		for i, it := range items {
			res.Vectors[it.ID] = vecs[i]
		}
		return nil
	case OutcomePermanent:
		if len(items) == 1 {
			g.logger.Warn("embedding rejected",
				zap.String("chunk_id", items[0].ID),
				zap.Error(out.Err))
			res.Failed[items[0].ID] = out.Err
			return nil
		}
		mid := len(items) / 2
		if err := g.embedBatch(ctx, items[:mid], res); err != nil {
			return err
		}
		return g.embedBatch(ctx, items[mid:], res)
	case OutcomeTransient:
		return &models.StageError{
			Stage: "embed",
			Err:   fmt.Errorf("embedding provider still failing after %d attempts, rerun to resume: %w", out.Attempts, out.Err),
		}
	}
	if errors.Is(out.Err, context.Canceled) {
		return &models.StageError{Stage: "embed", Err: fmt.Errorf("interrupted, rerun to resume: %w", out.Err)}
	}
	return &models.StageError{Stage: "embed", Err: out.Err}
}

func (g *Generator) call(ctx context.Context, items []Item) ([][]float32, Outcome) {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	var vecs [][]float32
	out := g.policy.Do(ctx, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		v, err := g.embedder.EmbedBatch(callCtx, texts)
		if err != nil {
			var te *TransientError
			if errors.As(err, &te) && te.RateLimited() {
				g.limiter.Penalize(te.RetryAfter)
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return &TransientError{Message: fmt.Sprintf("call exceeded %s", g.timeout), Err: err}
			}
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts: %w", len(v), len(texts), models.ErrFatal)
		}
		vecs = v
		return nil
	})
	if out.Kind != OutcomeSuccess {
		return nil, out
	}
	return vecs, out
}
