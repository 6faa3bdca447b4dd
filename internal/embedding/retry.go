package embedding

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
)

// OutcomeKind classifies how a retried operation ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the operation eventually succeeded.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTransient means every attempt failed transiently.
	OutcomeTransient
	// OutcomePermanent means the input was rejected; it was not retried.
	OutcomePermanent
	// OutcomeFatal means a non-retryable failure or cancellation.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "fatal"
	}
}

// Outcome is the result of RetryPolicy.Do.
type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Attempts int
}

// RetryPolicy retries transient failures with capped, jittered exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// PolicyFromConfig builds the policy from the embedding settings.
func PolicyFromConfig(cfg config.EmbeddingConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetries + 1,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs op until it succeeds, fails non-transiently or exhausts the
// attempts. A Retry-After hint on a transient error stretches the next delay.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) Outcome {
	var (
		attempts int
		last     error
		hint     time.Duration
	)
	base := p.backoff()
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := base.Next()
		if stop {
			return 0, true
		}
		if hint > next {
			next = hint
		}
		hint = 0
		return next, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() == nil && models.Classify(err) == models.ClassTransient {
			hint = RetryAfter(err)
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess, Attempts: attempts}
	case ctx.Err() != nil:
		return Outcome{Kind: OutcomeFatal, Err: ctx.Err(), Attempts: attempts}
	}
	if last == nil {
		last = err
	}
	switch models.Classify(last) {
	case models.ClassTransient:
		return Outcome{Kind: OutcomeTransient, Err: last, Attempts: attempts}
	case models.ClassData:
		return Outcome{Kind: OutcomePermanent, Err: last, Attempts: attempts}
	}
	return Outcome{Kind: OutcomeFatal, Err: last, Attempts: attempts}
}
