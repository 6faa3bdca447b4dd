package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hyperjump/pravo/internal/models"
)

func TestRetryPolicy_Do(t *testing.T) {
	transient := &TransientError{Status: 503, Message: "unavailable"}
	tests := []struct {
		name     string
		failures []error
		attempts int
		kind     OutcomeKind
	}{
		{"success first try", nil, 1, OutcomeSuccess},
		{"success after transient", []error{transient, transient}, 3, OutcomeSuccess},
		{"deadline counts as transient", []error{context.DeadlineExceeded}, 2, OutcomeSuccess},
		{"exhausted", []error{transient, transient, transient, transient}, 3, OutcomeTransient},
		{"permanent is not retried", []error{&PermanentError{Status: 400}}, 1, OutcomePermanent},
		{"fatal is not retried", []error{fmt.Errorf("bad key: %w", models.ErrFatal)}, 1, OutcomeFatal},
		{"unclassified is fatal", []error{errors.New("weird")}, 1, OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Jitter: time.Millisecond}
			calls := 0
			out := p.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			assert.Equal(t, tt.kind, out.Kind, out.Kind.String())
			assert.Equal(t, tt.attempts, out.Attempts)
			assert.Equal(t, tt.attempts, calls)
			if tt.kind == OutcomeSuccess {
				assert.NoError(t, out.Err)
			} else {
				assert.Error(t, out.Err)
			}
		})
	}
}

func TestRetryPolicy_honoursRetryAfter(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	calls := 0
	start := time.Now()
	out := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &TransientError{Status: 429, RetryAfter: 50 * time.Millisecond}
		}
		return nil
	})
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRetryPolicy_cancelDuringBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	out := p.Do(ctx, func(context.Context) error {
		cancel()
		return &TransientError{Message: "flaky"}
	})
	assert.Equal(t, OutcomeFatal, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, out.Attempts)
}
