package models

import (
	"sort"
	"sync"
	"time"
)

// Summary is the end-of-run report of a pipeline stage.
type Summary struct {
	Stage      string            `json:"stage"`
	RunID      string            `json:"run_id"`
	Succeeded  int               `json:"succeeded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Unchanged  int               `json:"unchanged"`
	SkippedIDs []string          `json:"skipped_ids,omitempty"`
	FailedIDs  []string          `json:"failed_ids,omitempty"`
	Reasons    map[string]string `json:"reasons,omitempty"`
	Elapsed    time.Duration     `json:"elapsed_ns"`
	Aborted    string            `json:"aborted,omitempty"`
}

// Tally accumulates a Summary from concurrent workers.
type Tally struct {
	mu      sync.Mutex
	summary Summary
	started time.Time
}

// NewTally starts a tally for stage.
func NewTally(stage, runID string) *Tally {
	return &Tally{
		summary: Summary{Stage: stage, RunID: runID, Reasons: make(map[string]string)},
		started: time.Now(),
	}
}

// Succeed counts n successful items.
func (t *Tally) Succeed(n int) {
	t.mu.Lock()
	t.summary.Succeeded += n
	t.mu.Unlock()
}

// Keep counts n items left as they were because an earlier run already
// processed them.
func (t *Tally) Keep(n int) {
	t.mu.Lock()
	t.summary.Unchanged += n
	t.mu.Unlock()
}

// Skip records an item skipped as bad data.
func (t *Tally) Skip(id, reason string) {
	t.mu.Lock()
	t.summary.Skipped++
	t.summary.SkippedIDs = append(t.summary.SkippedIDs, id)
	if reason != "" {
		t.summary.Reasons[id] = reason
	}
	t.mu.Unlock()
}

// Fail records an item whose retries were exhausted.
func (t *Tally) Fail(id, reason string) {
	t.mu.Lock()
	t.summary.Failed++
	t.summary.FailedIDs = append(t.summary.FailedIDs, id)
	if reason != "" {
		t.summary.Reasons[id] = reason
	}
	t.mu.Unlock()
}

// Abort records the fatal error that stopped the run.
func (t *Tally) Abort(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.summary.Aborted = err.Error()
	t.mu.Unlock()
}

// Summary returns a snapshot with sorted id lists.
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.summary
	s.SkippedIDs = append([]string(nil), s.SkippedIDs...)
	s.FailedIDs = append([]string(nil), s.FailedIDs...)
	sort.Strings(s.SkippedIDs)
	sort.Strings(s.FailedIDs)
	s.Reasons = make(map[string]string, len(t.summary.Reasons))
	for k, v := range t.summary.Reasons {
		s.Reasons[k] = v
	}
	s.Elapsed = time.Since(t.started)
	return s
}
