package models

import (
	"context"
	"errors"
)

// Error classes of the pipeline. Wrap one of these (fmt.Errorf("...: %w", ErrX))
// so stages can decide between retrying, skipping and aborting.
var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits, contention.
	ErrTransient = errors.New("transient failure")
	// ErrData marks a bad input item that is recorded and skipped.
	ErrData = errors.New("bad data")
	// ErrFatal marks a failure that aborts the current stage run.
	ErrFatal = errors.New("fatal failure")
	// ErrNotFound is returned by lookups of missing documents or chunks.
	ErrNotFound = errors.New("not found")
)

// ErrorClass is the outcome class of an error.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassData
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassData:
		return "data"
	default:
		return "fatal"
	}
}

// Classify maps err onto the error taxonomy. Deadline expiry counts as transient;
// cancellation and unclassified errors are fatal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrFatal):
		return ClassFatal
	case errors.Is(err, ErrData):
		return ClassData
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassFatal
}

// StageError aborts a stage with an actionable message.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFatal) match any StageError.
func (e *StageError) Is(target error) bool { return target == ErrFatal }
