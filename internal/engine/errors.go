package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/ir"
)

// ApplyError reports an event the engine refused to apply.
//
// The event is discarded from staging and nothing is written. Callers
// decide whether to retry later (for example after fetching more history
// from a peer) or to surface the rejection to an operator.
type ApplyError struct {
	// Code identifies the rejection category.
	Code ApplyErrorCode

	// Session identifies the sync session that delivered the event.
	Session string

	Entity ir.EntityID
	Event  ir.EventID

	// Comparison is set for ErrCodeIndeterminate.
	Comparison *causal.Comparison

	// Err is the underlying cause, if any.
	Err error
}

// ApplyErrorCode categorizes apply rejections.
type ApplyErrorCode string

const (
	// ErrCodeInvalidEvent indicates the event id does not match its contents.
	ErrCodeInvalidEvent ApplyErrorCode = "INVALID_EVENT"

	// ErrCodeMissingPrecursor indicates a precursor is neither stored nor
	// part of the same batch.
	ErrCodeMissingPrecursor ApplyErrorCode = "MISSING_PRECURSOR"

	// ErrCodeIndeterminate indicates the comparison against the current head
	// could not reach a verdict.
	ErrCodeIndeterminate ApplyErrorCode = "INDETERMINATE"
)

// Error implements the error interface.
func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("%s: event %s for entity %s", e.Code, e.Event.Short(), e.Entity)
	if e.Session != "" {
		msg += fmt.Sprintf(" (session=%s)", e.Session)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// IsApplyError reports whether err is an *ApplyError.
func IsApplyError(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae)
}

// IsIndeterminate reports whether err is an *ApplyError raised because the
// comparison against the head was Indeterminate.
func IsIndeterminate(err error) bool {
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae.Code == ErrCodeIndeterminate
	}
	return false
}
