package causal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/ir"
)

// ErrorCode categorizes why a comparison could not be decided.
type ErrorCode string

const (
	// ErrCodeRetrievalFailure indicates an event could not be obtained from
	// any available source, or a source returned something unusable.
	ErrCodeRetrievalFailure ErrorCode = "RETRIEVAL_FAILURE"

	// ErrCodeBudgetExhausted indicates the traversal ran past the maximum
	// escalated budget without reaching a verdict.
	ErrCodeBudgetExhausted ErrorCode = "BUDGET_EXHAUSTED"

	// ErrCodeMalformedClock indicates a clock member was an ancestor of
	// another member. Recovered locally by pruning; never returned as an error.
	ErrCodeMalformedClock ErrorCode = "MALFORMED_CLOCK"
)

// RetrievalError reports events that could not be obtained.
//
// Exactly one of the cause fields is populated:
//   - Missing: ids the retriever definitively reported as not found
//   - Corrupt: ids whose returned event failed verification
//   - Err: the retriever itself failed
type RetrievalError struct {
	Entity  ir.EntityID
	Missing []ir.EventID
	Corrupt []ir.EventID
	Err     error
}

// Code returns ErrCodeRetrievalFailure.
func (e *RetrievalError) Code() ErrorCode {
	return ErrCodeRetrievalFailure
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s: %d event(s) not found for entity %s: %s",
			e.Code(), len(e.Missing), e.Entity, shortIDs(e.Missing))
	case len(e.Corrupt) > 0:
		return fmt.Sprintf("%s: %d event(s) failed verification for entity %s: %s",
			e.Code(), len(e.Corrupt), e.Entity, shortIDs(e.Corrupt))
	default:
		return fmt.Sprintf("%s: entity %s: %v", e.Code(), e.Entity, e.Err)
	}
}

// Unwrap returns the underlying retriever error, if any.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// BudgetExhaustedError is returned when a traversal needs more steps than
// its budget allows.
type BudgetExhaustedError struct {
	Steps int // Steps spent when the limit was hit
	Limit int // Limit in force at that point
}

// Code returns ErrCodeBudgetExhausted.
func (e *BudgetExhaustedError) Code() ErrorCode {
	return ErrCodeBudgetExhausted
}

// Error implements the error interface.
func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("%s: traversal used %d of %d steps without a verdict", e.Code(), e.Steps, e.Limit)
}

// IsRetrievalFailure reports whether err is, or wraps, a RetrievalError.
func IsRetrievalFailure(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// IsBudgetExhausted reports whether err is, or wraps, a BudgetExhaustedError.
func IsBudgetExhausted(err error) bool {
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}

func shortIDs(ids []ir.EventID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.Short()
	}
	return strings.Join(parts, ",")
}
