package engine

import (
	"errors"
	"fmt"
)

// RunError is a run-wide failure: the run could not proceed at all.
// Per-inbox failures are not RunErrors; they are reported in Summary.Failures.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeUnknownMode indicates a mode other than init, resume, sync or stats.
	ErrCodeUnknownMode RunErrorCode = "UNKNOWN_MODE"

	// ErrCodeListInboxes indicates the inbox listing itself failed.
	ErrCodeListInboxes RunErrorCode = "LIST_INBOXES_FAILED"

	// ErrCodeInboxNotFound indicates the inbox filter matched nothing.
	ErrCodeInboxNotFound RunErrorCode = "INBOX_NOT_FOUND"

	// ErrCodeStats indicates the stats snapshot could not be read.
	ErrCodeStats RunErrorCode = "STATS_FAILED"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsInboxNotFound returns true if the inbox filter matched no inbox.
// Uses errors.As to handle wrapped errors.
func IsInboxNotFound(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInboxNotFound
	}
	return false
}

// NewInboxNotFoundError creates a RunError for an unmatched inbox filter.
func NewInboxNotFoundError(filter string, available int) *RunError {
	return &RunError{
		Code:    ErrCodeInboxNotFound,
		Message: fmt.Sprintf("no inbox matches %q (%d available)", filter, available),
	}
}
