package engine

import (
	"errors"
	"fmt"
)

// SyncError is the engine's structured error. Failures inside a single
// batch or pull step are caught and aggregated; only the outermost entry
// points surface a SyncError, carrying the first underlying error as
// context.
type SyncError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Op names the operation that failed ("push events", "pull", ...).
	Op string

	// UserID identifies the affected user, when known.
	UserID string

	// Err is the first underlying error.
	Err error
}

// ErrorCode categorizes sync failures.
type ErrorCode string

const (
	// ErrCodeNotAuthenticated means no stable user id exists. Public entry
	// points treat this as "skip, not error"; the code exists for internal
	// paths that need to distinguish it.
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"

	// ErrCodeFetchFailed is a local-store read failure.
	ErrCodeFetchFailed ErrorCode = "FETCH_FAILED"

	// ErrCodeWriteFailed is a remote write or transaction failure.
	ErrCodeWriteFailed ErrorCode = "WRITE_FAILED"

	// ErrCodeInvalidData is a malformed date or id.
	ErrCodeInvalidData ErrorCode = "INVALID_DATA"

	// ErrCodePartialBatchFailure means one or more batches in a push failed
	// while others succeeded.
	ErrCodePartialBatchFailure ErrorCode = "PARTIAL_BATCH_FAILURE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Op)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func newSyncError(code ErrorCode, op, userID string, err error) *SyncError {
	return &SyncError{Code: code, Op: op, UserID: userID, Err: err}
}

// CodeOf returns the ErrorCode of err, or "" if err is not a SyncError.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
