package engine

import (
	"errors"
	"fmt"
)

// Error represents a failure surfaced by a controller.
//
// Error kinds:
//   - Validation: local and pre-commit. Nothing was mutated and no I/O ran.
//   - Persistence: a commit or read failed. Any optimistic mutation was
//     rolled back before the error was returned. Retryable by the caller.
//   - CacheStale: soft. Logged when a view was served past its TTL and a
//     background refresh started; never returned to callers.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the controller operation: load, save, update or delete.
	Op string

	// SubjectID identifies the controller's subject.
	SubjectID string

	// EntityID identifies the affected entity, if any.
	EntityID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes controller errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates the entity or mutation was rejected locally.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodePersistence indicates the store failed a read or commit.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeCacheStale indicates a view was older than the TTL.
	ErrCodeCacheStale ErrorCode = "CACHE_STALE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s %s (subject=%s, id=%s)", e.Code, e.Op, msg, e.SubjectID, e.EntityID)
	}
	return fmt.Sprintf("%s: %s %s (subject=%s)", e.Code, e.Op, msg, e.SubjectID)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the operation may succeed.
func (e *Error) Retryable() bool {
	return e.Code == ErrCodePersistence
}

// IsValidationError returns true if the error is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsPersistenceError returns true if the error is a persistence error.
// Uses errors.As to handle wrapped errors.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsCacheStale returns true if the error marks a stale view.
func IsCacheStale(err error) bool {
	return hasCode(err, ErrCodeCacheStale)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func newValidationError(op, subjectID, entityID string, cause error) *Error {
	return &Error{
		Code:      ErrCodeValidation,
		Op:        op,
		SubjectID: subjectID,
		EntityID:  entityID,
		Message:   "rejected",
		Err:       cause,
	}
}

func newPersistenceError(op, subjectID, entityID string, cause error) *Error {
	msg := "commit failed, rolled back"
	if op == opLoad {
		msg = "fetch failed"
	}
	return &Error{
		Code:      ErrCodePersistence,
		Op:        op,
		SubjectID: subjectID,
		EntityID:  entityID,
		Message:   msg,
		Err:       cause,
	}
}
