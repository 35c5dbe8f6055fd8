package gdpubsub

import (
	"errors"
	"fmt"
)

// Error represents a pub/sub engine error with categorization.
// Callers branch on Code; the CLI and services never string-match messages.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for pub/sub operations.
const (
	// ErrCodeNotFound indicates an unknown topic, sub_key or endpoint.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeStaleOwner indicates a delivery request reached a process that
	// no longer owns the sub_key's delivery task.
	ErrCodeStaleOwner = "STALE_OWNER"

	// ErrCodeDeadlock indicates a store-reported lock conflict.
	// This code never escapes the store adapters - the retry wrapper
	// consumes it internally.
	ErrCodeDeadlock = "DEADLOCK"

	// ErrCodeValidation indicates validation failed.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates a store operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeExhausted indicates a message exceeded its maximum delivery
	// count and was dead-lettered.
	ErrCodeExhausted = "EXHAUSTED"
)

// Common errors.
var (
	// ErrNotFound is returned when a topic, subscription or owner lookup
	// comes back empty. Callers treat a missing owner as "subscriber offline".
	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "not found",
	}

	// ErrStaleOwner is returned when the caller's server id does not match
	// the registered owner of a sub_key. Stale-owner calls fail closed.
	ErrStaleOwner = &Error{
		Code:    ErrCodeStaleOwner,
		Message: "sub_key is owned by another server",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound checks if an error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var psErr *Error
	if errors.As(err, &psErr) {
		return psErr.Code == ErrCodeNotFound
	}
	return errors.Is(err, ErrNotFound)
}

// IsStaleOwner checks if an error carries the STALE_OWNER code.
func IsStaleOwner(err error) bool {
	var psErr *Error
	if errors.As(err, &psErr) {
		return psErr.Code == ErrCodeStaleOwner
	}
	return errors.Is(err, ErrStaleOwner)
}
