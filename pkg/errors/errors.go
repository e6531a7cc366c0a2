// Package errors provides structured error types for packmule.
//
// Error codes are machine-readable and grouped by category:
//   - INVALID_*: input validation failures (fatal at the orchestrator boundary)
//   - NOT_FOUND, *_NOT_FOUND: resource not found
//   - NETWORK_ERROR, TIMEOUT, RATE_LIMITED: registry communication errors
//   - UNAUTHORIZED: registry authentication failures
//   - IO_*: local filesystem errors
//   - INTERNAL_ERROR: internal failures
//
// Usage:
//
//	err := errors.New(errors.ErrCodeInvalidManifest, "missing dependencies field in %s", path)
//	if errors.Is(err, errors.ErrCodeInvalidManifest) {
//	    // handle bad input
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors. These are fatal to the current invocation.
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidSpec     Code = "INVALID_SPEC"
	ErrCodeInvalidManifest Code = "INVALID_MANIFEST"
	ErrCodeInvalidConfig   Code = "INVALID_CONFIG"
	ErrCodeInvalidArchive  Code = "INVALID_ARCHIVE"

	// Resource not found errors.
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodePackageNotFound Code = "PACKAGE_NOT_FOUND"
	ErrCodeVersionNotFound Code = "VERSION_NOT_FOUND"
	ErrCodeFileNotFound    Code = "FILE_NOT_FOUND"

	// Network errors.
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Authentication errors.
	ErrCodeUnauthorized Code = "UNAUTHORIZED"

	// Filesystem errors.
	ErrCodeIOWrite Code = "IO_WRITE"

	// Internal errors.
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Fatal reports whether err is an input validation error that should abort
// the current invocation instead of degrading to a partial result.
func Fatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidSpec, ErrCodeInvalidManifest, ErrCodeInvalidConfig, ErrCodeInvalidArchive:
		return true
	}
	return false
}
