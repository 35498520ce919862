// Package errors provides typed error handling for the Conductor orchestration core.
// Every failure crossing the orchestration boundary is classified into an ErrorCode
// and returned as data in a response envelope, never raised further.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Conductor errors for routing and pipeline policy.
type ErrorCode string

const (
	// CodeInvalidRequest indicates malformed caller input. Structural,
	// fatal inside a pipeline.
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// CodeUnknownCapability indicates no registered or discoverable backend
	// for the requested type. Structural, fatal inside a pipeline.
	CodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"

	// CodeDuplicateCapability indicates a name collision at registration time.
	CodeDuplicateCapability ErrorCode = "DUPLICATE_CAPABILITY"

	// CodeTimeout indicates a backend exceeded its bound. Soft.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCapabilityError indicates a backend reported a domain-level failure. Soft.
	CodeCapabilityError ErrorCode = "CAPABILITY_ERROR"

	// CodeInitializationFailed indicates a capability failed to initialize.
	// Captured once and replayed to every resolver until an explicit retry.
	CodeInitializationFailed ErrorCode = "INITIALIZATION_FAILED"

	// CodeCancelled indicates the caller cancelled the operation.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a typed error with classification and optional context.
// It implements the error interface and supports errors.As traversal.
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Cause       string         `json:"cause,omitempty"`
		Recoverable bool           `json:"recoverable"`
		Context     map[string]any `json:"context,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Cause:       causeString(e.Err),
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

// New creates a typed error with the given code, message, and cause.
// Recoverable defaults to the code's soft/fatal classification.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Recoverable: isSoft(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides the default soft/fatal classification.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert an error to a typed *Error, searching the
// wrap chain. Unknown errors are wrapped as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the classification of err, searching the wrap chain,
// or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// isSoft reports whether a code is recoverable by a caller or pipeline.
// Structural codes abort a multi-step run; the rest allow continuation.
func isSoft(code ErrorCode) bool {
	switch code {
	case CodeTimeout, CodeCapabilityError:
		return true
	default:
		return false
	}
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
