package core

import (
	"time"

	"github.com/avollmer/conductor/pkg/errors"
)

// Request is a typed unit of work. Type identifies the target capability;
// Data carries the payload. Immutable once dispatched.
type Request struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ErrorInfo is the wire form of a classified failure inside a Response.
type ErrorInfo struct {
	Kind        errors.ErrorCode `json:"kind"`
	Message     string           `json:"message"`
	Recoverable bool             `json:"recoverable"`
}

// Response is the uniform envelope produced by the router. Exactly one of
// Data and Error is set, matching Success. Capability always echoes the
// resolved capability name, never the raw request type.
type Response struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
	Capability string         `json:"capability"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// Succeed builds a success envelope.
func Succeed(capability string, data map[string]any, elapsed time.Duration) Response {
	return Response{
		Success:    true,
		Data:       data,
		Capability: capability,
		Elapsed:    elapsed,
	}
}

// Fail builds a failure envelope from a classified error.
func Fail(capability string, err error, elapsed time.Duration) Response {
	ce := errors.As(err)
	return Response{
		Success:    false,
		Capability: capability,
		Elapsed:    elapsed,
		Error: &ErrorInfo{
			Kind:        ce.Code,
			Message:     ce.Message,
			Recoverable: ce.Recoverable,
		},
	}
}

// Soft reports whether the response carries a recoverable failure that a
// multi-step run may continue past.
func (r Response) Soft() bool {
	return !r.Success && r.Error != nil && r.Error.Recoverable
}

// ErrorKind returns the failure classification, or empty for success.
func (r Response) ErrorKind() errors.ErrorCode {
	if r.Error == nil {
		return ""
	}
	return r.Error.Kind
}
