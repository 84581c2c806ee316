package agent

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable machine-readable failure code. Codes appear in
// tool execution records, error events, and API responses; they never
// change meaning between releases.
type ErrorCode string

const (
	// CodeValidationError means tool arguments failed schema validation
	// or referenced an image that does not exist.
	CodeValidationError ErrorCode = "validation_error"

	// CodeProviderError means the model provider failed after retries.
	CodeProviderError ErrorCode = "provider_error"

	// CodeToolNotFound means the model requested an unregistered tool.
	CodeToolNotFound ErrorCode = "tool_not_found"

	// CodeToolTimeout means a tool handler exceeded its deadline.
	CodeToolTimeout ErrorCode = "tool_timeout"

	// CodeToolHandlerError means a tool handler returned an error or
	// panicked.
	CodeToolHandlerError ErrorCode = "tool_handler_error"

	// CodeInsufficientCredits means the user cannot cover a tool's
	// cost. Ends the session.
	CodeInsufficientCredits ErrorCode = "insufficient_credits"

	// CodeSessionBusy means a turn is already running on the session.
	CodeSessionBusy ErrorCode = "session_busy"

	// CodeStepLimitExceeded means the loop hit the session's step
	// budget without a final answer.
	CodeStepLimitExceeded ErrorCode = "step_limit_exceeded"

	// CodeSessionNotFound means the session ID is unknown.
	CodeSessionNotFound ErrorCode = "session_not_found"

	// CodeCancelled means the caller cancelled the turn.
	CodeCancelled ErrorCode = "cancelled"
)

// SessionFatal reports whether a failure with this code ends the whole
// session rather than just the current tool call.
func (c ErrorCode) SessionFatal() bool {
	switch c {
	case CodeInsufficientCredits, CodeProviderError, CodeStepLimitExceeded, CodeCancelled:
		return true
	default:
		return false
	}
}

// Error is a structured agent failure carrying its taxonomy code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error around a cause.
func WrapError(code ErrorCode, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: cause.Error(), Cause: cause}
}

// CodeOf extracts the taxonomy code from an error chain, falling back
// to the given default for unclassified errors.
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	return fallback
}
