package types

import "fmt"

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Allocation error codes
const (
	ErrInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrInsufficientTime    ErrorCode = "INSUFFICIENT_TIME"
	ErrAllocationNotFound  ErrorCode = "ALLOCATION_NOT_FOUND"
	ErrPersistenceFailure  ErrorCode = "PERSISTENCE_FAILURE"
)

// Execution error codes
const (
	ErrExecution       ErrorCode = "EXECUTION_ERROR"
	ErrUnknownStepType ErrorCode = "UNKNOWN_STEP_TYPE"
	ErrTemplateResolve ErrorCode = "TEMPLATE_RESOLVE"
)

// Event pipeline error codes
const (
	ErrEventBlocked   ErrorCode = "EVENT_BLOCKED"
	ErrPublishDropped ErrorCode = "PUBLISH_DROPPED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Type      string    `json:"type,omitempty"`
	Message   string    `json:"message"`
	Tier      string    `json:"tier,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewExecutionError creates the uniform wrapper for step-execution failures.
// The caller receives it inside the execution result rather than as a
// returned error; the tier tags which layer of the stack produced it.
func NewExecutionError(tier, message string) *Error {
	return &Error{
		Code:    ErrExecution,
		Type:    "StepExecutionError",
		Message: message,
		Tier:    tier,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithTier tags the error with the originating tier.
func (e *Error) WithTier(tier string) *Error {
	e.Tier = tier
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// ErrString normalizes any recovered value to a message string, whether it
// is an error instance or an arbitrary object.
func ErrString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case error:
		return t.Error()
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
