package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents internal error codes for coordination operations
type ErrorCode int

const (
	// ErrCodeUnknown marks errors that did not originate in this package
	ErrCodeUnknown ErrorCode = -1

	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeNotOpen          ErrorCode = 1000
	ErrCodeAlreadyOpen      ErrorCode = 1001
	ErrCodeClosed           ErrorCode = 1002
	ErrCodeInvalidName      ErrorCode = 1003
	ErrCodeInvalidStatement ErrorCode = 1004
	ErrCodeInvalidTimeout   ErrorCode = 1005

	// Coordination errors
	ErrCodeWriteTimeout  ErrorCode = 2000
	ErrCodeForwardFailed ErrorCode = 2001

	// Collaborator passthrough
	ErrCodeEngine       ErrorCode = 3000
	ErrCodeStore        ErrorCode = 3001
	ErrCodeImportFailed ErrorCode = 3002
)

// CoordError represents a structured error with code and context
type CoordError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// NewCoordError creates a new CoordError
func NewCoordError(code ErrorCode, message string, cause error) *CoordError {
	return &CoordError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CoordError) WithDetail(key string, value interface{}) *CoordError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func NotOpen(name string) *CoordError {
	return NewCoordError(ErrCodeNotOpen, fmt.Sprintf("database '%s' is not open", name), nil).
		WithDetail("name", name)
}

func AlreadyOpen(name string) *CoordError {
	return NewCoordError(ErrCodeAlreadyOpen, fmt.Sprintf("database '%s' is already open", name), nil).
		WithDetail("name", name)
}

func Closed(op string) *CoordError {
	return NewCoordError(ErrCodeClosed, fmt.Sprintf("%s aborted: handle is closed", op), nil).
		WithDetail("operation", op)
}

func InvalidName(name, reason string) *CoordError {
	return NewCoordError(ErrCodeInvalidName, fmt.Sprintf("invalid database name '%s': %s", name, reason), nil).
		WithDetail("name", name).
		WithDetail("reason", reason)
}

func InvalidStatement(reason string) *CoordError {
	return NewCoordError(ErrCodeInvalidStatement, fmt.Sprintf("invalid statement: %s", reason), nil).
		WithDetail("reason", reason)
}

func InvalidTimeout(timeout time.Duration, reason string) *CoordError {
	return NewCoordError(ErrCodeInvalidTimeout, fmt.Sprintf("invalid timeout %v: %s", timeout, reason), nil).
		WithDetail("timeout", timeout.String()).
		WithDetail("reason", reason)
}

// WriteTimeout reports a forwarded write that received no acknowledgement
// within its configured timeout. The outcome on the leader is unknown, not
// necessarily failed; callers may retry idempotently or requery state.
func WriteTimeout(requestID uint64, timeout time.Duration) *CoordError {
	return NewCoordError(ErrCodeWriteTimeout, fmt.Sprintf("write request %d timed out after %v", requestID, timeout), nil).
		WithDetail("request_id", requestID).
		WithDetail("timeout", timeout.String())
}

func ForwardFailed(requestID uint64, cause error) *CoordError {
	return NewCoordError(ErrCodeForwardFailed, fmt.Sprintf("not leader and forwarding of request %d failed", requestID), cause).
		WithDetail("request_id", requestID)
}

func EngineError(cause error) *CoordError {
	return NewCoordError(ErrCodeEngine, "engine execution failed", cause)
}

// RemoteEngineError wraps an engine failure reported by the leader over the
// channel, where only the message survives transport.
func RemoteEngineError(message string) *CoordError {
	return NewCoordError(ErrCodeEngine, "engine execution failed", stderrors.New(message))
}

func StoreError(cause error) *CoordError {
	return NewCoordError(ErrCodeStore, "persistent store operation failed", cause)
}

func ImportFailed(cause error) *CoordError {
	return NewCoordError(ErrCodeImportFailed, "snapshot import failed", cause)
}

// IsCoordError checks if an error is a CoordError
func IsCoordError(err error) bool {
	var ce *CoordError
	return stderrors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var ce *CoordError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeUnknown
}

// HasCode reports whether err carries the given coordination error code
func HasCode(err error, code ErrorCode) bool {
	var ce *CoordError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
