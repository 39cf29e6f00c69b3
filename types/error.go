package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the session layer.
type ErrorCode string

// Transport error codes
const (
	ErrTransport ErrorCode = "TRANSPORT"
	ErrTimeout   ErrorCode = "TIMEOUT"
)

// Protocol error codes
const (
	ErrMalformedMessage  ErrorCode = "MALFORMED_MESSAGE"
	ErrProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	ErrSessionClosed     ErrorCode = "SESSION_CLOSED"
)

// Context error codes
const (
	ErrContextGeneration ErrorCode = "CONTEXT_GENERATION"
	ErrInvalidConfig     ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Operation  string    `json:"operation,omitempty"`
	Cause      error     `json:"-"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithOperation sets the transport operation (lsp, eval) the error belongs to.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
