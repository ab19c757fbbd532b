package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shape surfaced by balance components.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrPermission     ErrorType = "permission_error"
	ErrUnavailable    ErrorType = "unavailable_error"
	ErrAPI            ErrorType = "api_error"
	ErrOracle         ErrorType = "oracle_error"
)

// NewInvalidRequestError creates an invalid request error. param names the
// offending field or argument and may be empty.
func NewInvalidRequestError(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewPermissionError creates a permission error (microphone or location
// access denied, and similar).
func NewPermissionError(message string) *Error {
	return &Error{Type: ErrPermission, Message: message}
}

// NewUnavailableError creates an error for a device or stream that could not
// be acquired.
func NewUnavailableError(message string) *Error {
	return &Error{Type: ErrUnavailable, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewOracleError wraps an error reported by the AI oracle backend.
func NewOracleError(backend string, underlying error) *Error {
	return &Error{
		Type:    ErrOracle,
		Message: fmt.Sprintf("%s: %v", backend, underlying),
	}
}

// IsType reports whether err is (or wraps) a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type == t
	}
	return false
}
