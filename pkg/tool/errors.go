package tool

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned by Lookup when no tool is registered under a name
var ErrToolNotFound = errors.New("tool not found")

// ErrorKind classifies tool-level failures
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindExecution  ErrorKind = "execution"
	KindTimeout    ErrorKind = "timeout"
)

// Error is a tool-level failure. It is reported to the caller as data and
// never terminates the connection that carried the call.
type Error struct {
	Kind    ErrorKind
	Tool    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error for a tool
func NewValidationError(toolName, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Tool:    toolName,
		Message: message,
	}
}

// NewExecutionError wraps a failure raised by a tool handler
func NewExecutionError(toolName string, err error) *Error {
	return &Error{
		Kind: KindExecution,
		Tool: toolName,
		Err:  err,
	}
}

// MissingParameterError reports the first required parameter absent from a call
func MissingParameterError(toolName, param string) *Error {
	return NewValidationError(toolName, fmt.Sprintf("Missing required parameter: %s", param))
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	var toolErr *Error
	return errors.As(err, &toolErr) && toolErr.Kind == KindValidation
}
