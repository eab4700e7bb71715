package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrTypeInput indicates a malformed request (empty or invalid history)
	ErrTypeInput ErrorType = "input"
	// ErrTypePolicy indicates a generated statement that is not a SELECT
	ErrTypePolicy ErrorType = "policy_violation"
	// ErrTypeGeneration indicates the text-generation capability failed or
	// returned empty output
	ErrTypeGeneration ErrorType = "generation"
	// ErrTypeValidation indicates the database rejected the query during the
	// explain-style check
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeExecution indicates a validated query failed at execution time
	ErrTypeExecution ErrorType = "execution"
	// ErrTypeUnrecoverable indicates the repair budget was exhausted without a
	// valid query
	ErrTypeUnrecoverable ErrorType = "unrecoverable_query"

	ErrTypeConfig   ErrorType = "config"
	ErrTypeDatabase ErrorType = "database"
	ErrTypeInternal ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// UserMessage returns the message to expose at the request boundary. Structured
// errors expose their type and message; anything else is reported generically so
// internal error text never leaks to the caller.
func UserMessage(err error) string {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Message
	}

	return "an unexpected error occurred"
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}
