// Package errors provides structured errors for the coordination layer.
//
// Errors carry a code, a category with retry semantics, and optionally the
// correlation id of the task they relate to. Internal component faults are
// recovered locally and converted into terminal task states; only
// bus-connectivity and store-write faults are expected to cross component
// boundaries, and their categories tell the caller whether retrying makes
// sense.
package errors

import (
	"fmt"
)

// Error is a structured coordination-layer error.
type Error struct {
	code        Code
	category    Category
	message     string
	cause       error
	correlation string
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() Category {
	return e.category
}

// Retryable returns whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Correlation returns the related task's correlation id, if set.
func (e *Error) Correlation() string {
	return e.correlation
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCause attaches an underlying error.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// WithCategory overrides the code's default category.
func WithCategory(cat Category) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithCorrelation tags the error with a task's correlation id.
func WithCorrelation(id string) Option {
	return func(e *Error) {
		e.correlation = id
	}
}

// New creates a structured error with the given code and message.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: CategoryOf(code),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a structured error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}
