package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. An existing *Error keeps its code and
// category; context errors map to CodeTimeout/CodeCanceled; anything else
// becomes CodeInternal.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if stderrors.As(err, &structured) {
		wrapped := &Error{
			code:        structured.code,
			category:    structured.category,
			message:     message,
			cause:       err,
			correlation: structured.correlation,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return New(CodeTimeout, message, append(opts, WithCause(err))...)
	}
	if stderrors.Is(err, context.Canceled) {
		return New(CodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(CodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error under a specific code.
func WrapWithCode(err error, code Code, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Is checks if any error in the chain has the given code.
func Is(err error, code Code) bool {
	var structured *Error
	if stderrors.As(err, &structured) {
		return structured.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Non-structured errors default to not retryable.
func IsRetryable(err error) bool {
	var structured *Error
	if stderrors.As(err, &structured) {
		return structured.Retryable()
	}
	return false
}

// CodeOf extracts the error code, or an empty code for other errors.
func CodeOf(err error) Code {
	var structured *Error
	if stderrors.As(err, &structured) {
		return structured.code
	}
	return ""
}

// Correlation extracts the correlation id attached to an error chain.
func Correlation(err error) string {
	var structured *Error
	if stderrors.As(err, &structured) {
		return structured.correlation
	}
	return ""
}
