package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Wrap adds context to err while keeping its code. Context errors become
// TIMEOUT or CANCELED, anything else unknown becomes INTERNAL.
// Wrap returns nil for a nil err.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		wrapped := &Error{
			code:       e.code,
			category:   e.category,
			message:    message,
			cause:      err,
			metadata:   e.Metadata(),
			retryable:  e.retryable,
			retryAfter: e.retryAfter,
			timestamp:  time.Now(),
			taskID:     e.taskID,
		}
		return wrapped.with(opts...)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// As extracts the first *Error in the chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Is reports whether the outermost *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	if e := As(err); e != nil {
		return e.code == code
	}
	return false
}

// Code returns the code of err, or empty for nil and INTERNAL for plain errors.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e := As(err); e != nil {
		return e.code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is retryable. Plain errors are not.
func IsRetryable(err error) bool {
	if e := As(err); e != nil {
		return e.Retryable()
	}
	return false
}

// RetryAfter returns the backoff carried by err, or zero.
func RetryAfter(err error) time.Duration {
	if e := As(err); e != nil {
		return e.retryAfter
	}
	return 0
}

// Hint returns the user-facing format hint attached to err, if any.
func Hint(err error) string {
	if e := As(err); e != nil {
		return e.metadata["hint"]
	}
	return ""
}
