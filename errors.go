package stepwise

import (
	"errors"
	"fmt"
)

// noRetryError is a Dev/user error that tells the executor not to retry the
// step or function. Constructed with NoRetryError, matched with
// IsNoRetryError.
type noRetryError struct {
	cause error
}

func (e noRetryError) Error() string {
	if e.cause == nil {
		return "no retry"
	}
	return e.cause.Error()
}

func (e noRetryError) Unwrap() error {
	return e.cause
}

// NoRetryError wraps err so the executor will not retry after it's returned
// from a function or step.
func NoRetryError(err error) error {
	if err == nil {
		err = errors.New("no retry")
	}
	return noRetryError{cause: err}
}

// IsNoRetryError reports whether err (or anything it wraps) was produced by
// NoRetryError.
func IsNoRetryError(err error) bool {
	var target noRetryError
	return errors.As(err, &target)
}

// retryAtError is a Dev/user error that pins the next retry to a specific
// time, surfaced to the executor as a Retry-After delay.
type retryAtError struct {
	cause error
	after int64 // unix seconds
}

func (e retryAtError) Error() string {
	if e.cause == nil {
		return "retry later"
	}
	return e.cause.Error()
}

func (e retryAtError) Unwrap() error {
	return e.cause
}

// RetryAtError wraps err so the executor retries no earlier than at (unix
// seconds).
func RetryAtError(err error, at int64) error {
	if err == nil {
		err = errors.New("retry later")
	}
	return retryAtError{cause: err, after: at}
}

// IsRetryAtError reports whether err (or anything it wraps) was produced by
// RetryAtError.
func IsRetryAtError(err error) bool {
	var target retryAtError
	return errors.As(err, &target)
}

// GetRetryAtTime returns the unix-seconds retry time carried by err, if it
// (or anything it wraps) was produced by RetryAtError.
func GetRetryAtTime(err error) (int64, bool) {
	var target retryAtError
	if !errors.As(err, &target) {
		return 0, false
	}
	return target.after, true
}

// basicError is the plain Dev/user error: a message with no retry
// instructions attached.
type basicError struct {
	message string
}

func (e basicError) Error() string {
	return e.message
}

// BasicError constructs the plain error kind used for signing-key and
// signature-verification failures (answered with 401 by the invocation
// handler) and for failures decoding the event into a function's input
// (answered with 500).
func BasicError(format string, args ...any) error {
	return basicError{message: fmt.Sprintf(format, args...)}
}
