package notifications

import (
	"errors"
	"fmt"
	"time"
)

// Registry errors.
var (
	ErrNoNotifier          = errors.New("no notifier registered for channel")
	ErrDuplicateNotifier   = errors.New("notifier already registered")
	ErrNilNotifierResponse = errors.New("notifier returned no response")
)

// Error codes reported on failed channel responses.
const (
	ErrorCodePublishFailed = "PUBLISH_FAILED"
	ErrorCodePanic         = "NOTIFIER_PANIC"
	ErrorCodeRender        = "RENDER_FAILED"
	ErrorCodeMissingConfig = "MISSING_CONFIG"
	ErrorCodeDisabled      = "CONFIG_DISABLED"
	ErrorCodeNoChannels    = "NO_ENABLED_CHANNELS"
)

// PanicError is returned when a notifier panics during a call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("notifier panic: %v", e.Value)
}

// IsRetryable returns false: a panicking notifier is not retried in-process.
func (e *PanicError) IsRetryable() bool { return false }

// ErrorCode implements codedError.
func (e *PanicError) ErrorCode() string { return ErrorCodePanic }

// codedError lets provider errors report their own error code.
type codedError interface {
	ErrorCode() string
}

func errorCode(err error) string {
	var c codedError
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrorCodePublishFailed
}

// retryDelayer lets provider errors suggest how long to wait before the
// next attempt.
type retryDelayer interface {
	RetryDelay() time.Duration
}

func retryDelay(err error) time.Duration {
	var d retryDelayer
	if errors.As(err, &d) {
		return d.RetryDelay()
	}
	return 0
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
