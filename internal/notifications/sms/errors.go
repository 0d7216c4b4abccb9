package sms

import (
	"errors"
	"fmt"
	"time"
)

const defaultRetryAfter = time.Second

// RateLimitError is returned when the gateway throttles requests.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("sms gateway rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable returns true as the gateway accepts the request later.
func (e *RateLimitError) IsRetryable() bool { return true }

// ErrorCode reports the code placed on the channel response.
func (e *RateLimitError) ErrorCode() string { return "RATE_LIMITED" }

// RetryDelay reports the wait the gateway asked for.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

// PermanentError indicates a rejection that will not succeed on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms gateway error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary gateway failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms gateway error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns the wait suggested by a rate limit error.
func GetRetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
