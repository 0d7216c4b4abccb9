// Package retry provides bounded in-process retries and the persisted retry
// bookkeeping shared across redeliveries of the same request.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TemplateConfig configures a Template.
type TemplateConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
}

// DefaultTemplateConfig returns the default retry settings.
func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Template runs an operation up to MaxAttempts times, sleeping
// BaseDelay*attempt between attempts. It knows nothing about the operation.
type Template struct {
	maxAttempts int
	baseDelay   time.Duration
}

// NewTemplate creates a Template. Non-positive attempts fall back to the default.
func NewTemplate(cfg TemplateConfig) *Template {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultTemplateConfig().MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	return &Template{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

// MaxAttempts returns the configured attempt limit.
func (t *Template) MaxAttempts() int {
	return t.maxAttempts
}

// retryable matches errors that classify themselves.
type retryable interface {
	IsRetryable() bool
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error from op is returned unchanged.
func Do[T any](ctx context.Context, t *Template, op func() (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		res, err := op()
		if err == nil {
			return res, nil
		}
		var r retryable
		if errors.As(err, &r) && !r.IsRetryable() {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: t.baseDelay}, uint64(t.maxAttempts-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		slog.Debug("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", t.maxAttempts,
			"backoff", wait,
			"error", err,
		)
	}

	return backoff.RetryNotifyWithData(wrapped, policy, notify)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, t *Template, op func() error) error {
	_, err := Do(ctx, t, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// linearBackOff waits base*n before the n-th retry.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
