package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// RetryConfig holds retry executor tuning
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`

	// BackoffFactor is the exponential base for the delay between attempts
	BackoffFactor float64 `json:"backoffFactor" yaml:"backoffFactor"`

	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration `json:"maxBackoff" yaml:"maxBackoff"`
}

// DefaultRetryConfig returns the standard retry tuning
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BackoffFactor: 2.0,
		MaxBackoff:    60 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// NotifyFunc is called before each retry sleep with the attempt number just
// failed (starting at 0), the upcoming delay and the failure cause
type NotifyFunc func(attempt int, delay time.Duration, cause error)

// RetryExecutor reruns failed operations with exponential backoff. Only
// errors classified as retryable are retried; anything else fails the
// operation immediately. When a breaker set is attached, every attempt is
// gated by the circuit breaker for the operation's context key.
type RetryExecutor struct {
	cfg      RetryConfig
	breakers *Set
	logger   *slog.Logger
}

// NewRetryExecutor creates a retry executor. breakers may be nil for
// ungated retries.
func NewRetryExecutor(cfg RetryConfig, breakers *Set, logger *slog.Logger) *RetryExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryExecutor{
		cfg:      cfg.withDefaults(),
		breakers: breakers,
		logger:   logger,
	}
}

// Backoff returns the delay before the retry following the given attempt
// (attempt 0 is the first try). The delay grows as factor^attempt seconds
// and is capped at MaxBackoff.
func (r *RetryExecutor) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	secs := math.Pow(r.cfg.BackoffFactor, float64(attempt))
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 || d > r.cfg.MaxBackoff {
		return r.cfg.MaxBackoff
	}
	return d
}

// Execute runs fn, retrying transient failures up to MaxRetries times
func (r *RetryExecutor) Execute(ctx context.Context, fn func(context.Context) error) error {
	return r.ExecuteNotify(ctx, fn, nil)
}

// ExecuteWithRetry runs fn with retries, admitting every attempt through
// the circuit breaker for key. An open circuit fails fast without consuming
// a retry.
func (r *RetryExecutor) ExecuteWithRetry(ctx context.Context, key string, fn func(context.Context) error, notify NotifyFunc) error {
	wrapped := fn
	if r.breakers != nil {
		cb := r.breakers.Get(key)
		wrapped = func(c context.Context) error { return cb.Execute(c, fn) }
	}
	return r.ExecuteNotify(ctx, wrapped, notify)
}

// ExecuteNotify is Execute with a callback before every retry sleep, so
// callers can surface retry progress
func (r *RetryExecutor) ExecuteNotify(ctx context.Context, fn func(context.Context) error, notify NotifyFunc) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", util.ErrCancelled, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !util.IsRetryable(err) {
			return err
		}
		if attempt >= r.cfg.MaxRetries {
			break
		}

		delay := r.Backoff(attempt)
		if notify != nil {
			notify(attempt, delay, err)
		}
		r.logger.Debug("retrying after transient failure",
			"attempt", attempt+1,
			"maxRetries", r.cfg.MaxRetries,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w during retry wait: %v", util.ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("failed after %d retries: %w", r.cfg.MaxRetries, lastErr)
}

// MaxRetries returns the configured retry limit
func (r *RetryExecutor) MaxRetries() int {
	return r.cfg.MaxRetries
}
