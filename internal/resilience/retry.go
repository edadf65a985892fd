package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig tunes retry-with-backoff around store and webhook calls.
// Zero values fall back to defaults.
type RetryConfig struct {
	// MaxAttempts counts the first try too; 1 disables retries. Default: 3.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`

	// MaxBackoff caps the delay between attempts. Default: 30s.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`

	// Multiplier scales the delay after each failed attempt. Default: 2.
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier"`

	// JitterFraction randomizes each delay by up to this fraction of the
	// computed value in either direction. Default: 0.25.
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool `yaml:"-" mapstructure:"-"`

	// OnRetry runs before each backoff sleep with the failed attempt
	// number and its error.
	OnRetry func(attempt int, err error) `yaml:"-" mapstructure:"-"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	return c
}

// backoff returns the jittered delay after the given zero-based failed
// attempt, capped at MaxBackoff.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := math.Min(
		float64(c.InitialBackoff)*math.Pow(c.Multiplier, float64(attempt)),
		float64(c.MaxBackoff),
	)
	if c.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * c.JitterFraction
	}
	return time.Duration(math.Max(delay, 0))
}

// DoVal runs fn until it succeeds, fails with a non-retryable error, the
// context is cancelled, or MaxAttempts is exhausted. A successful attempt
// returns its value; otherwise the last error is returned with the zero
// value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}

		if ctx.Err() != nil || !retryable(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.backoff(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// Do is DoVal for calls with no result.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryLogger returns an OnRetry callback that logs each retry for the
// given component and operation.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
