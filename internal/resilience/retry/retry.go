// Package retry computes delivery backoff and retries startup dependencies.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// Config describes an exponential backoff policy.
type Config struct {
	// MaxAttempts counts the first try.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFraction in [0, 1] is the share of the delay added at random.
	JitterFraction float64
}

// StartupConfig is used while waiting for the database or a broker to come up.
func StartupConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialDelay:   time.Second,
		MaxDelay:       15 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.1,
	}
}

// DeliveryConfig spaces queued delivery attempts over minutes.
func DeliveryConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   30 * time.Second,
		MaxDelay:       30 * time.Minute,
		Multiplier:     4,
		JitterFraction: 0.2,
	}
}

// Validate rejects policies that would never retry or never wait.
func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts %d must be at least 1", c.MaxAttempts))
	}
	if c.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial delay %v must be positive", c.InitialDelay))
	}
	if c.MaxDelay < c.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay %v is below initial delay %v", c.MaxDelay, c.InitialDelay))
	}
	if c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier %v must be at least 1", c.Multiplier))
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		errs = append(errs, fmt.Errorf("jitter fraction %v outside [0, 1]", c.JitterFraction))
	}
	return errors.Join(errs...)
}

// Backoff returns the wait after the given 1-based attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay, plus jitter.
func Backoff(cfg Config, attempt int) time.Duration {
	attempt = max(attempt, 1)
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if math.IsInf(d, 0) || d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return jitter(time.Duration(d), cfg.JitterFraction)
}

// Option customizes WithBackoff.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	retryIf func(error) bool
}

// WithLogger sets the logger used for retry lines. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryIf replaces IsRetryable as the retry predicate.
func WithRetryIf(pred func(error) bool) Option {
	return func(o *options) { o.retryIf = pred }
}

// WithBackoff calls fn until it succeeds, fails with an error the predicate
// rejects, or cfg.MaxAttempts calls have been made.
func WithBackoff(ctx context.Context, cfg Config, fn func() error, opts ...Option) error {
	o := options{logger: slog.Default(), retryIf: IsRetryable}
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	for {
		attempt++
		err := fn()
		switch {
		case err == nil:
			if attempt > 1 {
				o.logger.Info("dependency recovered", slog.Int("attempt", attempt))
			}
			return nil
		case !o.retryIf(err):
			return err
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		wait := Backoff(cfg, attempt)
		o.logger.Warn("attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("wait", wait),
			slog.Any("error", err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// Retryable lets an error decide for itself.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err looks transient: a Retryable error that
// says so, a network timeout, or a refused, reset or unreachable connection.
// Context errors never are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ETIMEDOUT,
	syscall.ENETUNREACH,
}

func jitter(d time.Duration, fraction float64) time.Duration {
	fraction = min(fraction, 1)
	if fraction <= 0 {
		return d
	}
	// #nosec G404 -- jitter does not need a CSPRNG.
	return d + time.Duration(rand.Float64()*float64(d)*fraction)
}
