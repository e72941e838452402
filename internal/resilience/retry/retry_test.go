package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

type flakyErr struct{ retry bool }

func (e flakyErr) Error() string   { return "flaky" }
func (e flakyErr) Retryable() bool { return e.retry }

func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{500, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if got := Backoff(cfg, tt.attempt); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	cfg := DeliveryConfig()
	for i := 0; i < 100; i++ {
		got := Backoff(cfg, 2)
		base := 2 * time.Minute
		if got < base || got > base+time.Duration(float64(base)*cfg.JitterFraction) {
			t.Fatalf("Backoff = %v outside [%v, +%v%%]", got, base, cfg.JitterFraction*100)
		}
	}
}

func TestWithBackoff_SuccessAfterRetry(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("err=%v attempts=%d", err, attempts)
	}
}

func TestWithBackoff_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return flakyErr{retry: true}
	})
	if err == nil || attempts != 3 {
		t.Fatalf("err=%v attempts=%d", err, attempts)
	}
	var fe flakyErr
	if !errors.As(err, &fe) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return flakyErr{retry: false}
	})
	if err == nil || attempts != 1 {
		t.Fatalf("err=%v attempts=%d", err, attempts)
	}
}

func TestWithBackoff_ContextCanceled(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithBackoff(ctx, cfg, func() error { return syscall.ECONNREFUSED })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), false},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"conn reset wrapped", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"retryable error", flakyErr{retry: true}, true},
		{"permanent error", fmt.Errorf("wrap: %w", flakyErr{retry: false}), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestJitter_ZeroFraction(t *testing.T) {
	if got := jitter(time.Second, 0); got != time.Second {
		t.Errorf("addJitter = %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DeliveryConfig().Validate(); err != nil {
		t.Fatalf("DeliveryConfig invalid: %v", err)
	}
	if err := StartupConfig().Validate(); err != nil {
		t.Fatalf("StartupConfig invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"zero initial delay", func(c *Config) { c.InitialDelay = 0 }},
		{"max below initial", func(c *Config) { c.MaxDelay = c.InitialDelay / 2 }},
		{"shrinking multiplier", func(c *Config) { c.Multiplier = 0.5 }},
		{"jitter above one", func(c *Config) { c.JitterFraction = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DeliveryConfig()
			tt.mutate(&cfg)
			if cfg.Validate() == nil {
				t.Errorf("expected validation error for %+v", cfg)
			}
		})
	}
}

func TestWithBackoff_RetryIf(t *testing.T) {
	attempts := 0
	sentinel := errors.New("database is starting up")
	err := WithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return sentinel
	}, WithRetryIf(func(err error) bool { return errors.Is(err, sentinel) }))
	if !errors.Is(err, sentinel) || attempts != 3 {
		t.Fatalf("err=%v attempts=%d", err, attempts)
	}
}
