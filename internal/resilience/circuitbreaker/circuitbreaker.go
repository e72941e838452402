// Package circuitbreaker guards calls to delivery providers with
// github.com/sony/gobreaker. One breaker is kept per channel so an SMTP
// outage does not stop push or SMS traffic.
package circuitbreaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name labels log lines and metrics.
	Name string

	// MaxRequests is the number of probes admitted while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts. Zero keeps them until the
	// breaker trips.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker, e.g. 0.6.
	FailureThreshold float64

	// MinRequests is the sample size needed before the ratio is evaluated.
	MinRequests uint32

	// IsSuccessful decides whether an error counts against the provider.
	// Nil counts every non-nil error as a failure.
	IsSuccessful func(err error) bool

	// OnStateChange is called after every transition, in addition to logging.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns the baseline used by every channel.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// ChannelConfig returns the breaker configuration for a delivery channel.
// The SMS breaker trips at a lower ratio and stays open for two minutes.
// The push breaker needs a larger sample because FCM batches fail together.
func ChannelConfig(channel string) Config {
	cfg := DefaultConfig("channel-" + channel)
	switch channel {
	case "sms":
		cfg.FailureThreshold = 0.5
		cfg.Timeout = 2 * time.Minute
	case "push":
		cfg.MinRequests = 10
	}
	return cfg
}

// CircuitBreaker guards one provider.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New returns a closed breaker.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		IsSuccessful: cfg.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs send unless the breaker is open, in which case it returns
// gobreaker.ErrOpenState (or ErrTooManyRequests while half-open) without
// calling it. The error of send is returned unchanged.
func (cb *CircuitBreaker) Execute(send func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, send()
	})
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}
