package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"school-notify/internal/pkg/config"
	"school-notify/internal/resilience/retry"
)

// WorkerConfig holds the settings of the worker binary: the dispatch loops
// that drain the delivery queue and the cron sweeps that maintain it.
//
// Every field has a default, and LoadConfigFromEnv replaces invalid values
// with those defaults instead of failing.
type WorkerConfig struct {
	// Concurrency is the number of dispatch claim loops.
	// Range: 1-64. Default: 4
	Concurrency int

	// PollInterval is how long a loop waits after finding nothing to claim.
	// Range: 100ms-1m. Default: 1s
	PollInterval time.Duration

	// SendTimeout bounds a single adapter call.
	// Range: 1s-5m. Default: 15s
	SendTimeout time.Duration

	// MaxAttempts is the retry budget of jobs enqueued by this process.
	// Range: 1-20. Default: 3
	MaxAttempts int

	// InitialBackoff and MaxBackoff bound the exponential delay between
	// attempts of one job.
	// Defaults: 30s and 30m
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// SweepSchedule is the cron expression for the expiry and stale-lease
	// sweeps. Descriptors such as "@every 5m" are accepted.
	// Default: "*/5 * * * *"
	SweepSchedule string

	// Timezone is the IANA zone the sweep schedule is evaluated in.
	// Default: "UTC"
	Timezone string

	// StaleLease is how long a job may stay in flight before a sweep returns
	// it to pending. It must exceed SendTimeout.
	// Range: 1m-24h. Default: 10m
	StaleLease time.Duration

	// HealthPort serves /health, /health/ready and /health/channels.
	// Range: 1024-65535. Default: 9091
	HealthPort int

	// MetricsPort serves /metrics.
	// Range: 1024-65535. Default: 9090
	MetricsPort int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:    4,
		PollInterval:   time.Second,
		SendTimeout:    15 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     30 * time.Minute,
		SweepSchedule:  "*/5 * * * *",
		Timezone:       "UTC",
		StaleLease:     10 * time.Minute,
		HealthPort:     9091,
		MetricsPort:    9090,
	}
}

// Validate reports every invalid field at once.
func (c *WorkerConfig) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("concurrency", config.ValidateIntRange(c.Concurrency, 1, 64))
	check("poll interval", config.ValidateDuration(c.PollInterval, 100*time.Millisecond, time.Minute))
	check("send timeout", config.ValidateDuration(c.SendTimeout, time.Second, 5*time.Minute))
	check("max attempts", config.ValidateIntRange(c.MaxAttempts, 1, 20))
	check("initial backoff", config.ValidatePositiveDuration(c.InitialBackoff))
	check("max backoff", config.ValidatePositiveDuration(c.MaxBackoff))
	if c.MaxBackoff < c.InitialBackoff {
		check("max backoff", fmt.Errorf("%v is below initial backoff %v", c.MaxBackoff, c.InitialBackoff))
	}
	check("sweep schedule", config.ValidateCronSchedule(c.SweepSchedule))
	check("timezone", config.ValidateTimezone(c.Timezone))
	check("stale lease", config.ValidateDuration(c.StaleLease, time.Minute, 24*time.Hour))
	if c.StaleLease <= c.SendTimeout {
		check("stale lease", fmt.Errorf("%v must exceed send timeout %v", c.StaleLease, c.SendTimeout))
	}
	check("health port", config.ValidateIntRange(c.HealthPort, 1024, 65535))
	check("metrics port", config.ValidateIntRange(c.MetricsPort, 1024, 65535))
	if c.HealthPort == c.MetricsPort {
		check("metrics port", fmt.Errorf("must differ from health port %d", c.HealthPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Retry returns the backoff policy of the dispatch worker.
func (c *WorkerConfig) Retry() retry.Config {
	r := retry.DeliveryConfig()
	r.MaxAttempts = c.MaxAttempts
	r.InitialDelay = c.InitialBackoff
	r.MaxDelay = c.MaxBackoff
	return r
}

// LoadConfigFromEnv loads the worker configuration, falling back to the
// default of any value that is malformed or out of range. Pairs of values
// that contradict each other are both reset to their defaults. The returned
// error is always nil.
//
// Environment variables:
//   - DISPATCH_CONCURRENCY, DISPATCH_POLL_INTERVAL, DISPATCH_SEND_TIMEOUT
//   - DISPATCH_MAX_ATTEMPTS, DISPATCH_INITIAL_BACKOFF, DISPATCH_MAX_BACKOFF
//   - SWEEP_SCHEDULE, WORKER_TIMEZONE, DISPATCH_STALE_LEASE
//   - WORKER_HEALTH_PORT, METRICS_PORT
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}
	l := config.NewLoader(logger, cm)

	cfg.Concurrency = config.Int(l, "concurrency", "DISPATCH_CONCURRENCY", cfg.Concurrency,
		func(v int) error { return config.ValidateIntRange(v, 1, 64) })
	cfg.PollInterval = config.Duration(l, "poll_interval", "DISPATCH_POLL_INTERVAL", cfg.PollInterval,
		func(d time.Duration) error { return config.ValidateDuration(d, 100*time.Millisecond, time.Minute) })
	cfg.SendTimeout = config.Duration(l, "send_timeout", "DISPATCH_SEND_TIMEOUT", cfg.SendTimeout,
		func(d time.Duration) error { return config.ValidateDuration(d, time.Second, 5*time.Minute) })
	cfg.MaxAttempts = config.Int(l, "max_attempts", "DISPATCH_MAX_ATTEMPTS", cfg.MaxAttempts,
		func(v int) error { return config.ValidateIntRange(v, 1, 20) })
	cfg.InitialBackoff = config.Duration(l, "initial_backoff", "DISPATCH_INITIAL_BACKOFF", cfg.InitialBackoff,
		config.ValidatePositiveDuration)
	cfg.MaxBackoff = config.Duration(l, "max_backoff", "DISPATCH_MAX_BACKOFF", cfg.MaxBackoff,
		config.ValidatePositiveDuration)
	cfg.SweepSchedule = config.String(l, "sweep_schedule", "SWEEP_SCHEDULE", cfg.SweepSchedule,
		config.ValidateCronSchedule)
	cfg.Timezone = config.String(l, "timezone", "WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.StaleLease = config.Duration(l, "stale_lease", "DISPATCH_STALE_LEASE", cfg.StaleLease,
		func(d time.Duration) error { return config.ValidateDuration(d, time.Minute, 24*time.Hour) })
	cfg.HealthPort = config.Int(l, "health_port", "WORKER_HEALTH_PORT", cfg.HealthPort,
		func(v int) error { return config.ValidateIntRange(v, 1024, 65535) })
	cfg.MetricsPort = config.Int(l, "metrics_port", "METRICS_PORT", cfg.MetricsPort,
		func(v int) error { return config.ValidateIntRange(v, 1024, 65535) })

	def := DefaultConfig()
	if cfg.MaxBackoff < cfg.InitialBackoff {
		l.Reject("max_backoff", "DISPATCH_MAX_BACKOFF",
			fmt.Sprintf("max backoff %v is below initial backoff %v, using defaults", cfg.MaxBackoff, cfg.InitialBackoff))
		cfg.InitialBackoff, cfg.MaxBackoff = def.InitialBackoff, def.MaxBackoff
	}
	if cfg.StaleLease <= cfg.SendTimeout {
		l.Reject("stale_lease", "DISPATCH_STALE_LEASE",
			fmt.Sprintf("stale lease %v must exceed send timeout %v, using defaults", cfg.StaleLease, cfg.SendTimeout))
		cfg.StaleLease, cfg.SendTimeout = def.StaleLease, def.SendTimeout
	}
	if cfg.HealthPort == cfg.MetricsPort {
		l.Reject("metrics_port", "METRICS_PORT",
			fmt.Sprintf("health and metrics ports are both %d, using defaults", cfg.HealthPort))
		cfg.HealthPort, cfg.MetricsPort = def.HealthPort, def.MetricsPort
	}
	l.Finish()

	return &cfg, nil
}
