// Package config loads validated settings from the environment with a
// fail-open strategy: a value that is malformed or fails validation is
// replaced by its default, a warning is logged, and the fallback is counted.
// A process therefore always starts with a usable configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of loading one environment variable.
type Result[T any] struct {
	Value T
	// Warning explains why the default was used; empty when it was not.
	Warning         string
	FallbackApplied bool
}

func load[T any](key string, def T, parse func(string) (T, error), validate func(T) error) Result[T] {
	raw := os.Getenv(key)
	if raw == "" {
		return Result[T]{Value: def}
	}
	v, err := parse(raw)
	if err == nil && validate != nil {
		err = validate(v)
	}
	if err != nil {
		return Result[T]{
			Value:           def,
			Warning:         fmt.Sprintf("invalid %s=%q: %v, falling back to default %v", key, raw, err, def),
			FallbackApplied: true,
		}
	}
	return Result[T]{Value: v}
}

// LoadEnvString reads key as-is.
func LoadEnvString(key, def string, validate func(string) error) Result[string] {
	return load(key, def, func(s string) (string, error) { return s, nil }, validate)
}

// LoadEnvInt reads key as a base-10 integer. Surrounding spaces are allowed.
func LoadEnvInt(key string, def int, validate func(int) error) Result[int] {
	return load(key, def, func(s string) (int, error) {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("invalid integer format")
		}
		return v, nil
	}, validate)
}

// LoadEnvDuration reads key with time.ParseDuration.
func LoadEnvDuration(key string, def time.Duration, validate func(time.Duration) error) Result[time.Duration] {
	return load(key, def, time.ParseDuration, validate)
}

// LoadEnvBool reads key with strconv.ParseBool.
func LoadEnvBool(key string, def bool) Result[bool] {
	return load(key, def, strconv.ParseBool, nil)
}

// Loader reads a group of settings for one component, logging and counting
// every fallback it applies.
//
//	l := config.NewLoader(logger, metrics)
//	cfg.Concurrency = config.Int(l, "concurrency", "DISPATCH_CONCURRENCY", cfg.Concurrency, rangeCheck)
//	l.Finish()
type Loader struct {
	logger   *slog.Logger
	metrics  *ConfigMetrics
	fallback bool
}

// NewLoader returns a Loader. metrics may be nil.
func NewLoader(logger *slog.Logger, metrics *ConfigMetrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, metrics: metrics}
}

// String loads a string field.
func String(l *Loader, field, key, def string, validate func(string) error) string {
	return observe(l, field, key, LoadEnvString(key, def, validate))
}

// Int loads an integer field.
func Int(l *Loader, field, key string, def int, validate func(int) error) int {
	return observe(l, field, key, LoadEnvInt(key, def, validate))
}

// Duration loads a duration field.
func Duration(l *Loader, field, key string, def time.Duration, validate func(time.Duration) error) time.Duration {
	return observe(l, field, key, LoadEnvDuration(key, def, validate))
}

// Bool loads a boolean field.
func Bool(l *Loader, field, key string, def bool) bool {
	return observe(l, field, key, LoadEnvBool(key, def))
}

func observe[T any](l *Loader, field, key string, r Result[T]) T {
	if r.FallbackApplied {
		l.Reject(field, key, r.Warning)
	}
	return r.Value
}

// Reject records a fallback decided by the caller, typically when two
// individually valid values contradict each other.
func (l *Loader) Reject(field, key, warning string) {
	l.fallback = true
	if l.metrics != nil {
		l.metrics.RecordValidationError(field)
		l.metrics.RecordFallback(field)
	}
	l.logger.Warn("configuration fallback applied",
		slog.String("field", field),
		slog.String("env_key", key),
		slog.String("warning", warning))
}

// FallbackApplied reports whether any field loaded so far used its default
// because of an invalid value.
func (l *Loader) FallbackApplied() bool { return l.fallback }

// Finish publishes the fallback gauge and load timestamp.
func (l *Loader) Finish() {
	if l.metrics == nil {
		return
	}
	l.metrics.SetFallbackActive(l.fallback)
	l.metrics.RecordLoadTimestamp()
}
