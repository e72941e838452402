// Package config provides small environment variable readers shared by the
// api and worker binaries. Malformed values never abort startup: the default
// is returned and a warning is logged.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvString returns the value of key, or defaultValue when unset or empty.
func GetEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt returns key parsed as an integer.
func GetEnvInt(key string, defaultValue int) int {
	return getEnv(key, defaultValue, func(s string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(s))
	})
}

// GetEnvFloat returns key parsed as a 64-bit float.
func GetEnvFloat(key string, defaultValue float64) float64 {
	return getEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	})
}

// GetEnvBool returns key parsed with strconv.ParseBool.
func GetEnvBool(key string, defaultValue bool) bool {
	return getEnv(key, defaultValue, strconv.ParseBool)
}

// GetEnvDuration returns key parsed with time.ParseDuration, e.g. "30s" or "1h30m".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnv(key, defaultValue, time.ParseDuration)
}

// GetEnvStringList splits a comma-separated value, trimming whitespace and
// dropping empty items.
//
//	CORS_ALLOWED_ORIGINS="https://a.example, https://b.example"
func GetEnvStringList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("invalid value for environment variable, using default",
			slog.String("key", key),
			slog.String("value", raw),
			slog.Any("default", defaultValue),
			slog.String("error", err.Error()))
		return defaultValue
	}
	return v
}
