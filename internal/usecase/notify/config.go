package notify

import "school-notify/pkg/config"

// LoadConfigFromEnv reads the service settings. Unset or malformed values
// keep their defaults.
//
// Environment variables:
//   - DISPATCH_MAX_ATTEMPTS (shared with the worker)
//   - NOTIFY_ENQUEUE_TIMEOUT, NOTIFY_BULK_CONCURRENCY, NOTIFY_MAX_BULK_RECIPIENTS
func LoadConfigFromEnv() Config {
	return Config{
		MaxAttempts:       config.GetEnvInt("DISPATCH_MAX_ATTEMPTS", defaultMaxAttempts),
		EnqueueTimeout:    config.GetEnvDuration("NOTIFY_ENQUEUE_TIMEOUT", defaultEnqueueTimeout),
		BulkConcurrency:   config.GetEnvInt("NOTIFY_BULK_CONCURRENCY", defaultBulkConcurrency),
		MaxBulkRecipients: config.GetEnvInt("NOTIFY_MAX_BULK_RECIPIENTS", defaultMaxBulkRecipients),
	}
}
