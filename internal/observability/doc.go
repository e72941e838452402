// Package observability groups the logging, metrics and tracing setup
// shared by the api and worker binaries.
//
// Subpackages:
//   - logging: slog construction and request-scoped loggers
//   - metrics: shared collectors such as database pool statistics
//   - slo: delivery success and complaint ratios per channel
//   - tracing: OpenTelemetry provider setup and HTTP middleware
package observability
