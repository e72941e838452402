package pagination

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts list requests by status and offset bucket.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_list_requests_total",
			Help: "Total number of paginated notification list requests",
		},
		[]string{"status", "offset_range"},
	)

	// DurationSeconds tracks list latency by operation.
	DurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_list_duration_seconds",
			Help:    "Paginated notification list duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	// ErrorsTotal counts list failures by type (validation, database).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_list_errors_total",
			Help: "Total number of paginated notification list errors",
		},
		[]string{"type"},
	)
)

// RecordRequest records a list request.
func RecordRequest(statusCode int, offset int) {
	RequestsTotal.WithLabelValues(strconv.Itoa(statusCode), offsetBucket(offset)).Inc()
}

// RecordDuration records operation duration in seconds.
func RecordDuration(operation string, duration float64) {
	DurationSeconds.WithLabelValues(operation).Observe(duration)
}

// RecordError records a list failure.
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

func offsetBucket(offset int) string {
	switch {
	case offset == 0:
		return "0"
	case offset < 100:
		return "1-99"
	case offset < 1000:
		return "100-999"
	default:
		return "1000+"
	}
}
