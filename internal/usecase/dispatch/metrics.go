package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for queued delivery
var (
	// deliveryAttemptsTotal tracks send attempts per channel and outcome
	deliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_delivery_attempts_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"channel", "outcome"}, // outcome: delivered|transient|permanent
	)

	// deliveryDuration tracks provider call latency
	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_delivery_duration_seconds",
			Help:    "Provider send duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	// jobsExhaustedTotal tracks jobs that ran out of retry budget
	jobsExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_exhausted_total",
			Help: "Total number of delivery jobs failed after exhausting retries",
		},
		[]string{"channel"},
	)

	// breakerOpenTotal tracks breaker trips per channel
	breakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_circuit_breaker_open_total",
			Help: "Total number of circuit breaker open events",
		},
		[]string{"channel"},
	)

	// adapterPanicsTotal tracks recovered adapter panics
	adapterPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_adapter_panics_total",
			Help: "Total number of panics recovered from channel adapters",
		},
		[]string{"channel"},
	)

	// queueDepth tracks jobs per state, refreshed by the worker sweep
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_jobs",
			Help: "Number of delivery jobs per state",
		},
		[]string{"state"},
	)
)

// RecordAttempt records one send attempt and its latency.
//
// Parameters:
//   - channel: email, push or sms
//   - outcome: delivered, transient or permanent
//   - duration: time spent in the provider call
func RecordAttempt(channel, outcome string, duration time.Duration) {
	deliveryAttemptsTotal.WithLabelValues(channel, outcome).Inc()
	deliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordExhausted records a job that became failed after its last retry.
func RecordExhausted(channel string) {
	jobsExhaustedTotal.WithLabelValues(channel).Inc()
}

// RecordBreakerOpen records a breaker trip.
func RecordBreakerOpen(channel string) {
	breakerOpenTotal.WithLabelValues(channel).Inc()
}

// RecordPanic records a recovered adapter panic.
func RecordPanic(channel string) {
	adapterPanicsTotal.WithLabelValues(channel).Inc()
}

// SetQueueDepth publishes the number of jobs in one state.
func SetQueueDepth(state string, n float64) {
	queueDepth.WithLabelValues(state).Set(n)
}
