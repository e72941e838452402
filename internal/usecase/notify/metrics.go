package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the notification use cases
var (
	// notificationsCreatedTotal tracks persisted notifications per type
	notificationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_created_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"type"},
	)

	// jobsEnqueuedTotal tracks delivery jobs handed to the dispatch queue
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_jobs_enqueued_total",
			Help: "Total number of delivery jobs enqueued",
		},
		[]string{"channel"},
	)

	// jobsSkippedTotal tracks channels that were not queued for a recipient
	jobsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_jobs_skipped_total",
			Help: "Total number of channel deliveries skipped",
		},
		[]string{"channel", "reason"}, // reason: opted_out|no_address|preference_error
	)

	// enqueueFailuresTotal tracks enqueue errors swallowed by Notify
	enqueueFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_enqueue_failures_total",
			Help: "Total number of delivery jobs that could not be enqueued",
		},
		[]string{"channel"},
	)

	// realtimePublishedTotal tracks in-app copies pushed to live connections
	realtimePublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_realtime_published_total",
			Help: "Total number of notifications published to realtime clients",
		},
	)
)

// RecordCreated records a persisted notification.
func RecordCreated(notificationType string) {
	notificationsCreatedTotal.WithLabelValues(notificationType).Inc()
}

// RecordEnqueued records a delivery job accepted by the queue.
func RecordEnqueued(channel string) {
	jobsEnqueuedTotal.WithLabelValues(channel).Inc()
}

// RecordSkipped records a channel that was deliberately not queued.
//
// Parameters:
//   - channel: email, push or sms
//   - reason: opted_out, no_address or preference_error
func RecordSkipped(channel, reason string) {
	jobsSkippedTotal.WithLabelValues(channel, reason).Inc()
}

// RecordEnqueueFailure records a job the queue refused or timed out on.
func RecordEnqueueFailure(channel string) {
	enqueueFailuresTotal.WithLabelValues(channel).Inc()
}

// RecordRealtimePublish records an in-app publish.
func RecordRealtimePublish() {
	realtimePublishedTotal.Inc()
}
