package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"school-notify/internal/pkg/config"
)

// WorkerMetrics holds the Prometheus metrics of the worker binary:
// configuration loading plus one series per maintenance sweep.
type WorkerMetrics struct {
	*config.ConfigMetrics

	// SweepRunsTotal counts sweep runs by sweep and status (success/failure).
	SweepRunsTotal *prometheus.CounterVec

	SweepDurationSeconds *prometheus.HistogramVec

	// SweepItemsTotal counts rows affected by sweeps, e.g. notifications
	// pruned or jobs requeued.
	SweepItemsTotal *prometheus.CounterVec

	SweepLastSuccessTimestamp *prometheus.GaugeVec
}

// NewWorkerMetrics registers the worker metrics with the default registry.
// Call it once per process.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWith(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWith registers the worker metrics with reg.
func NewWorkerMetricsWith(reg prometheus.Registerer) *WorkerMetrics {
	f := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetricsWith(reg, "worker"),

		SweepRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_sweep_runs_total",
			Help: "Total number of maintenance sweep runs by sweep and status",
		}, []string{"sweep", "status"}),

		SweepDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_sweep_duration_seconds",
			Help:    "Duration of maintenance sweeps in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}, []string{"sweep"}),

		SweepItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_sweep_items_total",
			Help: "Total number of rows affected by maintenance sweeps",
		}, []string{"sweep"}),

		SweepLastSuccessTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_sweep_last_success_timestamp",
			Help: "Unix timestamp of the last successful run of each sweep",
		}, []string{"sweep"}),
	}
}

// RecordSweep records one finished sweep run.
func (m *WorkerMetrics) RecordSweep(sweep string, err error, took time.Duration, items int64) {
	m.SweepDurationSeconds.WithLabelValues(sweep).Observe(took.Seconds())
	if err != nil {
		m.SweepRunsTotal.WithLabelValues(sweep, "failure").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues(sweep, "success").Inc()
	m.SweepItemsTotal.WithLabelValues(sweep).Add(float64(items))
	m.SweepLastSuccessTimestamp.WithLabelValues(sweep).SetToCurrentTime()
}
