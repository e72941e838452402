package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics tracks configuration loading for one component. Metric
// names are prefixed with the component, e.g. dispatch_config_fallbacks_total.
type ConfigMetrics struct {
	LoadTimestamp         prometheus.Gauge
	ValidationErrorsTotal *prometheus.CounterVec
	FallbacksTotal        *prometheus.CounterVec
	// FallbackActive is 1 while the running configuration contains a default
	// substituted for an invalid value.
	FallbackActive prometheus.Gauge
}

// NewConfigMetrics registers the metrics of component with the default
// registry. Calling it twice with the same component panics.
func NewConfigMetrics(component string) *ConfigMetrics {
	return NewConfigMetricsWith(prometheus.DefaultRegisterer, component)
}

// NewConfigMetricsWith registers the metrics with reg.
func NewConfigMetricsWith(reg prometheus.Registerer, component string) *ConfigMetrics {
	f := promauto.With(reg)
	return &ConfigMetrics{
		LoadTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: component + "_config_load_timestamp",
			Help: "Unix timestamp of the last " + component + " configuration load",
		}),
		ValidationErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: component + "_config_validation_errors_total",
			Help: "Invalid " + component + " configuration values by field",
		}, []string{"field"}),
		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: component + "_config_fallbacks_total",
			Help: "Defaults substituted for invalid " + component + " configuration values by field",
		}, []string{"field"}),
		FallbackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: component + "_config_fallback_active",
			Help: "1 if any " + component + " configuration fallback is active, 0 otherwise",
		}),
	}
}

func (m *ConfigMetrics) RecordLoadTimestamp() {
	m.LoadTimestamp.SetToCurrentTime()
}

func (m *ConfigMetrics) RecordValidationError(field string) {
	m.ValidationErrorsTotal.WithLabelValues(field).Inc()
}

func (m *ConfigMetrics) RecordFallback(field string) {
	m.FallbacksTotal.WithLabelValues(field).Inc()
}

func (m *ConfigMetrics) SetFallbackActive(active bool) {
	if active {
		m.FallbackActive.Set(1)
		return
	}
	m.FallbackActive.Set(0)
}
