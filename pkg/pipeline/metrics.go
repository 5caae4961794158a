package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments pipeline runs
type Metrics struct {
	stepDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "satisfaction_pipeline_step_duration_seconds",
			Help:    "Duration of each pipeline step",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"pipeline", "step"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "satisfaction_pipeline_runs_total",
			Help: "Pipeline runs by final status",
		}, []string{"pipeline", "status"}),
	}
}
