// Package metrics provides Prometheus instrumentation for the extraction core.
//
// All metrics are prefixed with "media_extractor_". They are served by the
// app's asset handler at /metrics.
//
//   - RunsTotal: completed runs by pipeline and outcome
//   - RunDuration: wall time of runs by pipeline
//   - EngineLoadsTotal: engine acquisitions by outcome
//   - ResourcesLive: materialized resources not yet released
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeBusy    = "busy"
	OutcomeEngine  = "engine_error"
	OutcomeStaging = "staging_error"
	OutcomeFailed  = "failed"
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_runs_total",
			Help: "Total number of transcode runs",
		},
		[]string{"pipeline", "outcome"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_extractor_run_duration_seconds",
			Help:    "Transcode run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pipeline"},
	)
)

// Engine metrics
var (
	EngineLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_extractor_engine_loads_total",
			Help: "Total number of engine acquisitions",
		},
		[]string{"outcome"},
	)
)

// Resource metrics
var (
	ResourcesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_extractor_resources_live",
			Help: "Number of materialized resources not yet released",
		},
	)
)
