package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "basin_pipeline"

// Metrics holds the Prometheus collectors for one pipeline invocation.
type Metrics struct {
	StageResults   *prometheus.CounterVec   // labels: stage, outcome
	EngineDuration *prometheus.HistogramVec // labels: operation={import,compute}
	EngineErrors   *prometheus.CounterVec   // labels: operation
	LedgerMarks    *prometheus.CounterVec   // labels: stage
	LastCompletion *prometheus.GaugeVec     // labels: model, stage

	// Raw file transfer.
	FilesDownloaded prometheus.Counter
	DownloadErrors  prometheus.Counter

	// Dam telemetry.
	TelemetryRows   *prometheus.CounterVec // labels: endpoint
	TelemetryErrors *prometheus.CounterVec // labels: endpoint

	// Serve mode.
	SchedulerRunning prometheus.Gauge
	SchedulerCycles  prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates all collectors and registers them with a fresh registry.
// Each invocation is a short-lived process, so nothing is shared with the
// default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		StageResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		EngineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Duration of modeling engine calls.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"operation"}),
		EngineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Failed modeling engine calls.",
		}, []string{"operation"}),
		LedgerMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_marks_total",
			Help:      "Dates marked done in a ledger.",
		}, []string{"stage"}),
		LastCompletion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_completion_timestamp_seconds",
			Help:      "Unix time a stage last completed for a model.",
		}, []string{"model", "stage"}),
		FilesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_downloaded_total",
			Help:      "Raw files fetched from the remote server.",
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_errors_total",
			Help:      "Failed raw file downloads.",
		}),
		TelemetryRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_rows_total",
			Help:      "Dam telemetry rows received by endpoint.",
		}, []string{"endpoint"}),
		TelemetryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_errors_total",
			Help:      "Failed dam telemetry requests by endpoint.",
		}, []string{"endpoint"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the serve loop is running.",
		}),
		SchedulerCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_cycles_total",
			Help:      "Completed serve loop cycles.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.StageResults,
		m.EngineDuration,
		m.EngineErrors,
		m.LedgerMarks,
		m.LastCompletion,
		m.FilesDownloaded,
		m.DownloadErrors,
		m.TelemetryRows,
		m.TelemetryErrors,
		m.SchedulerRunning,
		m.SchedulerCycles,
	)

	return m
}

// NewMetricsForTesting is NewMetrics; kept as a separate name so tests read
// the same as the rest of the codebase.
func NewMetricsForTesting() *Metrics {
	return NewMetrics()
}

// Gatherer exposes the invocation's registry for pushing or inspection.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
