package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry           *prometheus.Registry
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	activeRuns         prometheus.Gauge
	artifactsTotal     prometheus.Counter
	sourceBytesTotal   prometheus.Counter
	outputBytesTotal   prometheus.Counter
	computeTimeMSTotal prometheus.Counter
	degradedTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariants_worker_runs_total",
			Help: "Total pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelvariants_worker_run_duration_seconds",
			Help:    "Wall time of each pipeline run including fetch and upload.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelvariants_worker_active_runs",
			Help: "Current number of runs holding a processing slot.",
		}),
		artifactsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariants_worker_artifacts_total",
			Help: "Total artifacts written by the worker.",
		}),
		sourceBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariants_worker_source_bytes_total",
			Help: "Total source bytes read by successful runs.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariants_worker_output_bytes_total",
			Help: "Total artifact bytes written by successful runs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelvariants_worker_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful runs.",
		}),
		degradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelvariants_pipeline_degraded_total",
			Help: "Pipeline steps that fell back instead of failing, by stage.",
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.artifactsTotal,
		m.sourceBytesTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
		m.degradedTotal,
	)
	return m
}

// ObserveDegraded matches pipeline.DegradedHook.
func (m *Metrics) ObserveDegraded(stage string, _ error) {
	m.degradedTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
