package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imgpreload"

// Metrics records settled outcomes and completed runs.
type Metrics struct {
	registry *prometheus.Registry

	outcomesTotal *prometheus.CounterVec
	cachedTotal   prometheus.Counter
	fetchDuration *prometheus.HistogramVec
	runsTotal     prometheus.Counter
	lastRunFailed prometheus.Gauge
	loadedImages  prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Settled preload attempts by status and failure reason",
			},
			[]string{"status", "reason"},
		),
		cachedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cached_total",
			Help:      "Attempts answered from the loaded set without a fetch",
		}),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time from attempt start to settlement",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed preload runs",
		}),
		lastRunFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed",
			Help:      "Failed images in the most recent run",
		}),
		loadedImages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_images",
			Help:      "Images in the loaded set",
		}),
	}

	m.registry.MustRegister(
		m.outcomesTotal,
		m.cachedTotal,
		m.fetchDuration,
		m.runsTotal,
		m.lastRunFailed,
		m.loadedImages,
	)
	return m
}

// ObserveOutcome records one settled attempt. reason is empty for
// fulfilled attempts.
func (m *Metrics) ObserveOutcome(status, reason string, cached bool, latency time.Duration) {
	m.outcomesTotal.WithLabelValues(status, reason).Inc()
	if cached {
		m.cachedTotal.Inc()
		return
	}
	m.fetchDuration.WithLabelValues(status).Observe(latency.Seconds())
}

// ObserveRun records a completed run and the current loaded set size.
func (m *Metrics) ObserveRun(failed, loaded int) {
	m.runsTotal.Inc()
	m.lastRunFailed.Set(float64(failed))
	m.loadedImages.Set(float64(loaded))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
