// Package metrics exposes Prometheus instrumentation for the dispatch
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dispatch engine's collectors. Each instance carries
// its own registry so tests and embedded uses never collide on global
// registration.
type Metrics struct {
	registry *prometheus.Registry

	JobsPlanned    prometheus.Counter
	JobsSucceeded  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsTimedOut   prometheus.Counter
	JobsInFlight   prometheus.Gauge
	JobDuration    prometheus.Histogram
	WorkersHealthy prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comfyfleet_jobs_planned_total",
			Help: "Number of jobs produced by the generation planner",
		}),
		JobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comfyfleet_jobs_succeeded_total",
			Help: "Number of jobs that reached COMPLETED",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comfyfleet_jobs_failed_total",
			Help: "Number of jobs that reached FAILED",
		}),
		JobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comfyfleet_jobs_timed_out_total",
			Help: "Number of jobs that exhausted their polling budget",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comfyfleet_jobs_in_flight",
			Help: "Jobs currently inside the bounded batch window",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "comfyfleet_job_duration_seconds",
			Help:    "Wall-clock duration of one job from submit to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		WorkersHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comfyfleet_workers_healthy",
			Help: "Workers that passed initialization health checks",
		}),
	}

	m.registry.MustRegister(
		m.JobsPlanned, m.JobsSucceeded, m.JobsFailed, m.JobsTimedOut,
		m.JobsInFlight, m.JobDuration, m.WorkersHealthy,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
