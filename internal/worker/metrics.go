package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry                *prometheus.Registry
	jobsTotal               *prometheus.CounterVec
	jobDuration             *prometheus.HistogramVec
	activeJobs              prometheus.Gauge
	eventsPublished         *prometheus.CounterVec
	artifactsPublishedTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subflow_worker_jobs_total",
			Help: "Total pipeline jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subflow_worker_job_duration_seconds",
			Help:    "End-to-end pipeline duration per job.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "subflow_worker_active_jobs",
			Help: "Current number of pipelines running in the worker.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subflow_worker_events_published_total",
			Help: "Total subscriber events published, by kind.",
		}, []string{"kind"}),
		artifactsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subflow_worker_artifacts_published_total",
			Help: "Total rendered videos uploaded to object storage.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.eventsPublished,
		m.artifactsPublishedTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
