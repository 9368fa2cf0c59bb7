package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	failuresTotal        *prometheus.CounterVec
	renditionsTotal      *prometheus.CounterVec
	operationsTotal      *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
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
			Name: "pixelshape_worker_jobs_total",
			Help: "Worker job attempts by source type and outcome.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelshape_worker_job_duration_seconds",
			Help:    "Processing duration of each worker job attempt.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelshape_worker_active_jobs",
			Help: "Jobs currently holding a processing slot.",
		}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelshape_worker_failures_total",
			Help: "Failed job attempts by kind (permanent or transient).",
		}, []string{"kind"}),
		renditionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelshape_worker_renditions_total",
			Help: "Renditions emitted by output format.",
		}, []string{"format"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelshape_worker_operations_total",
			Help: "Transform operations applied in successful jobs, by action.",
		}, []string{"action"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelshape_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelshape_usage_pixels_processed_total",
			Help: "Output pixels produced across successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelshape_usage_bytes_saved_total",
			Help: "Bytes saved versus the source across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelshape_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.failuresTotal,
		m.renditionsTotal,
		m.operationsTotal,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
