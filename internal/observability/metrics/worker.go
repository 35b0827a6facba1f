package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobTotal        *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobInFlight     prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	sessionsExpired *prometheus.CounterVec
	sweepErrors     *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "worker",
			Name:      "import_jobs_total",
			Help:      "Total processed file-import jobs by status.",
		},
		[]string{"service", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qc",
			Subsystem: "worker",
			Name:      "import_job_duration_seconds",
			Help:      "File-import job duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qc",
			Subsystem: "worker",
			Name:      "import_jobs_in_flight",
			Help:      "Number of in-flight file-import jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qc",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between import submission and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	sessionsExpired := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "worker",
			Name:      "sessions_expired_total",
			Help:      "Upload sessions closed by the sweeper.",
		},
		[]string{"service"},
	)
	sweepErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "worker",
			Name:      "session_sweep_errors_total",
			Help:      "Failed sweeper runs.",
		},
		[]string{"service"},
	)

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, queueLag, sessionsExpired, sweepErrors)

	return &WorkerMetrics{
		registry:        registry,
		jobTotal:        jobTotal,
		jobDuration:     jobDuration,
		jobInFlight:     jobInFlight,
		queueLag:        queueLag,
		sessionsExpired: sessionsExpired,
		sweepErrors:     sweepErrors,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service string, duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobTotal.WithLabelValues(service, status).Inc()
	m.jobDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordSweep(service string, expired int64, err error) {
	if err != nil {
		m.sweepErrors.WithLabelValues(service).Inc()
		return
	}
	if expired > 0 {
		m.sessionsExpired.WithLabelValues(service).Add(float64(expired))
	}
}
