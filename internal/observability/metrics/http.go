package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rateLimited     *prometheus.CounterVec

	rowsTotal       *prometheus.CounterVec
	chunkRows       *prometheus.HistogramVec
	sessionsTotal   *prometheus.CounterVec
	progressStreams prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qc",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rateLimited := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"service", "path"},
	)
	rowsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Order rows persisted through the upload endpoints by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	chunkRows := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qc",
			Subsystem: "import",
			Name:      "request_rows",
			Help:      "Rows per upload request.",
			Buckets:   []float64{10, 100, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"service", "endpoint"},
	)
	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qc",
			Subsystem: "import",
			Name:      "sessions_total",
			Help:      "Upload session transitions by event.",
		},
		[]string{"service", "event"},
	)
	progressStreams := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qc",
			Subsystem: "import",
			Name:      "progress_streams",
			Help:      "Open server-sent progress streams.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rateLimited,
		rowsTotal,
		chunkRows,
		sessionsTotal,
		progressStreams,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		rateLimited:     rateLimited,
		rowsTotal:       rowsTotal,
		chunkRows:       chunkRows,
		sessionsTotal:   sessionsTotal,
		progressStreams: progressStreams,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// NormalizePath collapses upload ids so label cardinality stays bounded.
func NormalizePath(path string) string {
	const prefix = "/v1/orders/upload/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	switch {
	case rest == "init", rest == "chunk":
		return path
	case strings.HasSuffix(rest, "/events"):
		return prefix + "{uploadId}/events"
	default:
		return prefix + "{uploadId}"
	}
}

func (m *HTTPServerMetrics) RecordRateLimited(service, path string) {
	m.rateLimited.WithLabelValues(service, NormalizePath(path)).Inc()
}

// RecordRows observes the counters returned for one upload request.
func (m *HTTPServerMetrics) RecordRows(service, endpoint string, requested int, c domain.ChunkCounters) {
	m.chunkRows.WithLabelValues(service, endpoint).Observe(float64(requested))
	for outcome, n := range map[string]int{
		"created": c.Created,
		"updated": c.Updated,
		"skipped": c.Skipped,
		"fail":    c.Fail,
	} {
		if n > 0 {
			m.rowsTotal.WithLabelValues(service, endpoint, outcome).Add(float64(n))
		}
	}
}

func (m *HTTPServerMetrics) RecordSessionEvent(service, event string) {
	if event == "" {
		event = "unknown"
	}
	m.sessionsTotal.WithLabelValues(service, event).Inc()
}

func (m *HTTPServerMetrics) StreamOpened() { m.progressStreams.Inc() }
func (m *HTTPServerMetrics) StreamClosed() { m.progressStreams.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
