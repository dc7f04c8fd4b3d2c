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
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runResumesTotal *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	gateRejections  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "etd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "etd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "etd",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "etd",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total completed pipeline runs by terminal stage.",
		},
		[]string{"service", "terminal_stage"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "etd",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline run duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "terminal_stage"},
	)
	runResumesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "etd",
			Subsystem: "pipeline",
			Name:      "run_resumes_total",
			Help:      "Total runs resumed from a persisted checkpoint.",
		},
		[]string{"service", "resumed_from"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "etd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	gateRejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "etd",
			Subsystem: "pipeline",
			Name:      "quality_rejections_total",
			Help:      "Total documents rejected by the extraction quality gate.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		runsTotal,
		runDuration,
		runResumesTotal,
		stageDuration,
		gateRejections,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		runsTotal:       runsTotal,
		runDuration:     runDuration,
		runResumesTotal: runResumesTotal,
		stageDuration:   stageDuration,
		gateRejections:  gateRejections,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
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

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/history/"):
		return "/v1/history/{thread_id}"
	default:
		return path
	}
}

// PipelineObserver adapts the metric vectors to the run observer hooks of
// the analysis engine.
type PipelineObserver struct {
	service string
	metrics *HTTPServerMetrics
}

func (m *HTTPServerMetrics) PipelineObserver(service string) *PipelineObserver {
	return &PipelineObserver{service: service, metrics: m}
}

func (o *PipelineObserver) StageExecuted(stage string, duration time.Duration) {
	o.metrics.stageDuration.WithLabelValues(o.service, stage).Observe(duration.Seconds())
}

func (o *PipelineObserver) RunFinished(terminalStage string, duration time.Duration) {
	if terminalStage == "" {
		terminalStage = "unknown"
	}
	o.metrics.runsTotal.WithLabelValues(o.service, terminalStage).Inc()
	o.metrics.runDuration.WithLabelValues(o.service, terminalStage).Observe(duration.Seconds())
}

func (o *PipelineObserver) RunResumed(checkpointStage string) {
	if checkpointStage == "" {
		checkpointStage = "unknown"
	}
	o.metrics.runResumesTotal.WithLabelValues(o.service, checkpointStage).Inc()
}

func (o *PipelineObserver) QualityRejected() {
	o.metrics.gateRejections.WithLabelValues(o.service).Inc()
}

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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
