package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	pruneTotal        *prometheus.CounterVec
	pruneDuration     *prometheus.HistogramVec
	pruneInFlight     prometheus.Gauge
	checkpointsPruned *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	pruneTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "etd",
			Subsystem: "worker",
			Name:      "thread_prune_total",
			Help:      "Total completion events handled by status.",
		},
		[]string{"service", "status"},
	)
	pruneDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "etd",
			Subsystem: "worker",
			Name:      "thread_prune_duration_seconds",
			Help:      "Checkpoint pruning duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	pruneInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "etd",
			Subsystem: "worker",
			Name:      "thread_prune_in_flight",
			Help:      "Number of in-flight pruning tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	checkpointsPruned := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "etd",
			Subsystem: "worker",
			Name:      "checkpoints_pruned_total",
			Help:      "Total checkpoint rows deleted by pruning.",
		},
		[]string{"service"},
	)

	registry.MustRegister(pruneTotal, pruneDuration, pruneInFlight, checkpointsPruned)

	return &WorkerMetrics{
		registry:          registry,
		pruneTotal:        pruneTotal,
		pruneDuration:     pruneDuration,
		pruneInFlight:     pruneInFlight,
		checkpointsPruned: checkpointsPruned,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartPrune() {
	m.pruneInFlight.Inc()
}

func (m *WorkerMetrics) FinishPrune(service string, duration time.Duration, pruned int64, err error) {
	m.pruneInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.pruneTotal.WithLabelValues(service, status).Inc()
	m.pruneDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if pruned > 0 {
		m.checkpointsPruned.WithLabelValues(service).Add(float64(pruned))
	}
}
