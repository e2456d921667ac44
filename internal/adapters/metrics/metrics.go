// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lorekeeper"

// Entity outcomes for the delete_entities_total counter.
const (
	OutcomeDeleted = "deleted"
	OutcomeFailed  = "failed"
)

// Recorder owns every collector and the registry they are registered with.
// Safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	inFlight        prometheus.Gauge
	entities        *prometheus.CounterVec
	gateRejections  prometheus.Counter
	resolution      prometheus.Histogram
	queryDuration   *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on registry. Pass prometheus.NewRegistry() in tests
// so each test sees isolated values.
// PRE: registry is non-nil and has no lorekeeper collectors yet
// POST: all collectors are registered
func New(registry *prometheus.Registry) *Recorder {
	f := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_operations_total",
			Help:      "Delete operations that reached a terminal status.",
		}, []string{"status"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delete_operations_in_flight",
			Help:      "Delete operations currently holding a gate slot.",
		}),
		entities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_entities_total",
			Help:      "Entities processed by delete workers.",
		}, []string{"outcome"}),
		gateRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_gate_rejections_total",
			Help:      "Delete requests rejected because the concurrency gate was full.",
		}),
		resolution: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delete_resolution_seconds",
			Help:      "Time spent resolving the set of entities to delete.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_seconds",
			Help:      "Database statement latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveQuery records one database statement.
func (r *Recorder) ObserveQuery(op string, d time.Duration) {
	r.queryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(method string, status int, d time.Duration) {
	r.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// OperationStarted marks a gate slot as taken.
func (r *Recorder) OperationStarted() {
	r.inFlight.Inc()
}

// OperationFinished releases the in-flight slot and counts the terminal status.
func (r *Recorder) OperationFinished(status string) {
	r.inFlight.Dec()
	r.operations.WithLabelValues(status).Inc()
}

// EntityProcessed counts one entity outcome (OutcomeDeleted or OutcomeFailed).
func (r *Recorder) EntityProcessed(outcome string) {
	r.entities.WithLabelValues(outcome).Inc()
}

// GateRejected counts a request turned away by the gate.
func (r *Recorder) GateRejected() {
	r.gateRejections.Inc()
}

// ObserveResolution records how long cascade resolution took.
func (r *Recorder) ObserveResolution(d time.Duration) {
	r.resolution.Observe(d.Seconds())
}
