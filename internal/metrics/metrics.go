// Package metrics defines the Prometheus instruments of a directory node.
//
// Instruments are registered on the registry passed to New, so several
// nodes can run in one process (tests do this) without clashing on the
// global registry. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "thingdir"

// Metrics groups every instrument a node records.
type Metrics struct {
	// requests counts HTTP requests.
	// Labels: method, route (gin full path), status (HTTP code)
	requests *prometheus.CounterVec

	// requestDuration measures HTTP handler latency.
	// Labels: method, route
	requestDuration *prometheus.HistogramVec

	// routes counts routing decisions.
	// Labels: op, kind (local, remote, none)
	routes *prometheus.CounterVec

	// fanout counts per-child fan-out calls.
	// Labels: endpoint, outcome (ok, error, skipped)
	fanout *prometheus.CounterVec

	// propagations counts upward side-effect calls.
	// Labels: kind (index_add, index_remove, push_up, delete_up), outcome (ok, error)
	propagations *prometheus.CounterVec

	// opErrors counts failed directory operations.
	// Labels: op, kind (validation, routing, not_found, remote_call, storage)
	opErrors *prometheus.CounterVec

	// indexLocations tracks aggregation index entry sizes.
	// Labels: type
	indexLocations *prometheus.GaugeVec

	// neighborUp is 1 while a neighbor answers health probes.
	// Labels: neighbor, role
	neighborUp *prometheus.GaugeVec
}

// New creates the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by operation and kind",
		}, []string{"op", "kind"}),
		fanout: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "child_calls_total",
			Help:      "Fan-out child calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		propagations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagate",
			Name:      "calls_total",
			Help:      "Upward propagation calls by kind and outcome",
		}, []string{"kind", "outcome"}),
		opErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "errors_total",
			Help:      "Failed directory operations by operation and error kind",
		}, []string{"op", "kind"}),
		indexLocations: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "locations",
			Help:      "Locations recorded in the aggregation index per type",
		}, []string{"type"}),
		neighborUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "neighbor_up",
			Help:      "1 if the neighbor answered its last health probe",
		}, []string{"neighbor", "role"}),
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordRoute records a routing decision.
func (m *Metrics) RecordRoute(op, kind string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(op, kind).Inc()
}

// RecordFanout records the outcome of one child call.
func (m *Metrics) RecordFanout(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.fanout.WithLabelValues(endpoint, outcome).Inc()
}

// RecordPropagation records an upward propagation attempt.
func (m *Metrics) RecordPropagation(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.propagations.WithLabelValues(kind, outcome).Inc()
}

// RecordOpError records a failed operation.
func (m *Metrics) RecordOpError(op, kind string) {
	if m == nil {
		return
	}
	m.opErrors.WithLabelValues(op, kind).Inc()
}

// SetIndexLocations publishes the size of one index entry.
func (m *Metrics) SetIndexLocations(thingType string, n int) {
	if m == nil {
		return
	}
	if n == 0 {
		m.indexLocations.DeleteLabelValues(thingType)
		return
	}
	m.indexLocations.WithLabelValues(thingType).Set(float64(n))
}

// SetNeighborUp publishes a neighbor's health.
func (m *Metrics) SetNeighborUp(neighbor, role string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.neighborUp.WithLabelValues(neighbor, role).Set(v)
}
