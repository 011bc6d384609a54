// Package metrics exposes Prometheus collectors for the HTTP gate and the invitation lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	inFlight           prometheus.Gauge
	gateDecisions      *prometheus.CounterVec
	invitationOutcomes *prometheus.CounterVec
	rateLimitHits      *prometheus.CounterVec
}

// New registers all collectors plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachhub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coachhub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coachhub",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served",
		}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachhub",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Access decisions by kind and whether a session resolved",
		}, []string{"decision", "authenticated"}),
		invitationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachhub",
			Subsystem: "invitation",
			Name:      "outcomes_total",
			Help:      "Invitation lifecycle results by operation",
		}, []string{"op", "outcome"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachhub",
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"scope"}),
	}
	m.registry.MustRegister(
		m.requestTotal, m.requestLatency, m.inFlight, m.gateDecisions, m.invitationOutcomes, m.rateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHTTP records one finished request. route is the mux path template, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncInFlight and DecInFlight track concurrent requests.
func (m *Metrics) IncInFlight() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) DecInFlight() {
	if m != nil {
		m.inFlight.Dec()
	}
}

// GateDecision counts one access decision.
func (m *Metrics) GateDecision(decision string, authenticated bool) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision, strconv.FormatBool(authenticated)).Inc()
}

// InvitationOutcome counts one lifecycle result.
func (m *Metrics) InvitationOutcome(op, outcome string) {
	if m == nil {
		return
	}
	m.invitationOutcomes.WithLabelValues(op, outcome).Inc()
}

// RateLimited counts one rejected request.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(scope).Inc()
}
