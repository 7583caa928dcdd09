// Package metrics holds the Prometheus instrumentation of the pipeline.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "paper"
	maxLabelLen = 64
)

// sanitizeLabel keeps label values short and free of spaces.
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics is the set of pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	orders         *prometheus.CounterVec
	sections       *prometheus.CounterVec
	sectionLatency prometheus.Histogram
	rateLimited    prometheus.Counter
	refunds        *prometheus.CounterVec
	inflightCalls  prometheus.Gauge
	runningLoops   prometheus.Gauge
	intakeSessions prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"status"}),
		sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "sections_total",
			Help:      "Generated sections by outcome.",
		}, []string{"outcome"}),
		sectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "section_duration_seconds",
			Help:      "Time to generate one section, including the wait for a slot.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rate_limited_total",
			Help:      "Order attempts rejected by the per-user rate limit.",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Refund attempts by result.",
		}, []string{"result"}),
		inflightCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "inflight_calls",
			Help:      "Provider calls currently holding a concurrency slot.",
		}),
		runningLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "reconciliation_loops",
			Help:      "Payment reconciliation loops currently running.",
		}),
		intakeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "sessions",
			Help:      "Open intake dialogues.",
		}),
	}

	m.registry.MustRegister(
		m.orders,
		m.sections,
		m.sectionLatency,
		m.rateLimited,
		m.refunds,
		m.inflightCalls,
		m.runningLoops,
		m.intakeSessions,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OrderTransition counts an order reaching status.
func (m *Metrics) OrderTransition(status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(sanitizeLabel(status)).Inc()
}

// Section records one finished section.
func (m *Metrics) Section(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.sections.WithLabelValues(outcome).Inc()
	m.sectionLatency.Observe(d.Seconds())
}

// RateLimited counts a rejected order attempt.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Refund counts a refund attempt.
func (m *Metrics) Refund(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.refunds.WithLabelValues(result).Inc()
}

// SetInflightCalls reports slots in use.
func (m *Metrics) SetInflightCalls(n int) {
	if m == nil {
		return
	}
	m.inflightCalls.Set(float64(n))
}

// SetRunningLoops reports active reconciliation loops.
func (m *Metrics) SetRunningLoops(n int64) {
	if m == nil {
		return
	}
	m.runningLoops.Set(float64(n))
}

// SetIntakeSessions reports open dialogues.
func (m *Metrics) SetIntakeSessions(n int) {
	if m == nil {
		return
	}
	m.intakeSessions.Set(float64(n))
}
