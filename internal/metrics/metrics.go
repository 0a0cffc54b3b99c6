// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docgate"

// Metrics contains every collector the gateway reports.
type Metrics struct {
	Loads          *prometheus.CounterVec
	Stores         *prometheus.CounterVec
	OriginRequests *prometheus.CounterVec
	OutboxFlushes  *prometheus.CounterVec
	LoadDuration   prometheus.Histogram

	OriginCircuitBreaker prometheus.Gauge
	OutboxPending        prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loads_total",
				Help:      "Document loads by the source that produced the state (cache, draft, published, fresh)",
			},
			[]string{"source"},
		),

		Stores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stores_total",
				Help:      "Store hook calls by result (ok, outbox, failed)",
			},
			[]string{"result"},
		),

		OriginRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "origin_requests_total",
				Help:      "Origin page fetches by outcome (found, not_found, unavailable, malformed)",
			},
			[]string{"outcome"},
		),

		OutboxFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_flushes_total",
				Help:      "Outbox entries replayed into the cache by result (ok, stale, failed)",
			},
			[]string{"result"},
		),

		LoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_duration_seconds",
				Help:      "Time to resolve a document on the load hook",
				Buckets:   prometheus.DefBuckets,
			},
		),

		OriginCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "origin",
				Name:      "circuit_breaker",
				Help:      "Origin circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "pending",
				Help:      "Snapshots waiting in the outbox after the last flush pass",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Loads,
			m.Stores,
			m.OriginRequests,
			m.OutboxFlushes,
			m.LoadDuration,
			m.OriginCircuitBreaker,
			m.OutboxPending,
		)
	}
	return m
}
