// Package metrics defines the Prometheus collectors exported by pingd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pingd"

// Metrics holds every pingd collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal   prometheus.Counter
	ActiveConnections  prometheus.Gauge
	RejectedTotal      prometheus.Counter
	RequestsTotal      *prometheus.CounterVec
	ProtocolErrors     *prometheus.CounterVec
	ConnectionDuration prometheus.Histogram

	RosterPolls        *prometheus.CounterVec
	RosterBreakerState prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted TCP connections",
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open TCP connections",
		}),

		RejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections closed immediately because the connection cap was reached",
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Answered requests by kind",
		}, []string{"kind"}),

		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed for a protocol error, by reason",
		}, []string{"reason"}),

		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of TCP connections in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		RosterPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_polls_total",
			Help:      "Remote roster polls by result",
		}, []string{"result"}),

		RosterBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_breaker_state",
			Help:      "Roster poller circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}
}

// CacheStatsFunc reports cumulative status cache hits and misses.
type CacheStatsFunc func() (hits, misses uint64)

// WatchCache exports the status cache counters. Call it at most once.
func (m *Metrics) WatchCache(stats CacheStatsFunc) {
	factory := promauto.With(m.registry)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_cache_hits_total",
		Help:      "Status requests answered from the cache",
	}, func() float64 {
		hits, _ := stats()
		return float64(hits)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_cache_misses_total",
		Help:      "Status requests that rebuilt the payload",
	}, func() float64 {
		_, misses := stats()
		return float64(misses)
	})
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
