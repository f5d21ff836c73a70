// SPDX-License-Identifier: MIT

// Package metrics holds every process-wide Prometheus collector, all
// registered via promauto at package init so any importer gets a
// correctly-labeled collector without a separate registration step.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequestsTotal counts signal-cache lookups by outcome.
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novywave_signal_cache_requests_total",
		Help: "Total signal cache lookups by key kind and outcome.",
	}, []string{"kind", "outcome"})

	// CacheActiveRequests tracks in-flight parser requests currently
	// held in the dedup guard.
	CacheActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "novywave_signal_cache_active_requests",
		Help: "Number of in-flight parser requests tracked for deduplication.",
	})

	// CacheEvictionsTotal counts transition-series evictions by reason.
	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novywave_signal_cache_evictions_total",
		Help: "Total signal cache key evictions by reason.",
	}, []string{"reason"})

	// ParserRequestDuration observes parser call latency by operation.
	ParserRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "novywave_parser_request_duration_seconds",
		Help:    "Parser gateway call latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// RelayDropsTotal counts reactive.Relay sends dropped due to a full
	// subscriber buffer, mirroring the in-memory bus backpressure metric
	// this was adapted from.
	RelayDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novywave_relay_drop_total",
		Help: "Total number of reactive relay sends dropped due to backpressure.",
	}, []string{"relay"})

	// CanvasFrameDuration observes renderer frame build time.
	CanvasFrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "novywave_canvas_frame_duration_seconds",
		Help:    "Time to build one canvas draw-command frame.",
		Buckets: prometheus.DefBuckets,
	})

	// ConfigWritesTotal counts session config persistence writes by
	// outcome.
	ConfigWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novywave_config_writes_total",
		Help: "Total session config writes by outcome.",
	}, []string{"outcome"})

	// CircuitBreakerStatus reports each named breaker's current state as
	// an integer (closed=0, open=1, half-open=2) for dashboarding.
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "novywave_circuit_breaker_status",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open) by name.",
	}, []string{"name"})

	// CircuitBreakerTripsTotal counts transitions into the open state by
	// breaker name and reason.
	CircuitBreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novywave_circuit_breaker_trips_total",
		Help: "Total circuit breaker trips into the open state.",
	}, []string{"name", "reason"})
)

// SetCircuitBreakerStatus records a breaker's numeric state.
func SetCircuitBreakerStatus(name string, status int) {
	CircuitBreakerStatus.WithLabelValues(name).Set(float64(status))
}

// RecordCircuitBreakerTrip counts one breaker trip into the open state.
func RecordCircuitBreakerTrip(name, reason string) {
	CircuitBreakerTripsTotal.WithLabelValues(name, reason).Inc()
}

// IncRelayDrop records a dropped relay send for the given relay name.
func IncRelayDrop(relay string) {
	if relay == "" {
		relay = "unknown"
	}
	RelayDropsTotal.WithLabelValues(relay).Inc()
}
