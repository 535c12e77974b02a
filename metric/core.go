// Package metric provides the platform-level Prometheus metrics for the
// state bus: bus traffic, delta reconciliation outcomes, snapshot fetches,
// transport health, and gateway client activity.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delta outcome label values used by DeltasTotal.
const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
	OutcomeGap     = "gap"
)

// Metrics contains all platform-level metrics (not application-specific)
type Metrics struct {
	// Bus metrics
	PublishesTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	ActiveProviders    prometheus.Gauge
	Subscriptions      prometheus.Gauge

	// Sync metrics
	DeltasTotal      *prometheus.CounterVec
	SnapshotFetches  *prometheus.CounterVec
	ApplyDuration    prometheus.Histogram
	TrackedResources prometheus.Gauge

	// Transport metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter

	// Gateway metrics
	GatewayClients       prometheus.Gauge
	GatewayFramesSent    prometheus.Counter
	GatewayFramesDropped prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "bus",
				Name:      "publishes_total",
				Help:      "Total number of values published to the bus",
			},
			[]string{"path"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "bus",
				Name:      "notifications_total",
				Help:      "Total number of subscriber notifications delivered",
			},
			[]string{"path"},
		),

		ActiveProviders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "statebus",
				Subsystem: "bus",
				Name:      "active_providers",
				Help:      "Number of providers currently active (activation count > 0)",
			},
		),

		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "statebus",
				Subsystem: "bus",
				Name:      "subscriptions",
				Help:      "Number of live bus subscriptions",
			},
		),

		DeltasTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "sync",
				Name:      "deltas_total",
				Help:      "Deltas handled by outcome (applied, stale, gap)",
			},
			[]string{"resource", "outcome"},
		),

		SnapshotFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "sync",
				Name:      "snapshot_fetches_total",
				Help:      "Snapshot fetches triggered by version gaps, by result",
			},
			[]string{"resource", "result"},
		),

		ApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "statebus",
				Subsystem: "sync",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying a delta to a versioned state",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),

		TrackedResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "statebus",
				Subsystem: "sync",
				Name:      "tracked_resources",
				Help:      "Resource keys with a tracked version",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "statebus",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		GatewayClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "statebus",
				Subsystem: "gateway",
				Name:      "clients",
				Help:      "Connected WebSocket clients",
			},
		),

		GatewayFramesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "gateway",
				Name:      "frames_sent_total",
				Help:      "State frames sent to WebSocket clients",
			},
		),

		GatewayFramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "statebus",
				Subsystem: "gateway",
				Name:      "frames_dropped_total",
				Help:      "State frames dropped by per-client rate limiting or slow clients",
			},
		),
	}
}
