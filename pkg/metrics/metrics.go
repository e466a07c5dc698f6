package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventsReceived counts inbound push events by wire name
var EventsReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vendorpulse_events_received_total",
		Help: "Total number of push events received from the order socket",
	},
	[]string{"event"},
)

// EventsDropped counts inbound events that were logged and discarded
var EventsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vendorpulse_events_dropped_total",
		Help: "Push events discarded by the normalizer or the intake queue",
	},
	[]string{"reason"},
)

// Intake queue metrics
var (
	QueueUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendorpulse_queue_upserts_total",
			Help: "Order upserts by result (inserted, updated, suppressed_resolved)",
		},
		[]string{"result"},
	)

	QueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vendorpulse_queue_size",
			Help: "Number of orders awaiting a vendor decision",
		},
	)
)

// Decisions counts confirm/reject outcomes by order kind
var Decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vendorpulse_decisions_total",
		Help: "Vendor decisions by action, order kind and outcome",
	},
	[]string{"action", "kind", "outcome"},
)

// DecisionLatency records backend round-trip time for decision calls
var DecisionLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "vendorpulse_decision_latency_seconds",
		Help:    "Latency of confirm/reject calls to the order backend",
		Buckets: prometheus.DefBuckets,
	},
)

// Connection metrics
var (
	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vendorpulse_reconnect_attempts_total",
			Help: "Total number of socket reconnection attempts",
		},
	)

	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vendorpulse_connection_state",
			Help: "1 for the current socket connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	HeartbeatsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vendorpulse_heartbeats_sent_total",
			Help: "Total number of keepalive heartbeats emitted",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsReceived, EventsDropped)
	prometheus.MustRegister(QueueUpserts, QueueSize)
	prometheus.MustRegister(Decisions, DecisionLatency)
	prometheus.MustRegister(ReconnectAttempts, ConnectionState, HeartbeatsSent)
}
