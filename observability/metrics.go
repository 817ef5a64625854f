// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the relay. A nil *Metrics or *Tracer is valid and records nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Change event outcomes recorded by RecordEvent.
const (
	EventMessage     = "message"
	EventIgnored     = "ignored"
	EventDecodeError = "decode_error"
)

// Route outcomes recorded by RecordRoute.
const (
	RouteDelivered = "delivered"
	RouteOffline   = "offline"
	RouteFailed    = "failed"
)

// Connection lifecycle events recorded by RecordConnection.
const (
	ConnOpened   = "opened"
	ConnEvicted  = "evicted"
	ConnClosed   = "closed"
	ConnRejected = "rejected"
)

// Metrics holds metric instruments for the relay.
type Metrics struct {
	EventsTotal          *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	QueueDropped         prometheus.Counter
	RoutedTotal          *prometheus.CounterVec
	RouteLatency         prometheus.Histogram
	Connections          prometheus.Gauge
	ConnectionEvents     *prometheus.CounterVec
	OutboundDropped      prometheus.Counter
	SubscriptionRestarts prometheus.Counter
	CheckpointErrors     prometheus.Counter
}

// NewMetrics creates relay metric instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_change_events_total",
			Help: "Change events received from the store, by outcome.",
		}, []string{"result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Decoded messages waiting for the router.",
		}),
		QueueDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_queue_dropped_total",
			Help: "Decoded messages dropped because the router queue was full.",
		}),
		RoutedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_routed_total",
			Help: "Messages handled by the router, by outcome.",
		}, []string{"outcome"}),
		RouteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_route_latency_seconds",
			Help:    "Time spent handing a message to the recipient connection.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Registered live connections.",
		}),
		ConnectionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connection_events_total",
			Help: "Connection lifecycle events.",
		}, []string{"event"}),
		OutboundDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_outbound_dropped_total",
			Help: "Frames dropped because a connection's outbound buffer was full.",
		}),
		SubscriptionRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_subscription_restarts_total",
			Help: "Change feed resubscriptions after a failure.",
		}),
		CheckpointErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_checkpoint_errors_total",
			Help: "Failed resume token loads or saves.",
		}),
	}
}

// RecordEvent counts a change event by outcome.
func (m *Metrics) RecordEvent(result string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(result).Inc()
}

// RecordRoute counts a routed message and observes its latency.
func (m *Metrics) RecordRoute(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.RoutedTotal.WithLabelValues(outcome).Inc()
	m.RouteLatency.Observe(latencySeconds)
}

// RecordConnection counts a lifecycle event and sets the live connection gauge.
func (m *Metrics) RecordConnection(event string, live int) {
	if m == nil {
		return
	}
	m.ConnectionEvents.WithLabelValues(event).Inc()
	m.Connections.Set(float64(live))
}

// SetQueueDepth reports the current router queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// IncQueueDropped counts a message dropped at the router queue.
func (m *Metrics) IncQueueDropped() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

// IncOutboundDropped counts a frame dropped at a connection buffer.
func (m *Metrics) IncOutboundDropped() {
	if m == nil {
		return
	}
	m.OutboundDropped.Inc()
}

// IncSubscriptionRestarts counts a change feed resubscription.
func (m *Metrics) IncSubscriptionRestarts() {
	if m == nil {
		return
	}
	m.SubscriptionRestarts.Inc()
}

// IncCheckpointErrors counts a failed checkpoint operation.
func (m *Metrics) IncCheckpointErrors() {
	if m == nil {
		return
	}
	m.CheckpointErrors.Inc()
}
