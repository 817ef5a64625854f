package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.EventsTotal == nil {
		t.Fatal("EventsTotal should not be nil")
	}
	if m.RoutedTotal == nil {
		t.Fatal("RoutedTotal should not be nil")
	}
	if m.RouteLatency == nil {
		t.Fatal("RouteLatency should not be nil")
	}
	if m.Connections == nil {
		t.Fatal("Connections should not be nil")
	}
	if m.QueueDepth == nil {
		t.Fatal("QueueDepth should not be nil")
	}
}

func TestRecordRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRoute(RouteDelivered, 0.001)
	m.RecordRoute(RouteDelivered, 0.002)
	m.RecordRoute(RouteOffline, 0.0001)

	f := family(t, reg, "relay_messages_routed_total")
	if len(f.GetMetric()) != 2 { // delivered + offline
		t.Fatalf("expected 2 label combinations, got %d", len(f.GetMetric()))
	}

	h := family(t, reg, "relay_route_latency_seconds")
	if got := h.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Fatalf("expected 3 latency samples, got %d", got)
	}
}

func TestRecordConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordConnection(ConnOpened, 1)
	m.RecordConnection(ConnOpened, 2)
	m.RecordConnection(ConnClosed, 1)

	g := family(t, reg, "relay_connections")
	if val := g.GetMetric()[0].GetGauge().GetValue(); val != 1 {
		t.Fatalf("expected 1 live connection, got %f", val)
	}

	c := family(t, reg, "relay_connection_events_total")
	for _, metric := range c.GetMetric() {
		if metric.GetLabel()[0].GetValue() == ConnOpened && metric.GetCounter().GetValue() != 2 {
			t.Fatalf("expected 2 opened events, got %f", metric.GetCounter().GetValue())
		}
	}
}

func TestQueueGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetQueueDepth(42)
	m.IncQueueDropped()
	m.IncQueueDropped()

	if val := family(t, reg, "relay_queue_depth").GetMetric()[0].GetGauge().GetValue(); val != 42 {
		t.Fatalf("expected depth 42, got %f", val)
	}
	if val := family(t, reg, "relay_queue_dropped_total").GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Fatalf("expected 2 drops, got %f", val)
	}
}

func TestNilMetricsAndTracer(t *testing.T) {
	var m *Metrics
	m.RecordEvent(EventMessage)
	m.RecordRoute(RouteFailed, 1)
	m.RecordConnection(ConnEvicted, 0)
	m.SetQueueDepth(1)
	m.IncQueueDropped()
	m.IncOutboundDropped()
	m.IncSubscriptionRestarts()
	m.IncCheckpointErrors()

	var tr *Tracer
	_, span := tr.StartRouteSpan(context.Background(), "A", "X")
	EndRouteSpan(span, RouteFailed, errors.New("boom"))
}
