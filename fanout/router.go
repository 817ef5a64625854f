// Package fanout delivers decoded messages to the recipient's live
// connection.
//
// Delivery is fire-and-forget. A message for a recipient with no registered
// connection is dropped, and a failed send closes and unregisters the
// recipient's connection without retrying. Clients recover missed messages
// by reloading the conversation from the HTTP API.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/assistly/relay/message"
	"github.com/assistly/relay/observability"
	"github.com/assistly/relay/registry"
)

// Outcome is the result of routing one message.
type Outcome string

const (
	Delivered Outcome = observability.RouteDelivered
	Offline   Outcome = observability.RouteOffline
	Failed    Outcome = observability.RouteFailed
)

// DeliveryError describes a send that failed. It is logged, never returned
// to the watcher.
type DeliveryError struct {
	ReceiverID string
	ConnID     string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("fanout: deliver to %s (conn %s): %v", e.ReceiverID, e.ConnID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Config holds router dependencies.
type Config struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Router routes messages through a connection registry.
type Router struct {
	registry *registry.Registry
	config   Config
	logger   *slog.Logger
}

// NewRouter creates a router over reg.
func NewRouter(reg *registry.Registry, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: reg, config: cfg, logger: logger}
}

// Route hands msg to the receiver's connection, if any.
func (r *Router) Route(ctx context.Context, msg *message.Message) Outcome {
	start := time.Now()
	ctx, span := r.config.Tracer.StartRouteSpan(ctx, msg.ReceiverID, msg.ConversationID)

	outcome, err := r.route(ctx, msg)

	r.config.Metrics.RecordRoute(string(outcome), time.Since(start).Seconds())
	observability.EndRouteSpan(span, string(outcome), err)
	return outcome
}

func (r *Router) route(ctx context.Context, msg *message.Message) (Outcome, error) {
	conn, ok := r.registry.Lookup(msg.ReceiverID)
	if !ok {
		r.logger.DebugContext(ctx, "receiver offline, message dropped",
			"receiver_id", msg.ReceiverID,
			"conversation_id", msg.ConversationID,
		)
		return Offline, nil
	}

	frame, err := message.Encode(msg)
	if err != nil {
		r.logger.ErrorContext(ctx, "encode message", "receiver_id", msg.ReceiverID, "error", err)
		return Failed, err
	}

	if err := conn.Send(ctx, frame); err != nil {
		derr := &DeliveryError{ReceiverID: msg.ReceiverID, ConnID: conn.ID(), Err: err}
		r.registry.Remove(msg.ReceiverID, conn)
		if cerr := conn.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close failed connection", "conn_id", conn.ID(), "error", cerr)
		}
		r.logger.WarnContext(ctx, "delivery failed, connection closed", "error", derr)
		return Failed, derr
	}

	r.logger.DebugContext(ctx, "message delivered",
		"receiver_id", msg.ReceiverID,
		"conn_id", conn.ID(),
		"field", msg.Field,
	)
	return Delivered, nil
}
