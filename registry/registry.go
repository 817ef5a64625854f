// Package registry maps a user identity to the single live connection the
// relay delivers to.
//
// At most one connection is registered per identity. Registering a second
// connection for the same identity replaces the first and closes it, so a
// user who reconnects never keeps a half-dead socket behind.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/assistly/relay/observability"
)

// Conn is a live client connection as seen by the registry and the router.
type Conn interface {
	// ID uniquely identifies the connection for logs and diagnostics.
	ID() string

	// Identity is the user the connection was opened for.
	Identity() string

	// Send queues one text frame for delivery.
	Send(ctx context.Context, frame []byte) error

	// Close tears the connection down. It must be safe to call repeatedly.
	Close() error
}

// Registry is a concurrency-safe identity to connection map.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an empty registry. A nil logger falls back to slog.Default and
// a nil metrics records nothing.
func New(logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[string]Conn),
		logger:  logger,
		metrics: metrics,
	}
}

// Register installs conn as the connection for identity. A previously
// registered connection for the same identity is closed after it has been
// replaced. Registering the connection that is already installed is a no-op.
func (r *Registry) Register(identity string, conn Conn) {
	r.mu.Lock()
	prev, had := r.conns[identity]
	if had && prev == conn {
		r.mu.Unlock()
		return
	}
	r.conns[identity] = conn
	live := len(r.conns)
	r.mu.Unlock()

	r.metrics.RecordConnection(observability.ConnOpened, live)

	if had {
		r.metrics.RecordConnection(observability.ConnEvicted, live)
		r.logger.Info("connection evicted",
			"identity", identity,
			"conn_id", prev.ID(),
			"replaced_by", conn.ID(),
		)
		if err := prev.Close(); err != nil {
			r.logger.Debug("close evicted connection", "conn_id", prev.ID(), "error", err)
		}
	}
}

// Unregister removes whatever connection is registered for identity. It is a
// no-op when none is. The connection itself is not closed.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	_, had := r.conns[identity]
	delete(r.conns, identity)
	live := len(r.conns)
	r.mu.Unlock()

	if had {
		r.metrics.RecordConnection(observability.ConnClosed, live)
	}
}

// Remove unregisters identity only while conn is still its registered
// connection, and reports whether it did. A connection that was already
// replaced never removes its successor.
func (r *Registry) Remove(identity string, conn Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[identity]
	if !ok || cur != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, identity)
	live := len(r.conns)
	r.mu.Unlock()

	r.metrics.RecordConnection(observability.ConnClosed, live)
	return true
}

// Lookup returns the connection registered for identity.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[identity]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll empties the registry and closes every connection it held.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for identity, c := range conns {
		if err := c.Close(); err != nil {
			r.logger.Debug("close connection", "identity", identity, "conn_id", c.ID(), "error", err)
		}
	}
	if len(conns) > 0 {
		r.metrics.RecordConnection(observability.ConnClosed, 0)
	}
}
