// Package api provides the admin HTTP API for a running relay: health,
// counters and the live connection list.
//
// It is served separately from the WebSocket endpoint so it can stay on a
// private port.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/gateway"
	"github.com/assistly/relay/id"
)

// Stats is a point-in-time view of the relay.
type Stats struct {
	Connections   int         `json:"connections"`
	QueueDepth    int         `json:"queue_depth"`
	QueueCapacity int         `json:"queue_capacity"`
	QueueDropped  uint64      `json:"queue_dropped"`
	Subscription  feed.Status `json:"subscription"`
}

// Backend is the part of the relay the admin API reads and acts on.
type Backend interface {
	// Ping checks the store behind the change feed.
	Ping(ctx context.Context) error

	// Stats returns current counters.
	Stats() Stats

	// Connections lists live client connections.
	Connections() []gateway.SocketInfo

	// Disconnect closes the connection registered for identity and reports
	// whether there was one.
	Disconnect(identity string) bool

	// Socket describes a live connection by connection ID.
	Socket(connID id.ID) (gateway.SocketInfo, bool)

	// CloseSocket closes a live connection by connection ID and reports
	// whether it was live.
	CloseSocket(connID id.ID) bool
}

// Handler is the root HTTP handler for the admin API.
type Handler struct {
	backend Backend
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(b Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		backend: b,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.getHealth)
	h.mux.HandleFunc("GET /stats", h.getStats)

	// Connections
	h.mux.HandleFunc("GET /connections", h.listConnections)
	h.mux.HandleFunc("GET /connections/{identity}", h.getConnection)
	h.mux.HandleFunc("DELETE /connections/{identity}", h.disconnect)

	// Sockets by connection ID
	h.mux.HandleFunc("GET /sockets/{conn_id}", h.getSocket)
	h.mux.HandleFunc("DELETE /sockets/{conn_id}", h.closeSocket)
}

// Handle mounts an extra handler on the admin mux, e.g. a metrics exporter.
func (h *Handler) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
