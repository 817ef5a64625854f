// Package gateway accepts client WebSocket connections and manages their
// lifecycle.
//
// A client connects with GET <path>?token=<identity>. The handshake is
// rejected before the upgrade when the token is missing, when an optional
// Authenticator refuses it, or when the identity exceeds its handshake rate.
// An accepted connection is registered under its identity, replacing and
// closing any earlier connection for the same identity, and is removed from
// the registry exactly once when it closes.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/assistly/relay/id"
	"github.com/assistly/relay/observability"
	"github.com/assistly/relay/ratelimit"
	"github.com/assistly/relay/registry"
)

// TokenParam is the handshake query parameter carrying the client token.
const TokenParam = "token"

// Authenticator maps a handshake token to the identity the connection is
// registered under. Returning an error rejects the handshake.
type Authenticator func(ctx context.Context, token string) (identity string, err error)

// Config holds handler configuration.
type Config struct {
	Socket SocketConfig

	// HandshakeRate is the number of handshakes allowed per identity per
	// second. Zero means unlimited.
	HandshakeRate int

	// Authenticator resolves tokens. Nil uses the token as the identity.
	Authenticator Authenticator

	// CheckOrigin validates the Origin header. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	Metrics *observability.Metrics
}

// AllowOrigins returns a CheckOrigin func accepting requests whose Origin
// header matches one of origins, compared case-insensitively. Requests
// without an Origin header are not from browsers and are accepted.
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

// SocketInfo describes a live connection.
type SocketInfo struct {
	ConnID      id.ID     `json:"conn_id"`
	Identity    string    `json:"identity"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	State       string    `json:"state"`
	Pending     int       `json:"pending"`
}

// Handler is the WebSocket handshake endpoint.
type Handler struct {
	registry *registry.Registry
	config   Config
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	sockets  map[*Socket]struct{}
	stopping bool
	wg       sync.WaitGroup
}

// NewHandler creates a handshake handler registering connections in reg.
func NewHandler(reg *registry.Registry, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Socket = cfg.Socket.withDefaults()

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		registry: reg,
		config:   cfg,
		limiter:  ratelimit.New(cfg.HandshakeRate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      checkOrigin,
		},
		logger:  logger,
		sockets: make(map[*Socket]struct{}),
	}
}

// ServeHTTP performs the handshake and upgrades the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, herr := h.authorize(ctx, r)
	if herr != nil {
		h.reject(ctx, w, r, herr)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.config.Metrics.RecordConnection(observability.ConnRejected, h.registry.Len())
		h.logger.DebugContext(ctx, "websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	s := newSocket(id.NewConnID(), identity, ws, h.config.Socket, h.logger, h.config.Metrics)
	s.release = h.release

	if !h.track(s) {
		s.closeGoingAway()
		return
	}
	s.open(&h.wg)

	h.registry.Register(identity, s)
	if s.State() != StateOpen {
		// Closed before it was registered; its release found nothing to remove.
		h.registry.Remove(identity, s)
		return
	}

	h.logger.InfoContext(ctx, "websocket connected",
		"identity", identity,
		"conn_id", s.ID(),
		"remote_addr", s.RemoteAddr(),
	)
}

func (h *Handler) authorize(ctx context.Context, r *http.Request) (string, *HandshakeError) {
	h.mu.Lock()
	stopping := h.stopping
	h.mu.Unlock()
	if stopping {
		return "", handshakeError(ErrShuttingDown)
	}

	token := r.URL.Query().Get(TokenParam)
	if token == "" {
		return "", handshakeError(ErrMissingToken)
	}

	identity := token
	if h.config.Authenticator != nil {
		resolved, err := h.config.Authenticator(ctx, token)
		if err != nil || resolved == "" {
			h.logger.DebugContext(ctx, "authenticator rejected token", "error", err)
			return "", handshakeError(ErrUnauthorized)
		}
		identity = resolved
	}

	if !h.limiter.Allow(identity) {
		return "", handshakeError(ErrRateLimited)
	}
	return identity, nil
}

func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, r *http.Request, herr *HandshakeError) {
	h.config.Metrics.RecordConnection(observability.ConnRejected, h.registry.Len())
	h.logger.InfoContext(ctx, "handshake rejected",
		"remote_addr", r.RemoteAddr,
		"status", herr.Status,
		"error", herr.Err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.Status)
	json.NewEncoder(w).Encode(map[string]string{"error": herr.Err.Error()}) //nolint:errcheck // best effort
}

func (h *Handler) track(s *Socket) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return false
	}
	h.sockets[s] = struct{}{}
	h.wg.Add(2) // reader and writer
	return true
}

// release runs once per socket, when it closes.
func (h *Handler) release(s *Socket) {
	h.registry.Remove(s.Identity(), s)

	h.mu.Lock()
	delete(h.sockets, s)
	h.mu.Unlock()

	h.logger.Info("websocket disconnected", "identity", s.Identity(), "conn_id", s.ID())
}

// Sockets returns every live connection, oldest first.
func (h *Handler) Sockets() []SocketInfo {
	h.mu.Lock()
	out := make([]SocketInfo, 0, len(h.sockets))
	for s := range h.sockets {
		out = append(out, s.info())
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Socket describes the live connection with the given ID.
func (h *Handler) Socket(connID id.ID) (SocketInfo, bool) {
	s := h.find(connID)
	if s == nil {
		return SocketInfo{}, false
	}
	return s.info(), true
}

// CloseSocket closes the connection with the given ID with a normal
// closure frame. It reports whether the connection was live.
func (h *Handler) CloseSocket(connID id.ID) bool {
	s := h.find(connID)
	if s == nil {
		return false
	}
	s.closeWith(websocket.CloseNormalClosure, "closed by operator")
	return true
}

func (h *Handler) find(connID id.ID) *Socket {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sockets {
		if s.ConnID() == connID {
			return s
		}
	}
	return nil
}

func (s *Socket) info() SocketInfo {
	return SocketInfo{
		ConnID:      s.ConnID(),
		Identity:    s.Identity(),
		RemoteAddr:  s.RemoteAddr(),
		ConnectedAt: s.ConnectedAt(),
		State:       s.State().String(),
		Pending:     s.Pending(),
	}
}

// PruneLimiter forgets handshake buckets idle for longer than idle.
func (h *Handler) PruneLimiter(idle time.Duration) int {
	return h.limiter.Prune(idle)
}

// Shutdown rejects new handshakes, closes every connection with a
// going-away frame and waits for connection goroutines to exit or ctx to
// end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.stopping = true
	sockets := make([]*Socket, 0, len(h.sockets))
	for s := range h.sockets {
		sockets = append(sockets, s)
	}
	h.mu.Unlock()

	for _, s := range sockets {
		s.closeGoingAway()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
