package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/assistly/relay/id"
	"github.com/assistly/relay/observability"
	"github.com/assistly/relay/registry"
)

var _ registry.Conn = (*Socket)(nil)

// Defaults for SocketConfig.
const (
	DefaultSendBuffer   = 64
	DefaultPingInterval = 25 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// closeFrameTimeout bounds how long teardown waits to send the close frame.
const closeFrameTimeout = time.Second

// maxClientFrame bounds what a client may send. Clients only send control
// frames and the occasional keepalive.
const maxClientFrame = 4096

// OverflowPolicy decides what Send does when the outbound buffer is full.
type OverflowPolicy string

const (
	// OverflowClose closes the slow connection.
	OverflowClose OverflowPolicy = "close"
	// OverflowDropNewest discards the frame being sent.
	OverflowDropNewest OverflowPolicy = "drop-newest"
	// OverflowDropOldest discards the oldest buffered frame to make room.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// ParseOverflowPolicy validates a policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case OverflowClose, OverflowDropNewest, OverflowDropOldest:
		return p, nil
	case "":
		return OverflowClose, nil
	default:
		return "", fmt.Errorf("gateway: unknown overflow policy %q", s)
	}
}

// SocketState is the lifecycle state of a Socket.
type SocketState int32

const (
	StateConnecting SocketState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SocketConfig holds per-connection settings.
type SocketConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	Overflow     OverflowPolicy
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Overflow == "" {
		c.Overflow = OverflowClose
	}
	return c
}

// Socket is one client WebSocket connection. A reader goroutine discards
// client frames and watches liveness; a writer goroutine drains the
// outbound buffer and sends pings. Close may be called any number of times
// from any goroutine; the first call tears the connection down and runs
// the release hook exactly once.
type Socket struct {
	id          id.ID
	identity    string
	remoteAddr  string
	connectedAt time.Time

	ws      *websocket.Conn
	config  SocketConfig
	send    chan []byte
	dropMu  sync.Mutex
	state   atomic.Int32
	done    chan struct{}
	closed  chan struct{}
	once    sync.Once
	release func(*Socket)

	logger  *slog.Logger
	metrics *observability.Metrics
}

func newSocket(connID id.ID, identity string, ws *websocket.Conn, cfg SocketConfig, logger *slog.Logger, metrics *observability.Metrics) *Socket {
	cfg = cfg.withDefaults()
	return &Socket{
		id:          connID,
		identity:    identity,
		remoteAddr:  ws.RemoteAddr().String(),
		connectedAt: time.Now().UTC(),
		ws:          ws,
		config:      cfg,
		send:        make(chan []byte, cfg.SendBuffer),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
		logger:      logger.With("conn_id", connID.String(), "identity", identity),
		metrics:     metrics,
	}
}

// ID returns the connection ID in string form.
func (s *Socket) ID() string { return s.id.String() }

// ConnID returns the connection ID.
func (s *Socket) ConnID() id.ID { return s.id }

// Identity returns the user the connection belongs to.
func (s *Socket) Identity() string { return s.identity }

// RemoteAddr returns the client's network address.
func (s *Socket) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns when the handshake completed.
func (s *Socket) ConnectedAt() time.Time { return s.connectedAt }

// State returns the current lifecycle state.
func (s *Socket) State() SocketState { return SocketState(s.state.Load()) }

// Done is closed once the socket starts closing.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Closed is closed once the transport has been closed.
func (s *Socket) Closed() <-chan struct{} { return s.closed }

// Pending returns the number of buffered outbound frames.
func (s *Socket) Pending() int { return len(s.send) }

// open marks the socket Open and starts its reader and writer. The caller
// has already added both goroutines to wg.
func (s *Socket) open(wg *sync.WaitGroup) {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
}

// Send buffers frame for the writer. It never blocks on the network.
func (s *Socket) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.State() != StateOpen {
		return ErrSocketClosed
	}

	select {
	case s.send <- frame:
		return nil
	default:
	}

	switch s.config.Overflow {
	case OverflowDropNewest:
		s.metrics.IncOutboundDropped()
		s.logger.DebugContext(ctx, "outbound buffer full, frame dropped")
		return nil

	case OverflowDropOldest:
		s.dropMu.Lock()
		defer s.dropMu.Unlock()
		select {
		case <-s.send:
			s.metrics.IncOutboundDropped()
		default:
		}
		select {
		case s.send <- frame:
			return nil
		default:
			s.metrics.IncOutboundDropped()
			return nil
		}

	default:
		s.logger.WarnContext(ctx, "outbound buffer full, closing slow connection",
			"buffer", cap(s.send))
		s.closeWith(websocket.ClosePolicyViolation, "slow consumer")
		return ErrBufferFull
	}
}

// Close closes the connection with a normal closure.
func (s *Socket) Close() error {
	s.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// closeGoingAway closes the connection because the server is stopping.
func (s *Socket) closeGoingAway() {
	s.closeWith(websocket.CloseGoingAway, "server shutting down")
}

// closeWith stops the socket and releases it at once. The close frame and
// the transport close run in the background: the writer may hold the
// connection's write lock on a peer that stopped reading, and the caller,
// often the router, must not wait for it.
func (s *Socket) closeWith(code int, reason string) {
	s.once.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)
		if s.release != nil {
			s.release(s)
		}
		go s.teardown(code, reason)
	})
}

func (s *Socket) teardown(code int, reason string) {
	deadline := time.Now().Add(closeFrameTimeout)
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err := s.ws.Close(); err != nil {
		s.logger.Debug("close transport", "error", err)
	}

	s.state.Store(int32(StateClosed))
	close(s.closed)
	s.logger.Debug("connection closed", "code", code)
}

func (s *Socket) readLoop() {
	defer s.Close()

	s.ws.SetReadLimit(maxClientFrame)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	})

	for {
		if _, _, err := s.ws.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		// Client frames carry nothing the relay acts on.
		_ = s.ws.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	}
}

func (s *Socket) writeLoop() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case frame := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := s.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", "error", err)
				s.Close()
				return
			}
		}
	}
}
