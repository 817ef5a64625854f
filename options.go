package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/assistly/relay/checkpoint"
	"github.com/assistly/relay/fanout"
	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/gateway"
	"github.com/assistly/relay/observability"
	"github.com/assistly/relay/registry"
	"github.com/assistly/relay/store"
)

// Relay is the root message relay.
type Relay struct {
	config      Config
	store       store.Store
	source      feed.Source
	checkpoint  checkpoint.Store
	auth        gateway.Authenticator
	checkOrigin func(*http.Request) bool
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer

	registry *registry.Registry
	queue    *feed.Queue
	watcher  *feed.Watcher
	router   *fanout.Router
	gateway  *gateway.Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Option configures a Relay instance.
type Option func(*Relay) error

// New creates a new Relay with the given options.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.source == nil {
		return nil, ErrNoSource
	}
	if err := r.config.validate(); err != nil {
		return nil, err
	}
	r.wireServices()
	return r, nil
}

// WithStore sets the backend. It serves as the change feed, the
// checkpoint store and the health check, unless WithSource or
// WithCheckpoint override a part of it.
func WithStore(s store.Store) Option {
	return func(r *Relay) error {
		r.store = s
		if r.source == nil {
			r.source = s
		}
		if r.checkpoint == nil {
			r.checkpoint = s
		}
		return nil
	}
}

// WithSource sets the change feed.
func WithSource(src feed.Source) Option {
	return func(r *Relay) error {
		r.source = src
		return nil
	}
}

// WithCheckpoint sets where resume tokens are persisted.
func WithCheckpoint(cp checkpoint.Store) Option {
	return func(r *Relay) error {
		r.checkpoint = cp
		return nil
	}
}

// WithLogger sets the structured logger for the Relay instance.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}

// WithMetrics sets the Prometheus metrics. Without it nothing is recorded.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) error {
		r.metrics = m
		return nil
	}
}

// WithTracer sets the tracer used for route spans.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Relay) error {
		r.tracer = t
		return nil
	}
}

// WithQueueSize sets the capacity of the message queue.
func WithQueueSize(n int) Option {
	return func(r *Relay) error {
		r.config.QueueSize = n
		return nil
	}
}

// WithSendBuffer sets the number of frames buffered per connection.
func WithSendBuffer(n int) Option {
	return func(r *Relay) error {
		r.config.SendBuffer = n
		return nil
	}
}

// WithOverflowPolicy sets what happens when a connection's buffer is full.
func WithOverflowPolicy(p gateway.OverflowPolicy) Option {
	return func(r *Relay) error {
		r.config.Overflow = p
		return nil
	}
}

// WithPingInterval sets how often connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.PingInterval = d
		return nil
	}
}

// WithIdleTimeout sets how long a silent connection is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.IdleTimeout = d
		return nil
	}
}

// WithMaxSubscribeRetries sets the number of consecutive failed
// subscriptions before Run gives up.
func WithMaxSubscribeRetries(n int) Option {
	return func(r *Relay) error {
		r.config.MaxSubscribeRetries = n
		return nil
	}
}

// WithBackoff sets the resubscription backoff.
func WithBackoff(b feed.BackoffConfig) Option {
	return func(r *Relay) error {
		r.config.Backoff = b
		return nil
	}
}

// WithCheckpointFrequency saves the resume token after every events, or
// once interval has passed since the last save, whichever comes first.
func WithCheckpointFrequency(every int, interval time.Duration) Option {
	return func(r *Relay) error {
		r.config.CheckpointEvery = every
		r.config.CheckpointInterval = interval
		return nil
	}
}

// WithHandshakeRate limits handshakes per identity per second.
func WithHandshakeRate(perSecond int) Option {
	return func(r *Relay) error {
		r.config.HandshakeRate = perSecond
		return nil
	}
}

// WithAuthenticator sets the hook that maps handshake tokens to identities.
func WithAuthenticator(a gateway.Authenticator) Option {
	return func(r *Relay) error {
		r.auth = a
		return nil
	}
}

// WithCheckOrigin sets the handshake Origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(r *Relay) error {
		r.checkOrigin = fn
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for connections to
// close on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.ShutdownTimeout = d
		return nil
	}
}
