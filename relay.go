package relay

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assistly/relay/api"
	"github.com/assistly/relay/fanout"
	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/gateway"
	"github.com/assistly/relay/id"
	"github.com/assistly/relay/message"
	"github.com/assistly/relay/registry"
)

var _ api.Backend = (*Relay)(nil)

// wireServices initializes the internal services after options have been applied.
func (r *Relay) wireServices() {
	r.registry = registry.New(r.logger, r.metrics)

	r.queue = feed.NewQueue(r.config.QueueSize, r.logger, r.metrics)

	r.watcher = feed.NewWatcher(r.source, r.queue, feed.WatcherConfig{
		MaxRetries:         r.config.MaxSubscribeRetries,
		CheckpointEvery:    r.config.CheckpointEvery,
		CheckpointInterval: r.config.CheckpointInterval,
		Backoff:            r.config.Backoff,
		Checkpoint:         r.checkpoint,
		Metrics:            r.metrics,
	}, r.logger)

	r.router = fanout.NewRouter(r.registry, fanout.Config{
		Metrics: r.metrics,
		Tracer:  r.tracer,
	}, r.logger)

	r.gateway = gateway.NewHandler(r.registry, gateway.Config{
		Socket: gateway.SocketConfig{
			SendBuffer:   r.config.SendBuffer,
			PingInterval: r.config.PingInterval,
			IdleTimeout:  r.config.IdleTimeout,
			Overflow:     r.config.Overflow,
		},
		HandshakeRate: r.config.HandshakeRate,
		Authenticator: r.auth,
		CheckOrigin:   r.checkOrigin,
		Metrics:       r.metrics,
	}, r.logger)
}

// Run watches the change feed and routes messages until ctx is cancelled,
// in which case it returns nil, or until the change feed cannot be
// resubscribed, in which case it returns an error wrapping
// feed.ErrSubscriptionExhausted. On return every client connection has
// been closed. A Relay runs at most once.
func (r *Relay) Run(ctx context.Context) error {
	if !r.acquire() {
		return ErrAlreadyRunning
	}
	return r.run(ctx)
}

func (r *Relay) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Relay) run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "relay started",
		"queue_size", r.queue.Cap(),
		"max_subscribe_retries", r.config.MaxSubscribeRetries,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.watcher.Subscribe(gctx)
	})
	g.Go(func() error {
		r.queue.Consume(gctx, r.deliver)
		return nil
	})
	g.Go(func() error {
		r.pruneLimiter(gctx)
		return nil
	})
	err := g.Wait()

	r.teardown(ctx)

	if err != nil {
		r.logger.ErrorContext(ctx, "relay stopped", "error", err)
		return err
	}
	r.logger.InfoContext(ctx, "relay stopped")
	return nil
}

func (r *Relay) deliver(ctx context.Context, msg *message.Message) {
	r.router.Route(ctx, msg)
}

func (r *Relay) pruneLimiter(ctx context.Context) {
	if r.config.HandshakeRate <= 0 || r.config.LimiterIdle <= 0 {
		return
	}
	t := time.NewTicker(r.config.LimiterIdle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.gateway.PruneLimiter(r.config.LimiterIdle); n > 0 {
				r.logger.DebugContext(ctx, "pruned handshake buckets", "count", n)
			}
		}
	}
}

func (r *Relay) teardown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.ShutdownTimeout)
	defer cancel()

	if err := r.gateway.Shutdown(sctx); err != nil {
		r.logger.WarnContext(ctx, "connections did not close in time", "error", err)
	}
	r.registry.CloseAll()
}

// Start runs the relay in the background. Use Stop to shut it down and
// Done to learn that it stopped on its own.
func (r *Relay) Start(ctx context.Context) error {
	if !r.acquire() {
		return ErrAlreadyRunning
	}

	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.run(ctx)
		r.mu.Lock()
		r.runErr = err
		r.mu.Unlock()
	}()
	return nil
}

// Stop shuts down a relay started with Start and returns the error Run
// returned. It waits at most until ctx is done.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when a relay started with Start has stopped. It is nil
// before Start.
func (r *Relay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error a background run stopped with.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Handler returns the WebSocket handshake endpoint.
func (r *Relay) Handler() http.Handler {
	return r.gateway
}

// AdminHandler returns the admin HTTP API for this relay.
func (r *Relay) AdminHandler() *api.Handler {
	return api.NewHandler(r, r.logger)
}

// Registry returns the connection registry.
func (r *Relay) Registry() *registry.Registry {
	return r.registry
}

// Watcher returns the change feed watcher.
func (r *Relay) Watcher() *feed.Watcher {
	return r.watcher
}

// Ping checks the backend, if the relay was given one with WithStore.
func (r *Relay) Ping(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

// Stats returns current counters.
func (r *Relay) Stats() api.Stats {
	return api.Stats{
		Connections:   r.registry.Len(),
		QueueDepth:    r.queue.Len(),
		QueueCapacity: r.queue.Cap(),
		QueueDropped:  r.queue.Dropped(),
		Subscription:  r.watcher.Status(),
	}
}

// Connections lists live client connections.
func (r *Relay) Connections() []gateway.SocketInfo {
	return r.gateway.Sockets()
}

// Disconnect closes the connection registered for identity.
func (r *Relay) Disconnect(identity string) bool {
	conn, ok := r.registry.Lookup(identity)
	if !ok {
		return false
	}
	r.registry.Remove(identity, conn)
	if err := conn.Close(); err != nil {
		r.logger.Debug("close connection", "identity", identity, "error", err)
	}
	return true
}

// Socket describes the live connection with the given connection ID.
func (r *Relay) Socket(connID id.ID) (gateway.SocketInfo, bool) {
	return r.gateway.Socket(connID)
}

// CloseSocket closes the live connection with the given connection ID.
func (r *Relay) CloseSocket(connID id.ID) bool {
	return r.gateway.CloseSocket(connID)
}
