package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/assistly/relay/checkpoint"
	"github.com/assistly/relay/observability"
)

// DefaultMaxRetries is the number of consecutive failed subscriptions after
// which Subscribe gives up.
const DefaultMaxRetries = 10

// Checkpoint defaults; see WatcherConfig.
const (
	DefaultCheckpointEvery    = 100
	DefaultCheckpointInterval = time.Second
)

const closeTimeout = 5 * time.Second

// State is the watcher's subscription state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateBackoff
	StateStopped
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// BackoffConfig shapes the delay between resubscription attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoff returns 500ms doubling up to 30s with 20% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func (c BackoffConfig) build() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.Initial > 0 {
		b.InitialInterval = c.Initial
	}
	if c.Max > 0 {
		b.MaxInterval = c.Max
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	if c.Jitter >= 0 && c.Jitter < 1 {
		b.RandomizationFactor = c.Jitter
	}
	b.Reset()
	return b
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	// MaxRetries is the number of consecutive failed subscriptions before
	// Subscribe returns ErrSubscriptionExhausted. Zero or less retries
	// forever.
	MaxRetries int

	// CheckpointEvery and CheckpointInterval bound how often the resume
	// token is saved: after that many events, or on the first event once
	// that much time has passed since the last save. The latest token is
	// always saved when a stream ends. Zero uses the defaults.
	CheckpointEvery    int
	CheckpointInterval time.Duration

	Backoff    BackoffConfig
	Checkpoint checkpoint.Store
	Metrics    *observability.Metrics
}

// Status is a point-in-time view of the watcher.
type Status struct {
	State     string `json:"state"`
	Restarts  uint64 `json:"restarts"`
	Failures  int    `json:"consecutive_failures"`
	LastError string `json:"last_error,omitempty"`
	Resumable bool   `json:"resumable"`
}

// Watcher subscribes to a Source and feeds decoded messages into a Queue.
type Watcher struct {
	source     Source
	queue      *Queue
	checkpoint checkpoint.Store
	config     WatcherConfig
	logger     *slog.Logger

	state    atomic.Int32
	restarts atomic.Uint64

	// Owned by the Subscribe goroutine.
	unsaved int
	savedAt time.Time

	mu       sync.Mutex
	token    bson.Raw
	failures int
	lastErr  error
}

// NewWatcher creates a watcher reading from src and pushing onto q.
func NewWatcher(src Source, q *Queue, cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cp := cfg.Checkpoint
	if cp == nil {
		cp = checkpoint.Nop{}
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	return &Watcher{
		source:     src,
		queue:      q,
		checkpoint: cp,
		config:     cfg,
		logger:     logger,
	}
}

// Subscribe runs the change feed until ctx is cancelled, in which case it
// returns nil, or until MaxRetries consecutive subscriptions have failed, in
// which case it returns an error wrapping ErrSubscriptionExhausted and the
// last failure. A subscription that delivered at least one event resets the
// failure count and the backoff.
func (w *Watcher) Subscribe(ctx context.Context) error {
	w.loadCheckpoint(ctx)
	w.savedAt = time.Now()
	b := w.config.Backoff.build()

	for {
		w.setState(StateConnecting)
		n, err := w.session(ctx)
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return nil
		}
		if n > 0 {
			b.Reset()
			w.mu.Lock()
			w.failures = 0
			w.mu.Unlock()
		}

		w.mu.Lock()
		w.failures++
		w.lastErr = err
		failures := w.failures
		w.mu.Unlock()

		if w.config.MaxRetries > 0 && failures >= w.config.MaxRetries {
			w.setState(StateExhausted)
			w.logger.ErrorContext(ctx, "change feed subscription exhausted",
				"attempts", failures,
				"error", err,
			)
			return fmt.Errorf("%w after %d attempts: %w", ErrSubscriptionExhausted, failures, err)
		}

		delay := b.NextBackOff()
		w.setState(StateBackoff)
		w.restarts.Add(1)
		w.config.Metrics.IncSubscriptionRestarts()
		w.logger.WarnContext(ctx, "change feed interrupted, resubscribing",
			"error", err,
			"attempt", failures,
			"delay", delay,
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			w.setState(StateStopped)
			return nil
		case <-t.C:
		}
	}
}

// session opens one stream and drains it. It returns the number of events
// seen and the error that ended the stream.
func (w *Watcher) session(ctx context.Context) (int, error) {
	token := w.resumeToken()

	stream, err := w.source.Open(ctx, token)
	if err != nil {
		if len(token) > 0 && errors.Is(err, ErrResumeTokenInvalid) {
			w.logger.WarnContext(ctx, "resume token rejected, next subscription starts fresh", "error", err)
			w.setToken(nil)
		}
		return 0, fmt.Errorf("feed: open stream: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		w.saveCheckpoint(closeCtx)
		if cerr := stream.Close(closeCtx); cerr != nil {
			w.logger.DebugContext(ctx, "close stream", "error", cerr)
		}
	}()

	w.setState(StateStreaming)
	w.logger.InfoContext(ctx, "change feed subscribed", "resumed", len(token) > 0)

	n := 0
	for stream.Next(ctx) {
		w.handle(ctx, stream.Event())
		n++
	}
	if err := stream.Err(); err != nil {
		return n, fmt.Errorf("feed: stream: %w", err)
	}
	return n, ErrStreamClosed
}

func (w *Watcher) handle(ctx context.Context, ev ChangeEvent) {
	defer w.advance(ctx, ev.ResumeToken)

	if ev.Err != nil {
		w.config.Metrics.RecordEvent(observability.EventDecodeError)
		w.logger.WarnContext(ctx, "unreadable change event skipped", "error", ev.Err)
		return
	}

	if ev.Operation != OpUpdate {
		w.config.Metrics.RecordEvent(observability.EventIgnored)
		return
	}

	msg, err := Decode(ev)
	if err != nil {
		w.config.Metrics.RecordEvent(observability.EventDecodeError)
		w.logger.WarnContext(ctx, "change event dropped", "error", err)
		return
	}

	w.config.Metrics.RecordEvent(observability.EventMessage)
	w.queue.Push(ctx, msg)
}

func (w *Watcher) advance(ctx context.Context, token bson.Raw) {
	if len(token) == 0 {
		return
	}
	w.setToken(token)
	w.unsaved++
	if w.unsaved >= w.config.CheckpointEvery || time.Since(w.savedAt) >= w.config.CheckpointInterval {
		w.saveCheckpoint(ctx)
	}
}

// saveCheckpoint persists the latest resume token if it changed since the
// last save.
func (w *Watcher) saveCheckpoint(ctx context.Context) {
	if w.unsaved == 0 {
		return
	}
	token := w.resumeToken()
	if len(token) == 0 {
		return
	}
	w.unsaved = 0
	w.savedAt = time.Now()
	if err := w.checkpoint.Save(ctx, token); err != nil {
		w.config.Metrics.IncCheckpointErrors()
		w.logger.WarnContext(ctx, "save resume token", "error", err)
	}
}

func (w *Watcher) loadCheckpoint(ctx context.Context) {
	token, err := w.checkpoint.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
	case err != nil:
		w.config.Metrics.IncCheckpointErrors()
		w.logger.WarnContext(ctx, "load resume token, starting fresh", "error", err)
	default:
		w.setToken(token)
		w.logger.InfoContext(ctx, "resume token loaded")
	}
}

func (w *Watcher) resumeToken() bson.Raw {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.token
}

func (w *Watcher) setToken(t bson.Raw) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t == nil {
		w.token = nil
		return
	}
	w.token = append(bson.Raw(nil), t...)
}

func (w *Watcher) setState(s State) { w.state.Store(int32(s)) }

// State returns the current subscription state.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Status returns a snapshot of the watcher for diagnostics.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		State:     w.State().String(),
		Restarts:  w.restarts.Load(),
		Failures:  w.failures,
		Resumable: len(w.token) > 0,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}
