package feed

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/assistly/relay/message"
	"github.com/assistly/relay/observability"
)

// DefaultQueueSize is the queue capacity used when none is configured.
const DefaultQueueSize = 1024

// Queue is a bounded FIFO of decoded messages between the watcher and the
// router. When full, Push drops the incoming message instead of blocking
// the change feed.
type Queue struct {
	ch      chan *message.Message
	dropped atomic.Uint64
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewQueue creates a queue holding at most size messages.
func NewQueue(size int, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ch:      make(chan *message.Message, size),
		logger:  logger,
		metrics: metrics,
	}
}

// Push enqueues msg and reports whether it was accepted.
func (q *Queue) Push(ctx context.Context, msg *message.Message) bool {
	select {
	case q.ch <- msg:
		q.metrics.SetQueueDepth(len(q.ch))
		return true
	default:
		q.dropped.Add(1)
		q.metrics.IncQueueDropped()
		q.logger.WarnContext(ctx, "router queue full, message dropped",
			"receiver_id", msg.ReceiverID,
			"conversation_id", msg.ConversationID,
			"capacity", cap(q.ch),
		)
		return false
	}
}

// Consume hands queued messages to fn in order until ctx is done.
func (q *Queue) Consume(ctx context.Context, fn func(context.Context, *message.Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			q.metrics.SetQueueDepth(len(q.ch))
			fn(ctx, msg)
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns how many messages were dropped because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
