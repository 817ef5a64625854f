package feed_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/message"
	"github.com/assistly/relay/observability"
	"github.com/assistly/relay/store/memory"
)

var fastBackoff = feed.BackoffConfig{
	Initial:    time.Millisecond,
	Max:        5 * time.Millisecond,
	Multiplier: 2,
}

type harness struct {
	store   *memory.Store
	queue   *feed.Queue
	watcher *feed.Watcher
	got     chan *message.Message
	errc    chan error
	cancel  context.CancelFunc
}

func startWatcher(t *testing.T, st *memory.Store, maxRetries int) *harness {
	t.Helper()
	return startWatcherWith(t, st, feed.WatcherConfig{MaxRetries: maxRetries})
}

func startWatcherWith(t *testing.T, st *memory.Store, cfg feed.WatcherConfig) *harness {
	t.Helper()

	cfg.Backoff = fastBackoff
	if cfg.Checkpoint == nil {
		cfg.Checkpoint = st
	}
	q := feed.NewQueue(16, nil, nil)
	w := feed.NewWatcher(st, q, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		store:   st,
		queue:   q,
		watcher: w,
		got:     make(chan *message.Message, 16),
		errc:    make(chan error, 1),
		cancel:  cancel,
	}
	go q.Consume(ctx, func(_ context.Context, m *message.Message) { h.got <- m })
	go func() { h.errc <- w.Subscribe(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) waitStreaming(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.OpenStreams() == 1 && h.watcher.State() == feed.StateStreaming
	}, 2*time.Second, time.Millisecond)
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Subscribe did not return after cancel")
	}
}

func (h *harness) next(t *testing.T) *message.Message {
	t.Helper()
	select {
	case m := <-h.got:
		return m
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no message routed")
		return nil
	}
}

func TestWatcherDeliversInOrder(t *testing.T) {
	h := startWatcher(t, memory.New(), 0)
	h.waitStreaming(t)

	require.NoError(t, h.store.AppendMessage("X", 0, msgDoc("B", "A", "one")))
	require.NoError(t, h.store.AppendMessage("X", 1, msgDoc("A", "B", "two")))

	first := h.next(t)
	assert.Equal(t, "one", first.Content["text"])
	assert.Equal(t, "X", first.ConversationID)
	assert.Equal(t, "two", h.next(t).Content["text"])
}

func TestWatcherSkipsUndecodableEvents(t *testing.T) {
	h := startWatcher(t, memory.New(), 0)
	h.waitStreaming(t)

	h.store.Publish(feed.ChangeEvent{Operation: "insert", DocumentKey: "Y"})
	h.store.Publish(feed.ChangeEvent{Operation: feed.OpUpdate, DocumentKey: "X"})
	h.store.Publish(feed.ChangeEvent{
		Operation:   feed.OpUpdate,
		DocumentKey: "X",
		UpdatedFields: map[string]bson.RawValue{
			"messages.0": rawValue(t, bson.D{{Key: "senderId", Value: "B"}}),
		},
	})
	require.NoError(t, h.store.AppendMessage("X", 1, msgDoc("B", "A", "after")))

	assert.Equal(t, "after", h.next(t).Content["text"])
	assert.Equal(t, feed.StateStreaming, h.watcher.State())
}

func TestWatcherReportsUnreadableEvents(t *testing.T) {
	st := memory.New()
	m := observability.NewMetrics(prometheus.NewRegistry())
	h := startWatcherWith(t, st, feed.WatcherConfig{Metrics: m})
	h.waitStreaming(t)

	st.Publish(feed.ChangeEvent{Err: errors.New("relay/mongo: decode change event: bad operationType")})
	require.NoError(t, st.AppendMessage("X", 0, msgDoc("B", "A", "after")))

	assert.Equal(t, "after", h.next(t).Content["text"])
	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsTotal.WithLabelValues(observability.EventDecodeError)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(observability.EventIgnored)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsTotal.WithLabelValues(observability.EventMessage)), 0)
}

func TestWatcherResubscribesAndResumes(t *testing.T) {
	h := startWatcher(t, memory.New(), 5)
	h.waitStreaming(t)

	require.NoError(t, h.store.AppendMessage("X", 0, msgDoc("B", "A", "before")))
	assert.Equal(t, "before", h.next(t).Content["text"])

	h.store.FailNextOpen(errors.New("server selection timeout"))
	h.store.Break(errors.New("connection reset"))

	// Published while the watcher is down; the resumed stream picks it up.
	require.NoError(t, h.store.AppendMessage("X", 1, msgDoc("B", "A", "during")))

	assert.Equal(t, "during", h.next(t).Content["text"])
	assert.GreaterOrEqual(t, h.store.Opens(), 3)
	assert.GreaterOrEqual(t, h.watcher.Status().Restarts, uint64(2))

	select {
	case m := <-h.got:
		t.Fatalf("unexpected duplicate %v", m.Content["text"])
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWatcherExhaustsRetries(t *testing.T) {
	st := memory.New()
	cause := errors.New("no reachable servers")
	for i := 0; i < 3; i++ {
		st.FailNextOpen(cause)
	}

	h := startWatcher(t, st, 3)

	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, feed.ErrSubscriptionExhausted)
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Subscribe did not give up")
	}
	assert.Equal(t, feed.StateExhausted, h.watcher.State())
	assert.Equal(t, 3, st.Opens())
}

func TestWatcherDropsRejectedResumeToken(t *testing.T) {
	st := memory.New()
	bogus, err := bson.Marshal(bson.D{{Key: "_data", Value: int64(99)}})
	require.NoError(t, err)
	require.NoError(t, st.Save(context.Background(), bogus))

	h := startWatcher(t, st, 5)
	h.waitStreaming(t)

	require.NoError(t, st.AppendMessage("X", 0, msgDoc("B", "A", "fresh")))
	assert.Equal(t, "fresh", h.next(t).Content["text"])
	assert.Equal(t, 2, st.Opens())
}

func TestWatcherSavesCheckpointOnStop(t *testing.T) {
	h := startWatcher(t, memory.New(), 0)
	h.waitStreaming(t)

	require.NoError(t, h.store.AppendMessage("X", 0, msgDoc("B", "A", "hi")))
	h.next(t)
	assert.True(t, h.watcher.Status().Resumable)

	h.stop(t)
	tok, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

// countingCheckpoint records saves made through it.
type countingCheckpoint struct {
	*memory.Store
	saves atomic.Int32
}

func (c *countingCheckpoint) Save(ctx context.Context, token []byte) error {
	c.saves.Add(1)
	return c.Store.Save(ctx, token)
}

func TestWatcherThrottlesCheckpoints(t *testing.T) {
	st := memory.New()
	cp := &countingCheckpoint{Store: st}
	h := startWatcherWith(t, st, feed.WatcherConfig{
		Checkpoint:         cp,
		CheckpointEvery:    3,
		CheckpointInterval: time.Hour,
	})
	h.waitStreaming(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendMessage("X", i, msgDoc("B", "A", fmt.Sprint(i))))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprint(i), h.next(t).Content["text"])
	}
	assert.EqualValues(t, 1, cp.saves.Load(), "one save after the third event")

	h.stop(t)
	assert.EqualValues(t, 2, cp.saves.Load(), "remaining events flushed on stop")

	// A new watcher resumes after the fifth event, not the third.
	h2 := startWatcher(t, st, 0)
	h2.waitStreaming(t)
	require.NoError(t, st.AppendMessage("X", 5, msgDoc("B", "A", "5")))
	assert.Equal(t, "5", h2.next(t).Content["text"])
}

func TestWatcherCheckpointInterval(t *testing.T) {
	st := memory.New()
	cp := &countingCheckpoint{Store: st}
	h := startWatcherWith(t, st, feed.WatcherConfig{
		Checkpoint:         cp,
		CheckpointEvery:    1000,
		CheckpointInterval: 20 * time.Millisecond,
	})
	h.waitStreaming(t)

	require.NoError(t, st.AppendMessage("X", 0, msgDoc("B", "A", "early")))
	h.next(t)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, st.AppendMessage("X", 1, msgDoc("B", "A", "late")))
	h.next(t)

	require.Eventually(t, func() bool { return cp.saves.Load() >= 1 }, time.Second, time.Millisecond)
}

func TestWatcherStopsOnCancel(t *testing.T) {
	h := startWatcher(t, memory.New(), 0)
	h.waitStreaming(t)

	h.cancel()

	select {
	case err := <-h.errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Subscribe did not return after cancel")
	}
	assert.Equal(t, feed.StateStopped, h.watcher.State())
	require.Eventually(t, func() bool { return h.store.OpenStreams() == 0 }, time.Second, time.Millisecond)
}
