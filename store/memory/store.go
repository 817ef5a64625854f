// Package memory provides an in-memory Store for tests and local runs.
//
// The change feed keeps its full history, so streams can resume from any
// token it issued. Tests drive it with Publish or AppendMessage and inject
// failures with FailNextOpen and Break.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/assistly/relay/checkpoint"
	"github.com/assistly/relay/feed"
	relaystore "github.com/assistly/relay/store"
)

// compile-time interface check.
var _ relaystore.Store = (*Store)(nil)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory: store is closed")

// Store is an in-memory change feed plus checkpoint.
type Store struct {
	mu sync.Mutex

	events   []feed.ChangeEvent
	notify   chan struct{}
	streams  map[*stream]struct{}
	openErrs []error
	opens    int

	token []byte

	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		notify:  make(chan struct{}),
		streams: make(map[*stream]struct{}),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every open stream and rejects further opens.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for st := range s.streams {
		st.fail(ErrClosed)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Change feed
// ──────────────────────────────────────────────────

// Open starts a stream after resumeToken, or at the end of the history
// when resumeToken is empty.
func (s *Store) Open(_ context.Context, resumeToken bson.Raw) (feed.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return nil, err
	}

	pos := len(s.events)
	if len(resumeToken) > 0 {
		seq, err := tokenSeq(resumeToken)
		if err != nil || seq < 0 || seq >= len(s.events) {
			return nil, fmt.Errorf("%w: unknown position", feed.ErrResumeTokenInvalid)
		}
		pos = seq + 1
	}

	st := &stream{store: s, pos: pos, done: make(chan struct{})}
	s.streams[st] = struct{}{}
	return st, nil
}

// Publish appends ev to the feed and wakes open streams. The event's
// resume token is assigned by the store.
func (s *Store) Publish(ev feed.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ResumeToken = makeToken(len(s.events))
	s.events = append(s.events, ev)
	close(s.notify)
	s.notify = make(chan struct{})
}

// AppendMessage publishes the update event produced by pushing doc onto the
// messages array of conversation conversationID at index.
func (s *Store) AppendMessage(conversationID string, index int, doc any) error {
	typ, data, err := bson.MarshalValue(doc)
	if err != nil {
		return fmt.Errorf("memory: marshal message: %w", err)
	}
	s.Publish(feed.ChangeEvent{
		Operation:   feed.OpUpdate,
		DocumentKey: conversationID,
		UpdatedFields: map[string]bson.RawValue{
			fmt.Sprintf("messages.%d", index): {Type: typ, Value: data},
		},
	})
	return nil
}

// FailNextOpen makes the next Open call return err. Calls queue up.
func (s *Store) FailNextOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErrs = append(s.openErrs, err)
}

// Break ends every open stream with err.
func (s *Store) Break(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := range s.streams {
		st.fail(err)
	}
}

// Opens returns how many times Open was called.
func (s *Store) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// OpenStreams returns the number of streams not yet closed.
func (s *Store) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// ──────────────────────────────────────────────────
// Checkpoint
// ──────────────────────────────────────────────────

// Load returns the last saved resume token.
func (s *Store) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, checkpoint.ErrNotFound
	}
	return append([]byte(nil), s.token...), nil
}

// Save stores the resume token.
func (s *Store) Save(_ context.Context, token []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.token = append([]byte(nil), token...)
	return nil
}

// ──────────────────────────────────────────────────
// Stream
// ──────────────────────────────────────────────────

type stream struct {
	store *Store
	pos   int
	cur   feed.ChangeEvent
	err   error
	done  chan struct{}
	once  sync.Once
}

// fail must be called with store.mu held.
func (st *stream) fail(err error) {
	st.once.Do(func() {
		st.err = err
		close(st.done)
	})
}

func (st *stream) Next(ctx context.Context) bool {
	for {
		st.store.mu.Lock()
		if st.err != nil {
			st.store.mu.Unlock()
			return false
		}
		if st.pos < len(st.store.events) {
			st.cur = st.store.events[st.pos]
			st.pos++
			st.store.mu.Unlock()
			return true
		}
		notify := st.store.notify
		st.store.mu.Unlock()

		select {
		case <-ctx.Done():
			st.store.mu.Lock()
			st.fail(ctx.Err())
			st.store.mu.Unlock()
			return false
		case <-st.done:
		case <-notify:
		}
	}
}

func (st *stream) Event() feed.ChangeEvent { return st.cur }

func (st *stream) Err() error {
	st.store.mu.Lock()
	defer st.store.mu.Unlock()
	return st.err
}

func (st *stream) Close(_ context.Context) error {
	st.store.mu.Lock()
	defer st.store.mu.Unlock()
	st.fail(feed.ErrStreamClosed)
	delete(st.store.streams, st)
	return nil
}

func makeToken(seq int) bson.Raw {
	raw, _ := bson.Marshal(bson.D{{Key: "_data", Value: int64(seq)}})
	return raw
}

func tokenSeq(token bson.Raw) (int, error) {
	v, err := token.LookupErr("_data")
	if err != nil {
		return 0, err
	}
	n, ok := v.Int64OK()
	if !ok {
		return 0, errors.New("memory: malformed resume token")
	}
	return int(n), nil
}
