// Package redis keeps the change feed resume token in Redis, so a relay
// whose store cannot hold its own checkpoint still resumes after restart.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/assistly/relay/checkpoint"
)

// compile-time interface check
var _ checkpoint.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKey sets the checkpoint name. Defaults to DefaultCheckpointKey.
func WithKey(name string) Option {
	return func(s *Store) { s.key = checkpointKey(name) }
}

// WithTTL expires the checkpoint if it is not refreshed within ttl. A relay
// down for longer than the store's change history resumes fresh either way.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// Store implements checkpoint.Store on a Redis client.
type Store struct {
	rdb goredis.UniversalClient
	key string
	ttl time.Duration
}

// New creates a checkpoint store on rdb.
func New(rdb goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, key: checkpointKey(DefaultCheckpointKey)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and returns a store on a new client.
func Connect(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("relay/redis: parse url: %w", err)
	}
	rdb := goredis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("relay/redis: ping: %w", err)
	}
	return New(rdb, opts...), nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Load returns the saved resume token.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if isRedisNil(err) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relay/redis: load checkpoint: %w", err)
	}
	return raw, nil
}

// Save overwrites the resume token.
func (s *Store) Save(ctx context.Context, token []byte) error {
	if err := s.rdb.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("relay/redis: save checkpoint: %w", err)
	}
	return nil
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
