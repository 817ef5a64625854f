// Package mongo implements the relay backend on MongoDB: a change stream
// over the conversations collection and a resume token checkpoint kept in
// a small side collection.
//
// Change streams require a replica set or sharded cluster.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/assistly/relay/store"
)

// Collection name constants.
const (
	DefaultCollection = "conversations"
	colCheckpoints    = "relay_checkpoints"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCollection sets the watched collection. Defaults to "conversations".
func WithCollection(name string) Option {
	return func(s *Store) { s.collection = name }
}

// WithCheckpointKey sets the checkpoint document ID. Relays watching the
// same collection from different deployments need distinct keys. Defaults
// to the watched collection name.
func WithCheckpointKey(key string) Option {
	return func(s *Store) { s.checkpointKey = key }
}

// Store implements store.Store using the official MongoDB driver.
type Store struct {
	db            *mongo.Database
	collection    string
	checkpointKey string
	owned         bool
}

// New creates a store on an existing database handle. Close does not
// disconnect the client.
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{db: db, collection: DefaultCollection}
	for _, opt := range opts {
		opt(s)
	}
	if s.checkpointKey == "" {
		s.checkpointKey = s.collection
	}
	return s
}

// Connect dials uri, verifies the connection and returns a store on the
// named database. Close disconnects the client.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("relay/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("relay/mongo: ping: %w", err)
	}

	s := New(client.Database(database), opts...)
	s.owned = true
	return s, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close disconnects the client if the store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.db.Client().Disconnect(ctx)
}
