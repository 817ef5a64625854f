// Package store defines the composite Store interface a relay backend
// implements.
//
// Each concern defines its own small interface and the aggregate Store
// composes them: the change feed the watcher reads and the checkpoint the
// watcher resumes from.
package store

import (
	"context"

	"github.com/assistly/relay/checkpoint"
	"github.com/assistly/relay/feed"
)

// Store is the aggregate backend interface.
type Store interface {
	feed.Source
	checkpoint.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close(ctx context.Context) error
}
