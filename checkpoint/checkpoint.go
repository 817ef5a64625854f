// Package checkpoint persists the change feed resume token so a restarted
// relay continues where the previous process stopped.
package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no token has been saved yet.
var ErrNotFound = errors.New("checkpoint: no resume token")

// Store loads and saves the latest resume token of one change feed.
type Store interface {
	// Load returns the last saved token, or ErrNotFound.
	Load(ctx context.Context) ([]byte, error)

	// Save overwrites the saved token.
	Save(ctx context.Context, token []byte) error
}

// Nop is a Store that remembers nothing. Every start opens a fresh stream.
type Nop struct{}

var _ Store = Nop{}

// Load always returns ErrNotFound.
func (Nop) Load(context.Context) ([]byte, error) { return nil, ErrNotFound }

// Save discards the token.
func (Nop) Save(context.Context, []byte) error { return nil }
