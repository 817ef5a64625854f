// Package feed turns the store's change feed into routable messages.
//
// A Source opens a Stream of ChangeEvents. The Watcher keeps one stream open
// for the life of the relay, decodes every update event into a
// message.Message and pushes it onto a bounded Queue. When the stream fails
// the Watcher resubscribes with exponential backoff, resuming after the last
// event it saw, and gives up with ErrSubscriptionExhausted after a bounded
// number of consecutive failures.
package feed

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// OpUpdate is the change event operation type that carries appended messages.
const OpUpdate = "update"

// ChangeEvent is a single notification from the store's change feed.
type ChangeEvent struct {
	// Operation is the change type, e.g. "insert", "update", "delete".
	Operation string

	// DocumentKey identifies the changed conversation document.
	DocumentKey string

	// UpdatedFields maps each updated field path to its new value. Only
	// update events carry it.
	UpdatedFields map[string]bson.RawValue

	// ResumeToken is the stream position right after this event.
	ResumeToken bson.Raw

	// Err is set when the source could not parse the change document. The
	// other fields except ResumeToken are then empty.
	Err error
}

// Stream is an open change feed cursor.
type Stream interface {
	// Next blocks until an event is available and reports whether one is.
	// It returns false when the stream fails or ctx is done.
	Next(ctx context.Context) bool

	// Event returns the event Next advanced to.
	Event() ChangeEvent

	// Err returns the error that ended the stream, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// Source opens change feed streams.
type Source interface {
	// Open starts a stream positioned after resumeToken, or at the current
	// end of the feed when resumeToken is empty. Implementations return an
	// error wrapping ErrResumeTokenInvalid when the token can no longer be
	// resumed from.
	Open(ctx context.Context, resumeToken bson.Raw) (Stream, error)
}
