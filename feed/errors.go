package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUpdatedField is returned when an update event changed no fields.
	ErrNoUpdatedField = errors.New("feed: update has no updated field")

	// ErrAmbiguousUpdate is returned when an update event changed more than
	// one field, so the appended message cannot be identified.
	ErrAmbiguousUpdate = errors.New("feed: update has more than one updated field")

	// ErrResumeTokenInvalid is returned by a Source when the stored resume
	// token is no longer in the store's history.
	ErrResumeTokenInvalid = errors.New("feed: resume token rejected")

	// ErrStreamClosed is returned when a stream ends without an error.
	ErrStreamClosed = errors.New("feed: stream closed")

	// ErrSubscriptionExhausted is returned by Watcher.Subscribe after the
	// configured number of consecutive failed subscriptions.
	ErrSubscriptionExhausted = errors.New("feed: subscription retries exhausted")
)

// DecodeError reports an update event that could not be turned into a
// message. The event is dropped and the watcher carries on.
type DecodeError struct {
	DocumentKey string
	Fields      []string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("feed: decode event for %q %v: %v", e.DocumentKey, e.Fields, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
