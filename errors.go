package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Relay operations.
var (
	// ErrNoSource is returned when a Relay is created without a change feed.
	ErrNoSource = errors.New("relay: change feed source is required")

	// ErrAlreadyRunning is returned by Run and Start when the relay is
	// already running.
	ErrAlreadyRunning = errors.New("relay: already running")

	// ErrInvalidConfig is returned by New when options produce an unusable
	// configuration.
	ErrInvalidConfig = errors.New("relay: invalid config")
)

func invalidConfig(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}
