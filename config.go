package relay

import (
	"time"

	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/gateway"
)

// Config holds the configuration for a Relay instance.
type Config struct {
	// QueueSize is the capacity of the queue between the change feed and
	// the router. When it is full the newest message is dropped.
	QueueSize int

	// SendBuffer is the number of frames buffered per connection.
	SendBuffer int

	// Overflow decides what happens when a connection's buffer is full.
	Overflow gateway.OverflowPolicy

	// PingInterval is how often each connection is pinged.
	PingInterval time.Duration

	// IdleTimeout closes a connection that has sent nothing, not even a
	// pong, for this long.
	IdleTimeout time.Duration

	// MaxSubscribeRetries is the number of consecutive failed change feed
	// subscriptions tolerated before Run fails. Zero or less retries forever.
	MaxSubscribeRetries int

	// Backoff shapes the delay between resubscriptions.
	Backoff feed.BackoffConfig

	// CheckpointEvery and CheckpointInterval bound how often the resume
	// token is persisted. The latest token is always saved on shutdown.
	CheckpointEvery    int
	CheckpointInterval time.Duration

	// HandshakeRate limits handshakes per identity per second. Zero
	// disables the limit.
	HandshakeRate int

	// LimiterIdle is how long an identity's handshake bucket is kept after
	// its last handshake.
	LimiterIdle time.Duration

	// ShutdownTimeout is the maximum time to wait for connections to close
	// on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:           feed.DefaultQueueSize,
		SendBuffer:          gateway.DefaultSendBuffer,
		Overflow:            gateway.OverflowClose,
		PingInterval:        gateway.DefaultPingInterval,
		IdleTimeout:         gateway.DefaultIdleTimeout,
		MaxSubscribeRetries: feed.DefaultMaxRetries,
		Backoff:             feed.DefaultBackoff(),
		CheckpointEvery:     feed.DefaultCheckpointEvery,
		CheckpointInterval:  feed.DefaultCheckpointInterval,
		LimiterIdle:         10 * time.Minute,
		ShutdownTimeout:     10 * time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.QueueSize <= 0:
		return invalidConfig("queue size must be positive")
	case c.SendBuffer <= 0:
		return invalidConfig("send buffer must be positive")
	case c.PingInterval <= 0:
		return invalidConfig("ping interval must be positive")
	case c.IdleTimeout <= c.PingInterval:
		return invalidConfig("idle timeout must exceed the ping interval")
	case c.CheckpointEvery <= 0:
		return invalidConfig("checkpoint frequency must be positive")
	case c.CheckpointInterval <= 0:
		return invalidConfig("checkpoint interval must be positive")
	case c.HandshakeRate < 0:
		return invalidConfig("handshake rate must not be negative")
	}
	if _, err := gateway.ParseOverflowPolicy(string(c.Overflow)); err != nil {
		return invalidConfig(err.Error())
	}
	return nil
}
