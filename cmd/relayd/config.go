package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/assistly/relay"
	"github.com/assistly/relay/auth"
	"github.com/assistly/relay/feed"
	"github.com/assistly/relay/gateway"
)

// Config is read from the environment, after an optional .env file.
type Config struct {
	MongoURI        string `env:"MONGO_URI,required=true"`
	MongoDatabase   string `env:"MONGO_DATABASE,required=true"`
	MongoCollection string `env:"MONGO_COLLECTION,default=conversations"`

	// RedisURL, when set, moves resume tokens from MongoDB to Redis.
	RedisURL       string        `env:"REDIS_URL"`
	CheckpointKey  string        `env:"CHECKPOINT_KEY,default=conversations"`
	CheckpointTTL  time.Duration `env:"CHECKPOINT_TTL,default=0s"`
	ListenAddr     string        `env:"LISTEN_ADDR,default=:8080"`
	WebSocketPath  string        `env:"WEBSOCKET_PATH,default=/"`
	AdminAddr      string        `env:"ADMIN_ADDR,default=:9090"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS"`

	// AuthSecret, when set, requires signed handshake tokens.
	AuthSecret string `env:"AUTH_SECRET"`

	QueueSize           int           `env:"QUEUE_SIZE,default=1024"`
	SendBuffer          int           `env:"SEND_BUFFER,default=64"`
	Overflow            string        `env:"OVERFLOW_POLICY,default=close"`
	PingInterval        time.Duration `env:"PING_INTERVAL,default=25s"`
	IdleTimeout         time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	MaxSubscribeRetries int           `env:"MAX_SUBSCRIBE_RETRIES,default=10"`
	BackoffInitial      time.Duration `env:"BACKOFF_INITIAL,default=500ms"`
	BackoffMax          time.Duration `env:"BACKOFF_MAX,default=30s"`
	CheckpointEvery     int           `env:"CHECKPOINT_EVERY,default=100"`
	CheckpointInterval  time.Duration `env:"CHECKPOINT_INTERVAL,default=1s"`
	HandshakeRate       int           `env:"HANDSHAKE_RATE,default=0"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

// options maps the environment onto relay options.
func (c Config) options() ([]relay.Option, error) {
	overflow, err := gateway.ParseOverflowPolicy(c.Overflow)
	if err != nil {
		return nil, fmt.Errorf("OVERFLOW_POLICY: %w", err)
	}

	backoff := feed.DefaultBackoff()
	backoff.Initial = c.BackoffInitial
	backoff.Max = c.BackoffMax

	opts := []relay.Option{
		relay.WithQueueSize(c.QueueSize),
		relay.WithSendBuffer(c.SendBuffer),
		relay.WithOverflowPolicy(overflow),
		relay.WithPingInterval(c.PingInterval),
		relay.WithIdleTimeout(c.IdleTimeout),
		relay.WithMaxSubscribeRetries(c.MaxSubscribeRetries),
		relay.WithBackoff(backoff),
		relay.WithCheckpointFrequency(c.CheckpointEvery, c.CheckpointInterval),
		relay.WithHandshakeRate(c.HandshakeRate),
		relay.WithShutdownTimeout(c.ShutdownTimeout),
	}
	if origins := c.origins(); len(origins) > 0 {
		opts = append(opts, relay.WithCheckOrigin(gateway.AllowOrigins(origins...)))
	}
	if c.AuthSecret != "" {
		v := auth.NewVerifier([]byte(c.AuthSecret))
		opts = append(opts, relay.WithAuthenticator(v.Authenticate))
	}
	return opts, nil
}

func (c Config) origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
