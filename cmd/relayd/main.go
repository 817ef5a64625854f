// Command relayd runs the conversation message relay against MongoDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/assistly/relay"
	"github.com/assistly/relay/observability"
	"github.com/assistly/relay/store/mongo"
	"github.com/assistly/relay/store/redis"
)

// Exit codes reported to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	level, err := cfg.level()
	if err != nil {
		return exitConfig, err
	}
	opts, err := cfg.options()
	if err != nil {
		return exitConfig, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Store
	connectCtx, cancelConnect := context.WithTimeout(ctx, 15*time.Second)
	defer cancelConnect()

	st, err := mongo.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase,
		mongo.WithCollection(cfg.MongoCollection),
		mongo.WithCheckpointKey(cfg.CheckpointKey),
	)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("close mongo", "error", err)
		}
	}()
	opts = append(opts, relay.WithStore(st))

	if cfg.RedisURL != "" {
		cp, err := redis.Connect(connectCtx, cfg.RedisURL,
			redis.WithKey(cfg.CheckpointKey),
			redis.WithTTL(cfg.CheckpointTTL),
		)
		if err != nil {
			return exitRuntime, err
		}
		defer cp.Close()
		opts = append(opts, relay.WithCheckpoint(cp))
		logger.Info("resume tokens stored in redis", "key", cfg.CheckpointKey)
	}

	// 3. Observability
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts = append(opts,
		relay.WithLogger(logger),
		relay.WithMetrics(observability.NewMetrics(reg)),
		relay.WithTracer(observability.NewTracer()),
	)

	r, err := relay.New(opts...)
	if err != nil {
		return exitConfig, err
	}

	// 4. HTTP servers
	mux := http.NewServeMux()
	mux.Handle(cfg.WebSocketPath, r.Handler())
	wsSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	admin := r.AdminHandler()
	admin.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: admin, ReadHeaderTimeout: 10 * time.Second}

	// 5. Run until a signal arrives, a listener fails or the change feed
	// cannot be resubscribed.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		return serve(logger, "websocket", wsSrv)
	})
	g.Go(func() error {
		return serve(logger, "admin", adminSrv)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(wsSrv.Shutdown(shutdownCtx), adminSrv.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	logger.Info("relay stopped cleanly")
	return exitOK, nil
}

func serve(logger *slog.Logger, name string, srv *http.Server) error {
	logger.Info("listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
