package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/cordona/hookrelay/internal/config"
	"github.com/cordona/hookrelay/internal/hooks"
	"github.com/cordona/hookrelay/internal/ingest"
	"github.com/cordona/hookrelay/internal/limits"
	"github.com/cordona/hookrelay/internal/monitoring"
	"github.com/cordona/hookrelay/internal/registry"
	"github.com/cordona/hookrelay/internal/relay"
	"github.com/cordona/hookrelay/internal/server"
	"github.com/cordona/hookrelay/internal/work"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  monitoring.LogLevel(cfg.LogLevel),
		Format: monitoring.LogFormat(cfg.LogFormat),
	})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := registry.New(registry.Config{
		MaxUsers:       cfg.MaxUsers,
		MaxConnections: cfg.MaxConnections,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create connection registry")
	}

	manager := relay.NewManager(reg, logger)
	publisher := relay.NewPublisher(reg, logger)
	hookService := hooks.NewService(publisher, logger)

	pool := work.NewPool(cfg.WorkerCount, cfg.WorkerQueueSize, logger)
	pool.Start(ctx)

	rateLimiter := limits.NewUserRateLimiter(ctx, limits.UserRateLimiterConfig{
		Burst: cfg.HookRateBurst,
		Rate:  cfg.HookRate,
		TTL:   cfg.HeartbeatInterval * 10,
	}, logger)

	heartbeat := relay.NewHeartbeat(relay.HeartbeatConfig{
		Interval:         cfg.HeartbeatInterval,
		Jitter:           cfg.HeartbeatJitter,
		MaxFailures:      cfg.HeartbeatMaxFailures,
		ProbeConcurrency: cfg.ProbeConcurrency,
	}, reg, manager, logger)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		heartbeat.Run(ctx)
	}()

	var subscriber *ingest.Subscriber
	if cfg.NATSURL != "" {
		subscriber, err = ingest.NewSubscriber(cfg.NATSURL, cfg.NATSSubject, publisher, pool, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to start NATS ingest")
		}
	}

	srv := server.New(cfg, reg, manager, hookService, rateLimiter, pool, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()

	if subscriber != nil {
		subscriber.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	cancel()
	<-heartbeatDone
	pool.Stop()
}
