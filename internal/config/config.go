// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all service configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr string `env:"HOOKRELAY_ADDR" envDefault:":8085"`

	// Registry capacity. Capacity pressure is handled by LRU eviction,
	// not by rejecting connects, unless HardConnectionLimit is set.
	MaxUsers            int `env:"HOOKRELAY_MAX_USERS" envDefault:"1000"`
	MaxConnections      int `env:"HOOKRELAY_MAX_CONNECTIONS" envDefault:"5000"`
	HardConnectionLimit int `env:"HOOKRELAY_HARD_CONNECTION_LIMIT" envDefault:"0"` // 0 = never reject

	// Heartbeat
	HeartbeatInterval    time.Duration `env:"HOOKRELAY_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatJitter      bool          `env:"HOOKRELAY_HEARTBEAT_JITTER" envDefault:"true"`
	HeartbeatMaxFailures int           `env:"HOOKRELAY_HEARTBEAT_MAX_FAILURES" envDefault:"3"`
	ProbeConcurrency     int           `env:"HOOKRELAY_PROBE_CONCURRENCY" envDefault:"64"`

	// Transport
	WriteTimeout time.Duration `env:"HOOKRELAY_WRITE_TIMEOUT" envDefault:"5s"`

	// Fan-out worker pool
	WorkerCount     int `env:"HOOKRELAY_WORKER_COUNT" envDefault:"8"`
	WorkerQueueSize int `env:"HOOKRELAY_WORKER_QUEUE_SIZE" envDefault:"1024"`

	// Hook ingest rate limiting (per user)
	HookRateBurst int     `env:"HOOKRELAY_HOOK_RATE_BURST" envDefault:"20"`
	HookRate      float64 `env:"HOOKRELAY_HOOK_RATE_PER_SEC" envDefault:"5"`

	// Optional NATS ingest; empty disables it.
	NATSURL     string `env:"HOOKRELAY_NATS_URL" envDefault:""`
	NATSSubject string `env:"HOOKRELAY_NATS_SUBJECT" envDefault:"hooks.events.>"`

	// Shutdown
	ShutdownGracePeriod time.Duration `env:"HOOKRELAY_SHUTDOWN_GRACE" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file and environment variables.
// Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Fine to run without a .env file; containers set env directly.
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("HOOKRELAY_ADDR is required")
	}
	if c.MaxUsers < 1 {
		return fmt.Errorf("HOOKRELAY_MAX_USERS must be > 0, got %d", c.MaxUsers)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("HOOKRELAY_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.HardConnectionLimit < 0 {
		return fmt.Errorf("HOOKRELAY_HARD_CONNECTION_LIMIT must be >= 0, got %d", c.HardConnectionLimit)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HOOKRELAY_HEARTBEAT_INTERVAL must be > 0, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatMaxFailures < 1 {
		return fmt.Errorf("HOOKRELAY_HEARTBEAT_MAX_FAILURES must be > 0, got %d", c.HeartbeatMaxFailures)
	}
	if c.ProbeConcurrency < 1 {
		return fmt.Errorf("HOOKRELAY_PROBE_CONCURRENCY must be > 0, got %d", c.ProbeConcurrency)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("HOOKRELAY_WORKER_COUNT must be > 0, got %d", c.WorkerCount)
	}
	if c.HookRate <= 0 {
		return fmt.Errorf("HOOKRELAY_HOOK_RATE_PER_SEC must be > 0, got %f", c.HookRate)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig emits the effective configuration as one structured record.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_users", c.MaxUsers).
		Int("max_connections", c.MaxConnections).
		Int("hard_connection_limit", c.HardConnectionLimit).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Bool("heartbeat_jitter", c.HeartbeatJitter).
		Int("heartbeat_max_failures", c.HeartbeatMaxFailures).
		Int("probe_concurrency", c.ProbeConcurrency).
		Dur("write_timeout", c.WriteTimeout).
		Int("worker_count", c.WorkerCount).
		Int("worker_queue_size", c.WorkerQueueSize).
		Int("hook_rate_burst", c.HookRateBurst).
		Float64("hook_rate_per_sec", c.HookRate).
		Str("nats_url", c.NATSURL).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Service configuration loaded")
}
