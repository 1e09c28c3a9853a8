package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the env-driven configuration for both the worker and
// scheduler binaries. Either one ignores the fields it has no use for
// (a scheduler process has no Queue/BatchSize, a worker process has no
// DispatchIntervalSec).
type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	Queue           string `env:"QUEUE" envDefault:"default" validate:"required"`
	BatchSize       int    `env:"BATCH_SIZE" envDefault:"2" validate:"min=1,max=1000"`
	PollIntervalSec int    `env:"POLL_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=300"`

	DispatchIntervalSec int `env:"DISPATCH_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`

	ExecutorMinThreads  int `env:"EXECUTOR_MIN_THREADS" envDefault:"0" validate:"min=0"`
	ExecutorMaxThreads  int `env:"EXECUTOR_MAX_THREADS" envDefault:"256" validate:"min=1,max=4096"`
	ExecutorIdleTimeout int `env:"EXECUTOR_IDLE_TIMEOUT_SEC" envDefault:"60" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSec) * time.Second
}

func (c *Config) ExecutorIdleTimeoutDuration() time.Duration {
	return time.Duration(c.ExecutorIdleTimeout) * time.Second
}
