// Package config loads bigjsond's configuration: the two CLI flags the
// upstream server exposes (--data-dir, --bind) plus the ambient settings
// (logging, metrics, rate limiting) every component in this repo needs but
// that spec.md leaves implicit.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds bigjsond's full configuration. CLI flags take precedence
// over environment variables, which take precedence over .env file values,
// which take precedence over the struct tag defaults below — the same
// layering as the teacher's LoadConfig.
type Config struct {
	// DataDir is where the journal lives. Empty means run purely in memory
	// with no persistence, per spec.md §6.
	DataDir string `env:"BIGJSON_DATA_DIR" envDefault:""`
	// Bind is the HTTP listen address.
	Bind string `env:"BIGJSON_BIND" envDefault:"127.0.0.1:3000"`

	// MaxConnections bounds concurrent WebSocket connections.
	MaxConnections int `env:"BIGJSON_MAX_CONNECTIONS" envDefault:"10000"`
	// ConnectionRateLimit bounds new WebSocket upgrades accepted per second.
	ConnectionRateLimit float64 `env:"BIGJSON_CONN_RATE_LIMIT" envDefault:"200"`
	// ConnectionRateBurst is the token-bucket burst allowance layered on
	// ConnectionRateLimit.
	ConnectionRateBurst int `env:"BIGJSON_CONN_RATE_BURST" envDefault:"50"`

	// MetricsInterval controls how often process-resource gauges (CPU,
	// memory) are refreshed.
	MetricsInterval time.Duration `env:"BIGJSON_METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"BIGJSON_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BIGJSON_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"BIGJSON_ENV" envDefault:"development"`
}

// Load parses CLI flags, then environment variables (after loading an
// optional .env file), applying struct-tag defaults for anything unset, and
// validates the result. logger may be nil during very early startup before
// a logger exists.
func Load(args []string, logger *zerolog.Logger) (*Config, error) {
	fs := flag.NewFlagSet("bigjsond", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "directory holding the journal; omit to run in-memory only")
	bind := fs.String("bind", "", "HTTP listen address (overrides BIGJSON_BIND)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *bind != "" {
		cfg.Bind = *bind
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks cfg for internally-consistent, in-range values.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("bind address is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max connections must be > 0, got %d", c.MaxConnections)
	}
	if c.ConnectionRateLimit <= 0 {
		return fmt.Errorf("connection rate limit must be > 0, got %f", c.ConnectionRateLimit)
	}
	if c.ConnectionRateBurst < 1 {
		return fmt.Errorf("connection rate burst must be > 0, got %d", c.ConnectionRateBurst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log format must be one of json, console (got %q)", c.LogFormat)
	}
	return nil
}

// LogFields logs cfg using structured fields, mirroring the teacher's
// LogConfig.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("bind", c.Bind).
		Str("data_dir", c.DataDir).
		Int("max_connections", c.MaxConnections).
		Float64("connection_rate_limit", c.ConnectionRateLimit).
		Int("connection_rate_burst", c.ConnectionRateBurst).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}

// Persistent reports whether a data directory was configured.
func (c *Config) Persistent() bool {
	return c.DataDir != ""
}
