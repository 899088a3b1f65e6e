// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates kv-server's configuration: an optional
// YAML file for settings that don't make sense as one-shot flags (rate-limit
// tiers, logging format), over which the command-line flags are applied.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the complete runtime configuration for one kv-server
// process.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	ReplicaOf string `yaml:"replica_of"` // "host:port", empty means leader

	Logging     LoggingConfig     `yaml:"logging"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	RDB         RDBConfig         `yaml:"rdb"`
	Replication ReplicationConfig `yaml:"replication"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error, default info
	Format string `yaml:"format"` // json|text, default json
}

// RateLimitConfig bounds the command rate a single connection may sustain.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`             // default true
	CommandsPerSecond float64 `yaml:"commands_per_second"` // default 1000
	Burst             int     `yaml:"burst"`               // default 2000
}

// MetricsConfig controls the optional Prometheus HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default false
	Listen  string `yaml:"listen"`  // default "127.0.0.1:9121"
}

// RDBConfig controls the boundary RDB snapshot loaded at startup.
type RDBConfig struct {
	Path string `yaml:"path"` // empty disables warm-load
}

// ReplicationConfig tunes leader/follower behavior.
type ReplicationConfig struct {
	AckInterval      time.Duration `yaml:"ack_interval"`       // default 1s
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`  // default 2s
	MaxWaitersPerKey int           `yaml:"max_waiters_per_key"` // default 4096
}

// Load reads and validates a YAML config file at path, applying defaults for
// anything left unset. path == "" yields an all-defaults configuration,
// matching a flags-only invocation.
func Load(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:6379"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json|text, got %q", c.Logging.Format)
	}

	if !c.RateLimit.Enabled && c.RateLimit.CommandsPerSecond == 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.CommandsPerSecond <= 0 {
		c.RateLimit.CommandsPerSecond = 1000
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 2000
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9121"
	}

	if c.Replication.AckInterval <= 0 {
		c.Replication.AckInterval = time.Second
	}
	if c.Replication.ReconnectBackoff <= 0 {
		c.Replication.ReconnectBackoff = 2 * time.Second
	}
	if c.Replication.MaxWaitersPerKey <= 0 {
		c.Replication.MaxWaitersPerKey = 4096
	}

	return nil
}
