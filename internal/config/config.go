// Package config loads and validates the agentweb.yml configuration and
// provides hot reload with change notification. Components receive a Config
// snapshot at construction; nothing reads global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level agentweb.yml configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Instance string         `yaml:"instance"`
	Redis    RedisConfig    `yaml:"redis"`
	Stream   StreamConfig   `yaml:"stream,omitempty"`
	Snapshot SnapshotConfig `yaml:"snapshot,omitempty"`
	Guardian GuardianConfig `yaml:"guardian,omitempty"`
	Agents   AgentsConfig   `yaml:"agents,omitempty"`
	Health   HealthConfig   `yaml:"health,omitempty"`
}

// RedisConfig locates the backing Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// StreamConfig tunes the router's consumption loops.
type StreamConfig struct {
	BatchSize    int           `yaml:"batch_size,omitempty"`    // default 16
	BlockTimeout time.Duration `yaml:"block_timeout,omitempty"` // default 2s
	RetryDelay   time.Duration `yaml:"retry_delay,omitempty"`   // default 100ms
}

// SnapshotConfig controls consumer state snapshots.
type SnapshotConfig struct {
	Dir   string `yaml:"dir,omitempty"`   // default ./snapshots
	Every int    `yaml:"every,omitempty"` // facts between snapshots, default 100
}

// GuardianConfig enables the invariant monitor.
type GuardianConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // default true
	Group   string `yaml:"group,omitempty"`   // default "guardian"
}

// AgentsConfig toggles the built-in derived-fact producers.
type AgentsConfig struct {
	Progress bool `yaml:"progress,omitempty"`
	Relation bool `yaml:"relation,omitempty"`
}

// HealthConfig configures the HTTP health endpoint.
type HealthConfig struct {
	Port int `yaml:"port,omitempty"` // default 8080, 0 keeps the default
}

// GuardianEnabled reports whether the guardian should run.
func (c *Config) GuardianEnabled() bool {
	return c.Guardian.Enabled == nil || *c.Guardian.Enabled
}

// Validate performs strict validation and applies defaults in place.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if c.Instance == "" {
		return fmt.Errorf("instance is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Stream.BatchSize < 0 {
		return fmt.Errorf("stream.batch_size must be >= 0, got %d", c.Stream.BatchSize)
	}
	if c.Stream.BlockTimeout < 0 {
		return fmt.Errorf("stream.block_timeout must be >= 0, got %s", c.Stream.BlockTimeout)
	}
	if c.Stream.RetryDelay < 0 {
		return fmt.Errorf("stream.retry_delay must be >= 0, got %s", c.Stream.RetryDelay)
	}

	if c.Snapshot.Every < 0 {
		return fmt.Errorf("snapshot.every must be >= 0, got %d", c.Snapshot.Every)
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "./snapshots"
	}
	if c.Snapshot.Every == 0 {
		c.Snapshot.Every = 100
	}

	if c.Guardian.Group == "" {
		c.Guardian.Group = "guardian"
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be in [0, 65535], got %d", c.Health.Port)
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8080
	}

	return nil
}

// Load reads and validates agentweb.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
