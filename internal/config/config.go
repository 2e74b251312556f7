// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package config holds all application configuration loaded from
// defaults, an optional YAML config file, and environment variables.
//
// Loading order (Koanf v2, highest priority wins):
//  1. Built-in defaults
//  2. Config file (config.yaml, or CONFIG_PATH override)
//  3. Environment variables (SWITCHBOARD_ prefix)
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Switchboard server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Badger   BadgerConfig   `koanf:"badger"`
	Chat     ChatConfig     `koanf:"chat"`
	Queue    QueueConfig    `koanf:"queue"`
	Presence PresenceConfig `koanf:"presence"`
	Assign   AssignConfig   `koanf:"assign"`
	Auth     AuthConfig     `koanf:"auth"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment variables:
//   - SWITCHBOARD_SERVER_HOST, SWITCHBOARD_SERVER_PORT
//   - SWITCHBOARD_SERVER_TIMEOUT
//   - SWITCHBOARD_SERVER_CORS_ORIGINS (comma-separated)
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings for the durable session store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// BadgerConfig holds BadgerDB settings for ephemeral presence and
// queue state.
type BadgerConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// ChatConfig holds protocol handler settings.
type ChatConfig struct {
	// AuthGrace is how long an unauthenticated connection may idle
	// before it is dropped.
	AuthGrace time.Duration `koanf:"auth_grace"`

	// MaxMessageBytes bounds the size of a single inbound frame.
	MaxMessageBytes int64 `koanf:"max_message_bytes"`

	// MessageRate and MessageBurst bound per-connection send volume.
	MessageRate  float64 `koanf:"message_rate"`
	MessageBurst int     `koanf:"message_burst"`
}

// QueueConfig holds waiting-queue settings.
type QueueConfig struct {
	// Ordering selects FIFO or priority-then-FIFO drain order.
	Ordering string `koanf:"ordering"`

	// SlotEstimate is the advisory per-position wait estimate.
	SlotEstimate time.Duration `koanf:"slot_estimate"`

	// MaxEstimate caps the advertised wait estimate.
	MaxEstimate time.Duration `koanf:"max_estimate"`
}

// PresenceConfig holds presence store settings.
type PresenceConfig struct {
	// TTL is the window within which a presence entry must be
	// refreshed before it expires from the store.
	TTL time.Duration `koanf:"ttl"`

	// DefaultMaxSessions is the capacity used when an agent registers
	// without declaring one.
	DefaultMaxSessions int `koanf:"default_max_sessions"`
}

// AssignConfig holds assignment engine settings.
type AssignConfig struct {
	// DrainInterval is how often the engine re-scans queues to catch
	// triggers lost to races or restarts.
	DrainInterval time.Duration `koanf:"drain_interval"`
}

// AuthConfig holds identity verification settings.
type AuthConfig struct {
	// JWTSecret is the HMAC secret for token verification (32+ chars).
	JWTSecret string `koanf:"jwt_secret"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `koanf:"issuer"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if !c.Badger.InMemory && c.Badger.Path == "" {
		return fmt.Errorf("badger.path is required unless badger.in_memory is set")
	}
	if c.Presence.TTL < time.Second {
		return fmt.Errorf("presence.ttl must be at least 1s, got %s", c.Presence.TTL)
	}
	if c.Presence.DefaultMaxSessions < 1 {
		return fmt.Errorf("presence.default_max_sessions must be positive")
	}
	if c.Queue.Ordering != "fifo" && c.Queue.Ordering != "priority" {
		return fmt.Errorf("queue.ordering must be fifo or priority, got %q", c.Queue.Ordering)
	}
	if c.Queue.SlotEstimate <= 0 {
		return fmt.Errorf("queue.slot_estimate must be positive")
	}
	if c.Chat.MessageRate <= 0 || c.Chat.MessageBurst <= 0 {
		return fmt.Errorf("chat.message_rate and chat.message_burst must be positive")
	}
	if len(c.Auth.JWTSecret) > 0 && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
