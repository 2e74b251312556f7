// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Server.Port != 8384 {
		t.Errorf("default port = %d, want 8384", cfg.Server.Port)
	}
	if cfg.Presence.TTL != 90*time.Second {
		t.Errorf("default presence TTL = %s, want 90s", cfg.Presence.TTL)
	}
	if cfg.Queue.Ordering != "fifo" {
		t.Errorf("default ordering = %q, want fifo", cfg.Queue.Ordering)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"huge port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing badger path", func(c *Config) { c.Badger.Path = ""; c.Badger.InMemory = false }, "badger.path"},
		{"tiny ttl", func(c *Config) { c.Presence.TTL = 500 * time.Millisecond }, "presence.ttl"},
		{"zero max sessions", func(c *Config) { c.Presence.DefaultMaxSessions = 0 }, "default_max_sessions"},
		{"bad ordering", func(c *Config) { c.Queue.Ordering = "lifo" }, "queue.ordering"},
		{"zero slot estimate", func(c *Config) { c.Queue.SlotEstimate = 0 }, "slot_estimate"},
		{"zero message rate", func(c *Config) { c.Chat.MessageRate = 0 }, "message_rate"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestInMemoryBadgerNeedsNoPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Badger.Path = ""
	cfg.Badger.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("in-memory badger rejected: %v", err)
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"SWITCHBOARD_SERVER_PORT":         "server.port",
		"SWITCHBOARD_QUEUE_SLOT_ESTIMATE": "queue.slot_estimate",
		"SWITCHBOARD_AUTH_JWT_SECRET":     "auth.jwt_secret",
		"SWITCHBOARD_BADGER_IN_MEMORY":    "badger.in_memory",
		"SWITCHBOARD_PRESENCE_TTL":        "presence.ttl",
		"SWITCHBOARD_LOGGING":             "logging",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Pin CONFIG_PATH to an empty file so any config.yaml on the test
	// machine cannot leak into the load.
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SWITCHBOARD_SERVER_PORT", "9999")
	t.Setenv("SWITCHBOARD_QUEUE_ORDERING", "priority")
	t.Setenv("SWITCHBOARD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Queue.Ordering != "priority" {
		t.Errorf("ordering = %q, want priority", cfg.Queue.Ordering)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: 8500\npresence:\n  ttl: 2m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8500 {
		t.Errorf("port = %d, want 8500", cfg.Server.Port)
	}
	if cfg.Presence.TTL != 2*time.Minute {
		t.Errorf("ttl = %s, want 2m", cfg.Presence.TTL)
	}
	// Untouched values keep their defaults.
	if cfg.Queue.SlotEstimate != 3*time.Minute {
		t.Errorf("slot estimate = %s, want default 3m", cfg.Queue.SlotEstimate)
	}
}

func TestAddr(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8384}
	if got := c.Addr(); got != "127.0.0.1:8384" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8384", got)
	}
}
