// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package main is the entry point for the Switchboard server.
//
// Switchboard routes live customer chat sessions to support agents. It
// exposes a WebSocket session protocol for customers and agents, a
// per-tenant waiting queue with load-based assignment, a TTL-based
// agent presence store, and a read-only REST boundary over session
// history.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, config.yaml, SWITCHBOARD_ env)
//  2. Durable store: DuckDB for sessions and message history
//  3. Ephemeral store: BadgerDB for agent presence (TTL) and the waiting queue
//  4. Chat hub and protocol service: WebSocket session handling
//  5. Assignment engine: pairs waiting sessions with available agents
//  6. HTTP server: WebSocket upgrade, read-only REST, Prometheus metrics
//
// Components 4-6 run under a Suture supervisor tree so a crash in one
// layer restarts that layer without tearing the process down.
//
// # Configuration
//
// Minimal production setup:
//
//	export SWITCHBOARD_AUTH_JWT_SECRET=$(openssl rand -base64 32)
//	export SWITCHBOARD_DATABASE_PATH=/var/lib/switchboard/chat.db
//	export SWITCHBOARD_BADGER_PATH=/var/lib/switchboard/state
//	./switchboard
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the hub closes every WebSocket connection, and
// both stores are closed in dependency order.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/switchboard/internal/api"
	"github.com/tomtom215/switchboard/internal/assign"
	"github.com/tomtom215/switchboard/internal/auth"
	"github.com/tomtom215/switchboard/internal/chat"
	"github.com/tomtom215/switchboard/internal/config"
	"github.com/tomtom215/switchboard/internal/database"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/presence"
	"github.com/tomtom215/switchboard/internal/queue"
	"github.com/tomtom215/switchboard/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("starting switchboard")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("session store close failed")
		}
	}()

	kv, err := openBadger(&cfg.Badger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logging.Error().Err(err).Msg("state store close failed")
		}
	}()

	presenceStore := presence.NewStore(kv, cfg.Presence.TTL, cfg.Presence.DefaultMaxSessions)

	ordering := queue.OrderingFIFO
	if cfg.Queue.Ordering == "priority" {
		ordering = queue.OrderingPriorityThenFIFO
	}
	waitQueue, err := queue.New(kv, ordering, cfg.Queue.SlotEstimate, cfg.Queue.MaxEstimate)
	if err != nil {
		return fmt.Errorf("open waiting queue: %w", err)
	}
	defer waitQueue.Close()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("configure verifier: %w", err)
	}

	hub := chat.NewHub()
	service := chat.NewService(hub, db, waitQueue, presenceStore, verifier, chat.Config{
		AuthGrace:          cfg.Chat.AuthGrace,
		MaxMessageBytes:    cfg.Chat.MaxMessageBytes,
		MessageRate:        cfg.Chat.MessageRate,
		MessageBurst:       cfg.Chat.MessageBurst,
		DefaultMaxSessions: cfg.Presence.DefaultMaxSessions,
	})
	engine := assign.NewEngine(presenceStore, waitQueue, db, service, cfg.Assign.DrainInterval)
	service.SetEngine(engine)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Init(initCtx); err != nil {
		return fmt.Errorf("init chat service: %w", err)
	}

	handlers := api.NewHandlers(db, waitQueue, presenceStore, hub)
	router := api.NewRouter(handlers, service, verifier, &cfg.Server)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}
	tree.AddDataService(supervisor.NewBadgerGCService(kv, cfg.Badger.GCInterval))
	tree.AddMessagingService(hub)
	tree.AddMessagingService(engine)
	tree.AddAPIService(supervisor.NewHTTPServerService(cfg.Server.Addr(), router.Setup(), cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("chat service shutdown failed")
	}

	logging.Info().Msg("switchboard stopped")
	return nil
}

// openBadger opens the shared ephemeral store for presence and queue
// state. Badger's own logger is silenced; GC runs under supervision.
func openBadger(cfg *config.BadgerConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)
	return badger.Open(opts)
}
