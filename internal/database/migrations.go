// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/switchboard/internal/logging"
)

// Migration is one versioned, append-only schema change.
// Never modify or remove an existing migration once released.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const chatSessionsTable = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	agent_id TEXT,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	subject TEXT,
	customer_name TEXT,
	customer_email TEXT,
	customer_user_agent TEXT,
	customer_remote_ip TEXT,
	orphaned BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	ended_at TIMESTAMP,
	last_activity TIMESTAMP NOT NULL
);
`

const chatMessagesTable = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id UUID PRIMARY KEY,
	session_id UUID NOT NULL,
	sender_id TEXT NOT NULL,
	sender_role TEXT NOT NULL,
	body TEXT NOT NULL,
	kind TEXT NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	read_at TIMESTAMP
);
`

const chatIndexes = `
CREATE INDEX IF NOT EXISTS idx_sessions_agent_status ON chat_sessions (agent_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant_status ON chat_sessions (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON chat_messages (session_id, created_at);
`

// getMigrations returns all versioned migrations in order.
func (db *DB) getMigrations() []Migration {
	// The initial schema lives in the CREATE TABLE statements above;
	// post-release changes go here starting at version 1.
	return []Migration{}
}

// migrate creates the base schema and applies pending migrations.
func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range []string{schemaMigrationsTable, chatSessionsTable, chatMessagesTable, chatIndexes} {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}

	applied := make(map[int]bool)
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	for _, m := range db.getMigrations() {
		if applied[m.Version] {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		logging.Info().Str("component", "database").Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	}
	return nil
}
