// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/metrics"
	"github.com/tomtom215/switchboard/internal/models"
)

// CreateSession inserts a new waiting session.
func (db *DB) CreateSession(ctx context.Context, s *models.ChatSession) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO chat_sessions (
			id, tenant_id, customer_id, agent_id, status, priority, subject,
			customer_name, customer_email, customer_user_agent, customer_remote_ip,
			orphaned, created_at, started_at, ended_at, last_activity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TenantID, s.CustomerID, nullStr(s.AgentID), string(s.Status), string(s.Priority),
		nullStr(s.Subject), nullStr(s.Customer.Name), nullStr(s.Customer.Email),
		nullStr(s.Customer.UserAgent), nullStr(s.Customer.RemoteIP),
		s.Orphaned, s.CreatedAt, s.StartedAt, s.EndedAt, s.LastActivity,
	)
	metrics.StoreDuration.WithLabelValues("create_session", "chat_sessions").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: insert session: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// GetSession fetches a session by id.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, customer_id, agent_id, status, priority, subject,
			customer_name, customer_email, customer_user_agent, customer_remote_ip,
			orphaned, created_at, started_at, ended_at, last_activity
		FROM chat_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	metrics.StoreDuration.WithLabelValues("get_session", "chat_sessions").Observe(time.Since(start).Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", chaterr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %w", chaterr.ErrTransientStore, err)
	}
	return s, nil
}

// AssignAgent binds an agent to a waiting session. The conditional
// UPDATE is the durable half of the at-most-once assignment invariant:
// a session that is no longer waiting matches zero rows and the bind
// fails with ErrConflict.
func (db *DB) AssignAgent(ctx context.Context, sessionID uuid.UUID, agentID string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE chat_sessions
		SET agent_id = ?, status = ?, started_at = ?, last_activity = ?
		WHERE id = ? AND status = ?`,
		agentID, string(models.StatusActive), at, at, sessionID, string(models.StatusWaiting))
	if err != nil {
		return fmt.Errorf("%w: assign agent: %w", chaterr.ErrTransientStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: assign agent rows: %w", chaterr.ErrTransientStore, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s is not waiting", chaterr.ErrConflict, sessionID)
	}
	return nil
}

// EndSession marks a session resolved. Idempotent: ending an
// already-terminal session returns (false, nil) so the caller can skip
// duplicate broadcast side effects.
func (db *DB) EndSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE chat_sessions
		SET status = ?, ended_at = ?, last_activity = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.StatusResolved), at, at, sessionID,
		string(models.StatusActive), string(models.StatusWaiting))
	if err != nil {
		return false, fmt.Errorf("%w: end session: %w", chaterr.ErrTransientStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: end session rows: %w", chaterr.ErrTransientStore, err)
	}
	return n > 0, nil
}

// AbandonSession implements the external idle-sweep write contract:
// set status=abandoned for a still-waiting session. The sweep dequeues
// separately; both operations are idempotent.
func (db *DB) AbandonSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE chat_sessions
		SET status = ?, ended_at = ?, last_activity = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusAbandoned), at, at, sessionID, string(models.StatusWaiting))
	if err != nil {
		return false, fmt.Errorf("%w: abandon session: %w", chaterr.ErrTransientStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: abandon session rows: %w", chaterr.ErrTransientStore, err)
	}
	return n > 0, nil
}

// FlagOrphaned marks an active session whose agent connection dropped
// without handoff. The external sweep decides what happens next; the
// core never reassigns automatically.
func (db *DB) FlagOrphaned(ctx context.Context, sessionID uuid.UUID) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE chat_sessions SET orphaned = TRUE WHERE id = ? AND status = ?`,
		sessionID, string(models.StatusActive))
	if err != nil {
		return fmt.Errorf("%w: flag orphaned: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// TouchActivity stamps last_activity on every relayed event.
func (db *DB) TouchActivity(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE chat_sessions SET last_activity = ? WHERE id = ?`, at, sessionID)
	if err != nil {
		return fmt.Errorf("%w: touch activity: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// ListActiveSessionsByAgent returns the agent's active sessions,
// most recent activity first.
func (db *DB) ListActiveSessionsByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.ChatSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, tenant_id, customer_id, agent_id, status, priority, subject,
			customer_name, customer_email, customer_user_agent, customer_remote_ip,
			orphaned, created_at, started_at, ended_at, last_activity
		FROM chat_sessions
		WHERE agent_id = ? AND status = ?
		ORDER BY last_activity DESC
		LIMIT ? OFFSET ?`,
		agentID, string(models.StatusActive), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list agent sessions: %w", chaterr.ErrTransientStore, err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan session: %w", chaterr.ErrTransientStore, err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sessions: %w", chaterr.ErrTransientStore, err)
	}
	return sessions, nil
}

// CountActiveSessions returns the number of active sessions for a tenant.
func (db *DB) CountActiveSessions(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE tenant_id = ? AND status = ?`,
		tenantID, string(models.StatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count active sessions: %w", chaterr.ErrTransientStore, err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*models.ChatSession, error) {
	var (
		s                                   models.ChatSession
		agentID, subject                    sql.NullString
		custName, custEmail, custUA, custIP sql.NullString
		startedAt, endedAt                  sql.NullTime
	)
	err := sc.Scan(&s.ID, &s.TenantID, &s.CustomerID, &agentID, &s.Status, &s.Priority,
		&subject, &custName, &custEmail, &custUA, &custIP,
		&s.Orphaned, &s.CreatedAt, &startedAt, &endedAt, &s.LastActivity)
	if err != nil {
		return nil, err
	}
	s.AgentID = agentID.String
	s.Subject = subject.String
	s.Customer = models.CustomerInfo{
		Name:      custName.String,
		Email:     custEmail.String,
		UserAgent: custUA.String,
		RemoteIP:  custIP.String,
	}
	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
