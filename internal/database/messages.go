// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/metrics"
	"github.com/tomtom215/switchboard/internal/models"
)

// InsertMessage persists one chat message. Messages are append-only;
// only read_at is ever stamped afterwards.
func (db *DB) InsertMessage(ctx context.Context, m *models.ChatMessage) error {
	start := time.Now()
	var metadata any
	if len(m.Metadata) > 0 {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		metadata = string(data)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, sender_id, sender_role, body, kind, metadata, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.SenderID, string(m.SenderRole), m.Body, string(m.Kind),
		metadata, m.CreatedAt, m.ReadAt)
	metrics.StoreDuration.WithLabelValues("insert_message", "chat_messages").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: insert message: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// MarkMessagesRead stamps read_at on every unread message in the
// session that was sent by the opposite role. Returns the number of
// messages stamped.
func (db *DB) MarkMessagesRead(ctx context.Context, sessionID uuid.UUID, readerRole models.Role, at time.Time) (int64, error) {
	senderRole := models.RoleAgent
	if readerRole == models.RoleAgent {
		senderRole = models.RoleCustomer
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE chat_messages SET read_at = ?
		WHERE session_id = ? AND sender_role = ? AND read_at IS NULL`,
		at, sessionID, string(senderRole))
	if err != nil {
		return 0, fmt.Errorf("%w: mark messages read: %w", chaterr.ErrTransientStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: mark read rows: %w", chaterr.ErrTransientStore, err)
	}
	return n, nil
}

// ListMessages returns a page of session history in creation order.
// Pagination is seek-based: pass the last seen created_at as after, or
// the zero time for the first page.
func (db *DB) ListMessages(ctx context.Context, sessionID uuid.UUID, after time.Time, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, sender_id, sender_role, body, kind, metadata, created_at, read_at
		FROM chat_messages
		WHERE session_id = ? AND created_at > ?
		ORDER BY created_at ASC
		LIMIT ?`, sessionID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", chaterr.ErrTransientStore, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.ChatMessage
	for rows.Next() {
		var (
			m        models.ChatMessage
			metadata sql.NullString
			readAt   sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderRole,
			&m.Body, &m.Kind, &metadata, &m.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", chaterr.ErrTransientStore, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate messages: %w", chaterr.ErrTransientStore, err)
	}
	return messages, nil
}
