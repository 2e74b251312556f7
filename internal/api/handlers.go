// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/switchboard/internal/chat"
	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/database"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/models"
	"github.com/tomtom215/switchboard/internal/presence"
	"github.com/tomtom215/switchboard/internal/queue"
)

const readTimeout = 10 * time.Second

// Handlers serves the read-only REST boundary. All writes flow through
// the session protocol; REST never mutates state.
type Handlers struct {
	db       *database.DB
	queue    *queue.Queue
	presence *presence.Store
	hub      *chat.Hub

	// breaker guards the analytical store: sustained read failures
	// trip it so dashboard polling stops hammering a sick database.
	breaker *gobreaker.CircuitBreaker[any]
}

// NewHandlers creates the REST handler set.
func NewHandlers(db *database.DB, q *queue.Queue, p *presence.Store, hub *chat.Hub) *Handlers {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "store-reads",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("component", "api").Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &Handlers{db: db, queue: q, presence: p, hub: hub, breaker: breaker}
}

// readThrough runs one store read inside the breaker, retrying once on
// a transient failure. Reads are idempotent so the retry is safe.
func (h *Handlers) readThrough(fn func() (any, error)) (any, error) {
	result, err := h.breaker.Execute(fn)
	if err != nil && errors.Is(err, chaterr.ErrTransientStore) {
		result, err = h.breaker.Execute(fn)
	}
	return result, err
}

// writeStoreError maps a read-path error to its HTTP response.
func writeStoreError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, chaterr.ErrNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rw.ServiceUnavailable("store reads are temporarily unavailable")
	default:
		rw.DatabaseError(err)
	}
}

// Health reports component readiness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logging.Error().Err(err).Str("component", "api").Msg("health check store ping failed")
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "store unavailable")
		return
	}

	rw.Success(map[string]any{
		"status":      "ok",
		"connections": h.hub.ClientCount(),
		"time":        time.Now().UTC(),
	})
}

// HealthLive is the liveness probe; it never touches the stores.
func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// AgentSessions returns the agent's active sessions. Agents may only
// read their own workload.
func (h *Handlers) AgentSessions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		rw.Unauthorized("authentication required")
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if identity.Role != models.RoleAgent || identity.ID != agentID {
		rw.Forbidden("agents may only read their own sessions")
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	result, err := h.readThrough(func() (any, error) {
		return h.db.ListActiveSessionsByAgent(ctx, agentID, limit, offset)
	})
	if err != nil {
		writeStoreError(rw, err)
		return
	}

	sessions, _ := result.([]*models.ChatSession)
	rw.SuccessWithPagination(sessions, &PaginationMeta{
		Count:   len(sessions),
		Limit:   limit,
		HasMore: len(sessions) == limit,
	})
}

// SessionMessages returns a page of session history. Customers may read
// their own sessions; agents may read any session in their tenant.
func (h *Handlers) SessionMessages(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		rw.Unauthorized("authentication required")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		rw.BadRequest("invalid session id")
		return
	}

	var after time.Time
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			rw.BadRequest("after must be an RFC 3339 timestamp")
			return
		}
	}
	limit := queryInt(r, "limit", 50)

	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	result, err := h.readThrough(func() (any, error) {
		return h.db.GetSession(ctx, sessionID)
	})
	if err != nil {
		writeStoreError(rw, err)
		return
	}
	session := result.(*models.ChatSession)

	if identity.TenantID != session.TenantID ||
		(identity.Role != models.RoleAgent && identity.ID != session.CustomerID) {
		rw.Forbidden("not a participant of this session")
		return
	}

	result, err = h.readThrough(func() (any, error) {
		return h.db.ListMessages(ctx, sessionID, after, limit)
	})
	if err != nil {
		writeStoreError(rw, err)
		return
	}
	messages, _ := result.([]*models.ChatMessage)

	pagination := &PaginationMeta{
		Count:   len(messages),
		Limit:   limit,
		HasMore: len(messages) == limit,
	}
	if len(messages) > 0 {
		pagination.NextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	rw.SuccessWithPagination(messages, pagination)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
