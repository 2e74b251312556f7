// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package assign pairs waiting sessions with available agents.
//
// The engine is triggered when a session is enqueued or an agent
// becomes available, and a supervised drain loop re-scans known
// tenants periodically to catch triggers lost to races or restarts.
//
// Commit protocol per assignment: presence increment (capacity gate)
// -> durable bind (conditional UPDATE) -> dequeue (commit point) ->
// notify. A failed bind rolls the increment back so agent capacity
// accounting stays correct.
package assign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/database"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/metrics"
	"github.com/tomtom215/switchboard/internal/models"
	"github.com/tomtom215/switchboard/internal/presence"
	"github.com/tomtom215/switchboard/internal/queue"
)

// Notifier receives assignment and queue-change notices.
// The chat hub implements this; the indirection keeps the engine free
// of a dependency on the protocol layer.
type Notifier interface {
	// AssignmentBound is called after a successful assignment commits.
	AssignmentBound(session *models.ChatSession, agent *models.AgentPresence)

	// QueueChanged is called whenever a tenant's queue shrinks.
	QueueChanged(tenantID string)
}

// Engine matches waiting sessions to available agents.
type Engine struct {
	presence *presence.Store
	queue    *queue.Queue
	db       *database.DB
	notifier Notifier

	drainInterval time.Duration

	triggers chan string

	// tenants remembers every tenant seen by a trigger so the periodic
	// drain knows which queues to scan.
	tenants sync.Map
}

// NewEngine creates an assignment engine.
func NewEngine(p *presence.Store, q *queue.Queue, db *database.DB, n Notifier, drainInterval time.Duration) *Engine {
	if drainInterval <= 0 {
		drainInterval = 5 * time.Second
	}
	return &Engine{
		presence:      p,
		queue:         q,
		db:            db,
		notifier:      n,
		drainInterval: drainInterval,
		triggers:      make(chan string, 64),
	}
}

// Trigger requests an assignment pass for the tenant. Non-blocking;
// a full channel is fine because the periodic drain is the backstop.
func (e *Engine) Trigger(tenantID string) {
	e.tenants.Store(tenantID, struct{}{})
	select {
	case e.triggers <- tenantID:
	default:
	}
}

// Serve runs the trigger/drain loop under supervision.
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tenantID := <-e.triggers:
			e.drainTenant(ctx, tenantID)
		case <-ticker.C:
			e.tenants.Range(func(key, _ any) bool {
				e.drainTenant(ctx, key.(string))
				return true
			})
		}
	}
}

// String names the service in supervisor logs.
func (e *Engine) String() string {
	return "assignment-engine"
}

// drainTenant assigns sessions from the head of the tenant's queue
// until no agent is available or the queue is empty.
func (e *Engine) drainTenant(ctx context.Context, tenantID string) {
	for {
		session, err := e.AssignNext(ctx, tenantID)
		if err != nil {
			logging.Error().Err(err).Str("component", "assign").Str("tenant_id", tenantID).
				Msg("assignment pass failed")
			return
		}
		if session == nil {
			return
		}
	}
}

// AssignNext attempts to assign the tenant's head-of-queue session.
// Returns (nil, nil) when the queue is empty or no agent is available —
// an expected outcome, not an error.
func (e *Engine) AssignNext(ctx context.Context, tenantID string) (*models.ChatSession, error) {
	entry, err := e.queue.Peek(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	candidates, err := e.presence.ListAvailable(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		metrics.Assignments.WithLabelValues("no_agent").Inc()
		return nil, nil
	}

	// Least-loaded first; ties prefer the most recently active agent.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CurrentSessions != candidates[j].CurrentSessions {
			return candidates[i].CurrentSessions < candidates[j].CurrentSessions
		}
		return candidates[i].LastActivity.After(candidates[j].LastActivity)
	})

	for _, agent := range candidates {
		session, err := e.bind(ctx, entry, agent)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
		// Slot lost to a racing assignment or a stale queue entry;
		// try the next candidate unless the entry is gone.
		if _, err := e.queue.Position(ctx, tenantID, entry.SessionID); err != nil {
			if errors.Is(err, chaterr.ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("recheck queue entry: %w", err)
		}
	}

	metrics.Assignments.WithLabelValues("no_agent").Inc()
	return nil, nil
}

// AssignTo binds a specific waiting session to a specific agent. This
// is the explicit accept path; the commit protocol is the same as the
// automatic one. Returns ErrNotFound for an unknown session and
// ErrConflict when the session belongs to another tenant, is no longer
// waiting, or the agent has no free slot.
func (e *Engine) AssignTo(ctx context.Context, sessionID uuid.UUID, agentID string) (*models.ChatSession, error) {
	current, err := e.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	agent, err := e.presence.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: agent %s is not online", chaterr.ErrConflict, agentID)
	}
	// Accepts never cross tenants; the automatic path is scoped the
	// same way through ListAvailable.
	if current.TenantID != agent.TenantID {
		metrics.Assignments.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: session %s belongs to another tenant", chaterr.ErrConflict, sessionID)
	}

	if err := e.presence.IncrementSessions(ctx, agentID); err != nil {
		if errors.Is(err, chaterr.ErrConflict) {
			metrics.Assignments.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: agent %s is at capacity", chaterr.ErrConflict, agentID)
		}
		return nil, err
	}

	now := time.Now().UTC()
	if err := e.db.AssignAgent(ctx, sessionID, agentID, now); err != nil {
		if derr := e.presence.DecrementSessions(ctx, agentID); derr != nil {
			logging.Error().Err(derr).Str("component", "assign").Str("agent_id", agentID).
				Msg("failed to roll back session count after bind failure")
		}
		if errors.Is(err, chaterr.ErrConflict) {
			metrics.Assignments.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: session %s is not waiting", chaterr.ErrConflict, sessionID)
		}
		metrics.Assignments.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("durable bind: %w", err)
	}

	if _, err := e.queue.Dequeue(ctx, sessionID); err != nil {
		logging.Error().Err(err).Str("component", "assign").Str("session_id", sessionID.String()).
			Msg("dequeue after bind failed; periodic drain will drop the stale entry")
	}

	session, err := e.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	agent.CurrentSessions++
	metrics.Assignments.WithLabelValues("assigned").Inc()
	logging.Info().Str("component", "assign").
		Str("session_id", session.ID.String()).
		Str("agent_id", agentID).
		Str("tenant_id", session.TenantID).
		Msg("session accepted")

	if e.notifier != nil {
		e.notifier.AssignmentBound(session, agent)
		e.notifier.QueueChanged(session.TenantID)
	}
	return session, nil
}

// bind performs the three-step commit for one candidate. Returns
// (nil, nil) when the candidate's slot was lost to a race, which is
// retryable with the next candidate.
func (e *Engine) bind(ctx context.Context, entry *models.QueueEntry, agent *models.AgentPresence) (*models.ChatSession, error) {
	// Capacity gate: only one racing assignment can win this slot.
	if err := e.presence.IncrementSessions(ctx, agent.AgentID); err != nil {
		if errors.Is(err, chaterr.ErrConflict) || errors.Is(err, chaterr.ErrNotFound) {
			metrics.Assignments.WithLabelValues("conflict").Inc()
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if err := e.db.AssignAgent(ctx, entry.SessionID, agent.AgentID, now); err != nil {
		// Compensate: the durable bind did not happen, so the slot
		// must be returned regardless of why.
		if derr := e.presence.DecrementSessions(ctx, agent.AgentID); derr != nil {
			logging.Error().Err(derr).Str("component", "assign").Str("agent_id", agent.AgentID).
				Msg("failed to roll back session count after bind failure")
		}
		if errors.Is(err, chaterr.ErrConflict) {
			// The session left waiting state behind our back (ended or
			// abandoned). Drop the stale queue entry.
			if _, qerr := e.queue.Dequeue(ctx, entry.SessionID); qerr != nil {
				logging.Error().Err(qerr).Str("component", "assign").Msg("failed to drop stale queue entry")
			}
			metrics.Assignments.WithLabelValues("conflict").Inc()
			return nil, nil
		}
		metrics.Assignments.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("durable bind: %w", err)
	}

	// Commit point: the entry is removed from the queue exactly once.
	if _, err := e.queue.Dequeue(ctx, entry.SessionID); err != nil {
		logging.Error().Err(err).Str("component", "assign").Str("session_id", entry.SessionID.String()).
			Msg("dequeue after bind failed; periodic drain will drop the stale entry")
	}

	session, err := e.db.GetSession(ctx, entry.SessionID)
	if err != nil {
		return nil, err
	}

	metrics.Assignments.WithLabelValues("assigned").Inc()
	metrics.QueueWaitSeconds.Observe(now.Sub(entry.EnqueuedAt).Seconds())
	logging.Info().Str("component", "assign").
		Str("session_id", session.ID.String()).
		Str("agent_id", agent.AgentID).
		Str("tenant_id", session.TenantID).
		Msg("session assigned")

	if e.notifier != nil {
		e.notifier.AssignmentBound(session, agent)
		e.notifier.QueueChanged(session.TenantID)
	}
	return session, nil
}
