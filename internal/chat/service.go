// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package chat implements the bidirectional session protocol: it
// authenticates connections, binds them to session rooms, relays
// messages and typing events, and tears sessions down.
//
// Side-effect order is always persist-then-broadcast: a disconnect
// mid-broadcast never loses persisted data, and a receiver that misses
// a live event recovers from history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/switchboard/internal/assign"
	"github.com/tomtom215/switchboard/internal/auth"
	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/database"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/metrics"
	"github.com/tomtom215/switchboard/internal/models"
	"github.com/tomtom215/switchboard/internal/presence"
	"github.com/tomtom215/switchboard/internal/queue"
	"github.com/tomtom215/switchboard/internal/validation"
)

// opTimeout bounds every store operation dispatched from a connection.
const opTimeout = 10 * time.Second

// Config holds protocol handler settings.
type Config struct {
	AuthGrace          time.Duration
	MaxMessageBytes    int64
	MessageRate        float64
	MessageBurst       int
	DefaultMaxSessions int
}

// Service is the chat protocol handler. It is constructed explicitly
// and passed to connection-handling tasks; there is no package-level
// instance.
type Service struct {
	hub      *Hub
	db       *database.DB
	queue    *queue.Queue
	presence *presence.Store
	verifier auth.Verifier
	engine   *assign.Engine

	authGrace          time.Duration
	maxMessageBytes    int64
	msgRate            float64
	msgBurst           int
	defaultMaxSessions int
}

// NewService creates the protocol handler. The assignment engine is
// attached afterwards via SetEngine because the engine notifies the
// service in turn.
func NewService(hub *Hub, db *database.DB, q *queue.Queue, p *presence.Store, verifier auth.Verifier, cfg Config) *Service {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = 5
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 10
	}
	if cfg.DefaultMaxSessions <= 0 {
		cfg.DefaultMaxSessions = 3
	}
	return &Service{
		hub:                hub,
		db:                 db,
		queue:              q,
		presence:           p,
		verifier:           verifier,
		authGrace:          cfg.AuthGrace,
		maxMessageBytes:    cfg.MaxMessageBytes,
		msgRate:            cfg.MessageRate,
		msgBurst:           cfg.MessageBurst,
		defaultMaxSessions: cfg.DefaultMaxSessions,
	}
}

// SetEngine attaches the assignment engine.
func (s *Service) SetEngine(engine *assign.Engine) {
	s.engine = engine
}

// Init verifies the service is fully wired.
func (s *Service) Init(ctx context.Context) error {
	if s.hub == nil || s.db == nil || s.queue == nil || s.presence == nil || s.verifier == nil || s.engine == nil {
		return errors.New("chat service is not fully wired")
	}
	return s.db.Ping(ctx)
}

// Shutdown releases service-held resources. Connection teardown is
// owned by the hub's supervised Serve loop.
func (s *Service) Shutdown(ctx context.Context) error {
	logging.Info().Str("component", "chat-service").Msg("chat service shutting down")
	return nil
}

// HandleConnection adopts an upgraded WebSocket connection.
func (s *Service) HandleConnection(conn *websocket.Conn, userAgent, remoteIP string) {
	client := NewClient(s.hub, s, conn, s.msgRate, s.msgBurst)
	client.userAgent = userAgent
	client.remoteIP = remoteIP
	s.hub.Register <- client
	client.Start(s.authGrace)
}

// handleEvent dispatches one inbound event. Errors are converted to
// wire error events; only authentication failures close the connection.
func (s *Service) handleEvent(c *Client, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch evt.Type {
	case EventAuthenticate:
		err = s.handleAuthenticate(ctx, c, evt.Data)
	case EventRequestChat:
		err = s.handleRequestChat(ctx, c, evt.Data)
	case EventAcceptChat:
		err = s.handleAcceptChat(ctx, c, evt.Data)
	case EventSendMessage:
		err = s.handleSendMessage(ctx, c, evt.Data)
	case EventTypingStart:
		err = s.handleTyping(c, evt.Data, true)
	case EventTypingStop:
		err = s.handleTyping(c, evt.Data, false)
	case EventMarkRead:
		err = s.handleMarkRead(ctx, c, evt.Data)
	case EventHeartbeat:
		err = s.handleHeartbeat(ctx, c, evt.Data)
	case EventEndChat:
		err = s.handleEndChat(ctx, c, evt.Data)
	default:
		err = fmt.Errorf("%w: unknown event type %q", chaterr.ErrValidation, evt.Type)
	}
	if err != nil {
		s.sendError(c, err)
	}
}

// sendError converts an error to its wire event. Fatal errors close
// the connection after the authentication_error event is queued.
func (s *Service) sendError(c *Client, err error) {
	if chaterr.Fatal(err) {
		metrics.AuthFailures.Inc()
		c.trySend(Message{Type: EventAuthError, Data: AuthErrorData{Reason: err.Error()}})
		// Give the write pump a moment to flush before tearing down.
		time.AfterFunc(writeWait, func() { _ = c.conn.Close() })
		return
	}
	logging.Debug().Err(err).Uint64("client_id", c.id).Msg("request failed")
	c.trySend(Message{Type: EventError, Data: ErrorData{Code: chaterr.Code(err), Message: err.Error()}})
}

func decodePayload[T any](data json.RawMessage) (*T, error) {
	var payload T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("%w: malformed payload: %w", chaterr.ErrValidation, err)
		}
	}
	if err := validation.ValidateStruct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w", chaterr.ErrValidation, err)
	}
	return &payload, nil
}

// parseSessionID parses a payload session id. The uuid validation tag
// has already run; this guards direct callers.
func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid session id", chaterr.ErrValidation)
	}
	return id, nil
}

// requireRole checks the connection is authenticated with the role.
func requireRole(c *Client, role models.Role) (*auth.Identity, error) {
	id := c.Identity()
	if id == nil {
		return nil, fmt.Errorf("%w: not authenticated", chaterr.ErrValidation)
	}
	if id.Role != role {
		return nil, fmt.Errorf("%w: requires %s role", chaterr.ErrValidation, role)
	}
	return id, nil
}

func (s *Service) handleAuthenticate(ctx context.Context, c *Client, data json.RawMessage) error {
	if c.Identity() != nil {
		return fmt.Errorf("%w: connection already authenticated", chaterr.ErrConflict)
	}
	payload, err := decodePayload[AuthenticatePayload](data)
	if err != nil {
		return err
	}

	identity, err := s.verifier.Verify(payload.Token)
	if err != nil {
		return err
	}
	if string(identity.Role) != payload.Role {
		return fmt.Errorf("%w: token role does not match requested role", chaterr.ErrAuthentication)
	}
	c.setIdentity(identity)

	metrics.ConnectionsTotal.WithLabelValues(string(identity.Role)).Inc()
	metrics.ConnectionsActive.WithLabelValues(string(identity.Role)).Inc()

	if identity.Role == models.RoleAgent {
		if err := s.registerAgent(ctx, identity); err != nil {
			return err
		}
		s.hub.JoinAgents(identity.TenantID, identity.ID, c)
		s.engine.Trigger(identity.TenantID)
		c.trySend(Message{Type: EventQueueStatus, Data: s.queueStatus(ctx, identity.TenantID)})
	}

	c.trySend(Message{Type: EventAuthenticated, Data: AuthenticatedData{
		UserID:   identity.ID,
		TenantID: identity.TenantID,
		Role:     string(identity.Role),
	}})
	logging.Info().Str("component", "chat-service").
		Str("user_id", identity.ID).
		Str("tenant_id", identity.TenantID).
		Str("role", string(identity.Role)).
		Msg("connection authenticated")
	return nil
}

// registerAgent writes the agent's online presence, preserving the
// session count of a still-live entry on reconnect.
func (s *Service) registerAgent(ctx context.Context, identity *auth.Identity) error {
	snapshot := &models.AgentPresence{
		AgentID:     identity.ID,
		TenantID:    identity.TenantID,
		Status:      models.PresenceOnline,
		MaxSessions: s.defaultMaxSessions,
	}
	if prev, err := s.presence.Get(ctx, identity.ID); err == nil && prev != nil {
		snapshot.CurrentSessions = prev.CurrentSessions
		snapshot.MaxSessions = prev.MaxSessions
		snapshot.Skills = prev.Skills
		snapshot.AvgResponseSecs = prev.AvgResponseSecs
		snapshot.Satisfaction = prev.Satisfaction
	}
	return s.presence.SetStatus(ctx, snapshot)
}

func (s *Service) handleRequestChat(ctx context.Context, c *Client, data json.RawMessage) error {
	identity, err := requireRole(c, models.RoleCustomer)
	if err != nil {
		return err
	}
	payload, err := decodePayload[RequestChatPayload](data)
	if err != nil {
		return err
	}

	priority := models.Priority(payload.Priority)
	if payload.Priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:         uuid.New(),
		TenantID:   identity.TenantID,
		CustomerID: identity.ID,
		Status:     models.StatusWaiting,
		Priority:   priority,
		Subject:    payload.Subject,
		Customer: models.CustomerInfo{
			Name:      payload.Name,
			Email:     payload.Email,
			UserAgent: c.userAgent,
			RemoteIP:  c.remoteIP,
		},
		CreatedAt:    now,
		LastActivity: now,
	}

	// Persist first, then enqueue, then notify.
	if err := s.db.CreateSession(ctx, session); err != nil {
		return err
	}
	position, err := s.queue.Enqueue(ctx, &models.QueueEntry{
		TenantID:   session.TenantID,
		SessionID:  session.ID,
		Priority:   session.Priority,
		EnqueuedAt: now,
	})
	if err != nil {
		return err
	}
	session.QueuePos = position
	session.EstWait = s.queue.EstimatedWait(position)

	s.hub.JoinRoom(session.ID, c)
	c.trySend(Message{Type: EventSessionCreated, Data: SessionCreatedData{
		Session:       session,
		QueuePosition: position,
		EstWaitSecs:   int(session.EstWait.Seconds()),
	}})

	s.engine.Trigger(session.TenantID)
	s.broadcastQueueStatus(ctx, session.TenantID)

	logging.Info().Str("component", "chat-service").
		Str("session_id", session.ID.String()).
		Str("tenant_id", session.TenantID).
		Str("priority", string(session.Priority)).
		Int("queue_position", position).
		Msg("chat requested")
	return nil
}

func (s *Service) handleAcceptChat(ctx context.Context, c *Client, data json.RawMessage) error {
	identity, err := requireRole(c, models.RoleAgent)
	if err != nil {
		return err
	}
	payload, err := decodePayload[AcceptChatPayload](data)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	// AssignTo runs the same increment/bind/dequeue commit as the
	// automatic path and fires the assignment notices on success.
	if _, err := s.engine.AssignTo(ctx, sessionID, identity.ID); err != nil {
		return err
	}
	return nil
}

func (s *Service) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	identity := c.Identity()
	if identity == nil {
		return fmt.Errorf("%w: not authenticated", chaterr.ErrValidation)
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("%w: message rate exceeded", chaterr.ErrValidation)
	}
	payload, err := decodePayload[SendMessagePayload](data)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	if !s.hub.InRoom(sessionID, c) {
		return fmt.Errorf("%w: not bound to session %s", chaterr.ErrConflict, sessionID)
	}
	session, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.StatusActive {
		return fmt.Errorf("%w: session %s is %s, not active", chaterr.ErrConflict, sessionID, session.Status)
	}

	kind := models.MessageKind(payload.MessageType)
	if payload.MessageType == "" {
		kind = models.MessageText
	}

	msg := &models.ChatMessage{
		ID:         uuid.New(),
		SessionID:  sessionID,
		SenderID:   identity.ID,
		SenderRole: identity.Role,
		Body:       payload.Message,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	}

	// Persist first; a disconnect mid-broadcast never loses the message.
	if err := s.db.InsertMessage(ctx, msg); err != nil {
		return err
	}
	if err := s.db.TouchActivity(ctx, sessionID, msg.CreatedAt); err != nil {
		logging.Warn().Err(err).Str("session_id", sessionID.String()).Msg("activity stamp failed")
	}

	s.hub.BroadcastRoom(sessionID, Message{Type: EventNewMessage, Data: msg}, nil)
	metrics.MessagesRelayed.WithLabelValues(string(identity.Role)).Inc()
	return nil
}

func (s *Service) handleTyping(c *Client, data json.RawMessage, start bool) error {
	identity := c.Identity()
	if identity == nil {
		return fmt.Errorf("%w: not authenticated", chaterr.ErrValidation)
	}
	payload, err := decodePayload[TypingPayload](data)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	if !s.hub.InRoom(sessionID, c) {
		return fmt.Errorf("%w: not bound to session %s", chaterr.ErrConflict, sessionID)
	}

	// Broadcast only; typing indicators are never persisted.
	eventType := EventUserTyping
	if !start {
		eventType = EventUserStopTyping
	}
	s.hub.BroadcastRoom(sessionID, Message{Type: eventType, Data: TypingData{
		SessionID: sessionID.String(),
		UserID:    identity.ID,
		UserType:  string(identity.Role),
	}}, c)
	metrics.TypingEvents.Inc()
	return nil
}

func (s *Service) handleMarkRead(ctx context.Context, c *Client, data json.RawMessage) error {
	identity := c.Identity()
	if identity == nil {
		return fmt.Errorf("%w: not authenticated", chaterr.ErrValidation)
	}
	payload, err := decodePayload[MarkReadPayload](data)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	if !s.hub.InRoom(sessionID, c) {
		return fmt.Errorf("%w: not bound to session %s", chaterr.ErrConflict, sessionID)
	}

	count, err := s.db.MarkMessagesRead(ctx, sessionID, identity.Role, time.Now().UTC())
	if err != nil {
		return err
	}
	if count > 0 {
		s.hub.BroadcastRoom(sessionID, Message{Type: EventMessagesRead, Data: MessagesReadData{
			SessionID: sessionID.String(),
			ReaderID:  identity.ID,
			Count:     count,
		}}, c)
	}
	return nil
}

func (s *Service) handleHeartbeat(ctx context.Context, c *Client, data json.RawMessage) error {
	identity, err := requireRole(c, models.RoleAgent)
	if err != nil {
		return err
	}
	payload, err := decodePayload[HeartbeatPayload](data)
	if err != nil {
		return err
	}

	if payload.Status == "" {
		err = s.presence.Heartbeat(ctx, identity.ID)
		if errors.Is(err, chaterr.ErrNotFound) {
			// Entry expired; re-register so the next trigger sees the agent.
			err = s.registerAgent(ctx, identity)
		}
	} else {
		snapshot, gerr := s.presence.Get(ctx, identity.ID)
		if gerr != nil {
			return gerr
		}
		if snapshot == nil {
			if err := s.registerAgent(ctx, identity); err != nil {
				return err
			}
			snapshot, _ = s.presence.Get(ctx, identity.ID)
		}
		if snapshot != nil {
			snapshot.Status = models.PresenceStatus(payload.Status)
			err = s.presence.SetStatus(ctx, snapshot)
		}
	}
	if err != nil {
		return err
	}

	s.engine.Trigger(identity.TenantID)
	c.trySend(Message{Type: EventHeartbeatAck})
	return nil
}

func (s *Service) handleEndChat(ctx context.Context, c *Client, data json.RawMessage) error {
	identity := c.Identity()
	if identity == nil {
		return fmt.Errorf("%w: not authenticated", chaterr.ErrValidation)
	}
	payload, err := decodePayload[EndChatPayload](data)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	session, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if identity.ID != session.CustomerID && identity.ID != session.AgentID {
		return fmt.Errorf("%w: not a participant of session %s", chaterr.ErrConflict, sessionID)
	}

	ended, err := s.EndSession(ctx, session, string(identity.Role))
	if err != nil {
		return err
	}
	if !ended {
		// Idempotent no-op: acknowledge without re-broadcasting.
		c.trySend(Message{Type: EventChatEnded, Data: ChatEndedData{SessionID: sessionID.String()}})
	}
	return nil
}

// EndSession resolves a session: durable transition, capacity release,
// queue cleanup, room teardown. Returns false when the session was
// already terminal (no side effects are repeated).
func (s *Service) EndSession(ctx context.Context, session *models.ChatSession, endedBy string) (bool, error) {
	changed, err := s.db.EndSession(ctx, session.ID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if session.AgentID != "" {
		if err := s.presence.DecrementSessions(ctx, session.AgentID); err != nil {
			logging.Error().Err(err).Str("agent_id", session.AgentID).Msg("capacity release failed")
		}
	}
	// Covers ending a session that never left the queue.
	if _, err := s.queue.Dequeue(ctx, session.ID); err != nil {
		logging.Error().Err(err).Str("session_id", session.ID.String()).Msg("queue cleanup failed")
	}

	s.hub.BroadcastRoom(session.ID, Message{Type: EventChatEnded, Data: ChatEndedData{
		SessionID: session.ID.String(),
		EndedBy:   endedBy,
	}}, nil)
	s.hub.CloseRoom(session.ID)

	metrics.SessionsEnded.WithLabelValues(string(models.StatusResolved)).Inc()
	s.engine.Trigger(session.TenantID)
	s.broadcastQueueStatus(ctx, session.TenantID)

	logging.Info().Str("component", "chat-service").
		Str("session_id", session.ID.String()).
		Str("ended_by", endedBy).
		Msg("session resolved")
	return true, nil
}

// handleDisconnect runs when a connection's read pump exits.
//
// Agents go offline immediately; their active sessions are flagged for
// the external idle sweep rather than auto-reassigned. A customer
// dropping mid-session leaves the session active until the agent ends
// it or the sweep abandons it.
func (s *Service) handleDisconnect(c *Client) {
	identity := c.Identity()
	if identity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	metrics.ConnectionsActive.WithLabelValues(string(identity.Role)).Dec()

	if identity.Role != models.RoleAgent {
		return
	}

	if err := s.presence.Delete(ctx, identity.ID); err != nil {
		logging.Error().Err(err).Str("agent_id", identity.ID).Msg("presence delete on disconnect failed")
	}
	for _, sessionID := range s.hub.RoomsOf(c) {
		session, err := s.db.GetSession(ctx, sessionID)
		if err != nil || session.Status != models.StatusActive || session.AgentID != identity.ID {
			continue
		}
		if err := s.db.FlagOrphaned(ctx, sessionID); err != nil {
			logging.Error().Err(err).Str("session_id", sessionID.String()).Msg("orphan flag failed")
		}
	}
	logging.Info().Str("component", "chat-service").
		Str("agent_id", identity.ID).
		Msg("agent disconnected, presence cleared")
}

// AssignmentBound implements assign.Notifier: deliver the assignment
// notice to the agent's connections and the session room.
func (s *Service) AssignmentBound(session *models.ChatSession, agent *models.AgentPresence) {
	s.hub.JoinAgentToRoom(agent.AgentID, session.ID)
	s.hub.SendToAgent(agent.AgentID, Message{Type: EventChatAssignment, Data: AssignmentData{
		SessionID: session.ID.String(),
		AgentID:   agent.AgentID,
		Customer:  session.Customer,
		Subject:   session.Subject,
		Priority:  string(session.Priority),
	}})
	s.hub.BroadcastRoom(session.ID, Message{Type: EventChatAccepted, Data: AcceptedData{
		SessionID: session.ID.String(),
	}}, nil)
}

// QueueChanged implements assign.Notifier.
func (s *Service) QueueChanged(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	s.broadcastQueueStatus(ctx, tenantID)
}

// queueStatus snapshots the tenant's queue for agent dashboards.
// Best effort; failures degrade to zeroes.
func (s *Service) queueStatus(ctx context.Context, tenantID string) QueueStatusData {
	status := QueueStatusData{}
	if n, err := s.queue.Len(ctx, tenantID); err == nil {
		status.Waiting = n
		status.AvgWaitSecs = int(s.queue.EstimatedWait(n).Seconds())
	}
	if agents, err := s.presence.ListAvailable(ctx, tenantID); err == nil {
		status.AvailableAgents = len(agents)
	}
	if n, err := s.db.CountActiveSessions(ctx, tenantID); err == nil {
		status.ActiveSessions = n
	}
	return status
}

func (s *Service) broadcastQueueStatus(ctx context.Context, tenantID string) {
	s.hub.BroadcastAgents(tenantID, Message{Type: EventQueueStatus, Data: s.queueStatus(ctx, tenantID)})
}
