// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package models defines the core data types shared across Switchboard:
// chat sessions, chat messages, agent presence, and queue entries.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusResolved  SessionStatus = "resolved"
	StatusAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether the status is a terminal state.
// Terminal sessions are retained for history, never deleted.
func (s SessionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusAbandoned
}

// Valid reports whether the status is a known lifecycle state.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusResolved, StatusAbandoned:
		return true
	}
	return false
}

// Priority is the customer-requested urgency of a chat session.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether the priority is a known level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank returns the drain order for priority-aware queueing.
// Lower ranks drain first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Role identifies which side of a chat session a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

// CustomerInfo holds contact details captured when the session is created.
type CustomerInfo struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
}

// ChatSession is the durable record of one customer/agent conversation.
//
// AgentID is set if and only if the session reached active (and later
// resolved) through a successful assignment; it is never set while the
// session is waiting or abandoned.
type ChatSession struct {
	ID           uuid.UUID     `json:"id"`
	TenantID     string        `json:"tenant_id"`
	CustomerID   string        `json:"customer_id"`
	AgentID      string        `json:"agent_id,omitempty"`
	Status       SessionStatus `json:"status"`
	Priority     Priority      `json:"priority"`
	Subject      string        `json:"subject,omitempty"`
	Customer     CustomerInfo  `json:"customer"`
	Orphaned     bool          `json:"orphaned,omitempty"`
	QueuePos     int           `json:"queue_position,omitempty"`
	EstWait      time.Duration `json:"estimated_wait,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
}

// MessageKind is the payload type of a chat message.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Valid reports whether the kind is known.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// ChatMessage is one immutable, append-only message within a session.
// Only ReadAt is ever stamped after creation.
type ChatMessage struct {
	ID         uuid.UUID         `json:"id"`
	SessionID  uuid.UUID         `json:"session_id"`
	SenderID   string            `json:"sender_id"`
	SenderRole Role              `json:"sender_role"`
	Body       string            `json:"body"`
	Kind       MessageKind       `json:"kind"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
}

// PresenceStatus is an agent's availability state.
// Offline is modeled by absence from the presence store.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceBusy    PresenceStatus = "busy"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// AgentPresence is the ephemeral availability record of one agent.
// Entries expire from the store if not refreshed within the TTL window.
type AgentPresence struct {
	AgentID         string         `json:"agent_id"`
	TenantID        string         `json:"tenant_id"`
	Status          PresenceStatus `json:"status"`
	LastActivity    time.Time      `json:"last_activity"`
	CurrentSessions int            `json:"current_sessions"`
	MaxSessions     int            `json:"max_sessions"`
	Skills          []string       `json:"skills,omitempty"`
	AvgResponseSecs float64        `json:"avg_response_secs,omitempty"`
	Satisfaction    float64        `json:"satisfaction,omitempty"`
}

// Available reports whether the agent can take another session.
func (p *AgentPresence) Available() bool {
	return p.Status == PresenceOnline && p.CurrentSessions < p.MaxSessions
}

// QueueEntry is one waiting session in a tenant's queue.
type QueueEntry struct {
	TenantID   string    `json:"tenant_id"`
	SessionID  uuid.UUID `json:"session_id"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
