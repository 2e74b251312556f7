// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package chat

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/switchboard/internal/models"
)

// Client-to-server event types.
const (
	EventAuthenticate = "authenticate"
	EventRequestChat  = "request_chat"
	EventAcceptChat   = "accept_chat"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventMarkRead     = "mark_read"
	EventHeartbeat    = "heartbeat"
	EventEndChat      = "end_chat"
)

// Server-to-client event types.
const (
	EventAuthenticated      = "authenticated"
	EventAuthError          = "authentication_error"
	EventSessionCreated     = "chat_session_created"
	EventChatAssignment     = "chat_assignment"
	EventChatAccepted       = "chat_accepted"
	EventNewMessage         = "new_message"
	EventUserTyping         = "user_typing"
	EventUserStopTyping     = "user_stop_typing"
	EventMessagesRead       = "messages_read"
	EventChatEnded          = "chat_ended"
	EventQueueStatus        = "queue_status"
	EventError              = "error"
	EventHeartbeatAck       = "heartbeat_ack"
)

// Event is one inbound frame: a type tag plus a type-specific payload.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is one outbound frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound payloads. Validation tags are enforced before dispatch.

type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
	Role  string `json:"role" validate:"required,oneof=customer agent"`
}

type RequestChatPayload struct {
	Subject  string `json:"subject" validate:"max=500"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Name     string `json:"name" validate:"max=200"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type AcceptChatPayload struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

type SendMessagePayload struct {
	SessionID   string `json:"session_id" validate:"required,uuid"`
	Message     string `json:"message" validate:"required,max=10000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text image file system"`
}

type TypingPayload struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

type MarkReadPayload struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

type HeartbeatPayload struct {
	Status string `json:"status" validate:"omitempty,oneof=online busy away"`
}

type EndChatPayload struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
}

// Outbound payloads.

type AuthenticatedData struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

type AuthErrorData struct {
	Reason string `json:"reason"`
}

type SessionCreatedData struct {
	Session       *models.ChatSession `json:"session"`
	QueuePosition int                 `json:"queue_position"`
	EstWaitSecs   int                 `json:"estimated_wait_secs"`
}

type AssignmentData struct {
	SessionID string              `json:"session_id"`
	AgentID   string              `json:"agent_id"`
	Customer  models.CustomerInfo `json:"customer"`
	Subject   string              `json:"subject,omitempty"`
	Priority  string              `json:"priority"`
}

type AcceptedData struct {
	SessionID string `json:"session_id"`
}

type TypingData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
}

type MessagesReadData struct {
	SessionID string `json:"session_id"`
	ReaderID  string `json:"reader_id"`
	Count     int64  `json:"count"`
}

type ChatEndedData struct {
	SessionID string `json:"session_id"`
	EndedBy   string `json:"ended_by,omitempty"`
}

type QueueStatusData struct {
	Waiting         int `json:"waiting"`
	AvailableAgents int `json:"available_agents"`
	AvgWaitSecs     int `json:"avg_wait_secs"`
	ActiveSessions  int `json:"active_sessions"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
