// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/switchboard/internal/logging"
)

// Hub owns the connection registry, the per-session rooms, and the
// per-tenant agent broadcast groups. All membership mutation goes
// through the hub; clients never touch each other's send channels.
type Hub struct {
	mu sync.RWMutex

	clients map[*Client]bool

	// rooms binds connections to session ids for message relay.
	rooms map[uuid.UUID]map[*Client]bool

	// agents groups agent connections by tenant for assignment notices
	// and queue_status broadcasts.
	agents map[string]map[*Client]bool

	// byAgent indexes agent connections by agent id so an assignment
	// notice reaches every connection the agent holds.
	byAgent map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		agents:     make(map[string]map[*Client]bool),
		byAgent:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the client lifecycle loop under supervision. On context
// cancellation every connected client is closed so the hub can restart
// without orphaned connections.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().Str("component", "chat-hub").Msg("hub stopped")
			return ctx.Err()

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info().Str("component", "chat-hub").Int("total_clients", total).Msg("client connected")

		case client := <-h.Unregister:
			h.detach(client)
		}
	}
}

// String names the service in supervisor logs.
func (h *Hub) String() string {
	return "chat-hub"
}

// detach removes a client from the registry, all rooms, and all agent
// groups, then closes its send channel.
func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for sessionID, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	for tenant, members := range h.agents {
		delete(members, client)
		if len(members) == 0 {
			delete(h.agents, tenant)
		}
	}
	for agentID, members := range h.byAgent {
		delete(members, client)
		if len(members) == 0 {
			delete(h.byAgent, agentID)
		}
	}
	client.closeSend()
	logging.Info().Str("component", "chat-hub").Int("total_clients", len(h.clients)).Msg("client disconnected")
}

// closeAllClients closes clients in id order for deterministic shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.rooms = make(map[uuid.UUID]map[*Client]bool)
	h.agents = make(map[string]map[*Client]bool)
	h.byAgent = make(map[string]map[*Client]bool)
}

// JoinRoom binds the client to a session room.
func (h *Hub) JoinRoom(sessionID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][client] = true
}

// LeaveRoom removes the client from a session room.
func (h *Hub) LeaveRoom(sessionID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members := h.rooms[sessionID]; members != nil {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// InRoom reports whether the client is bound to the session room.
func (h *Hub) InRoom(sessionID uuid.UUID, client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[sessionID][client]
}

// RoomsOf returns the session ids the client is currently bound to.
func (h *Hub) RoomsOf(client *Client) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []uuid.UUID
	for sessionID, members := range h.rooms {
		if members[client] {
			ids = append(ids, sessionID)
		}
	}
	return ids
}

// CloseRoom tears a session room down, dropping every member binding.
func (h *Hub) CloseRoom(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, sessionID)
}

// JoinAgents registers an agent connection in its tenant group and the
// per-agent index.
func (h *Hub) JoinAgents(tenantID, agentID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.agents[tenantID] == nil {
		h.agents[tenantID] = make(map[*Client]bool)
	}
	h.agents[tenantID][client] = true
	if h.byAgent[agentID] == nil {
		h.byAgent[agentID] = make(map[*Client]bool)
	}
	h.byAgent[agentID][client] = true
}

// JoinAgentToRoom binds every live connection of the agent to the room.
// Used when the assignment engine binds a session without an explicit
// accept_chat from that connection.
func (h *Hub) JoinAgentToRoom(agentID string, sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.byAgent[agentID]
	if len(members) == 0 {
		return
	}
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	for client := range members {
		h.rooms[sessionID][client] = true
	}
}

// BroadcastRoom sends a message to every room member except the sender
// (pass nil to include everyone). Slow receivers are skipped; they can
// recover missed events from history.
func (h *Hub) BroadcastRoom(sessionID uuid.UUID, msg Message, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[sessionID] {
		if client == except {
			continue
		}
		client.trySend(msg)
	}
}

// BroadcastAgents sends a message to every agent connection in the tenant.
func (h *Hub) BroadcastAgents(tenantID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.agents[tenantID] {
		client.trySend(msg)
	}
}

// SendToAgent sends a message to every live connection of one agent.
func (h *Hub) SendToAgent(agentID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byAgent[agentID] {
		client.trySend(msg)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
