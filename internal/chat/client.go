// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/switchboard/internal/auth"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientIDCounter generates unique, monotonically increasing client ids
// for deterministic ordering in shutdown and logs.
var clientIDCounter atomic.Uint64

// Client is the middleman between one WebSocket connection and the hub.
// Events read from the connection are dispatched to the service one at
// a time, which preserves single-writer-per-connection ordering.
type Client struct {
	id      uint64
	hub     *Hub
	service *Service
	conn    *websocket.Conn
	send    chan Message

	// sendMu orders trySend against closeSend: the hub may tear a
	// client down while its read pump is still mid-dispatch.
	sendMu     sync.Mutex
	sendClosed bool

	// limiter bounds inbound send_message volume per connection.
	limiter *rate.Limiter

	// userAgent and remoteIP are captured at upgrade time for the
	// customer info attached to requested sessions.
	userAgent string
	remoteIP  string

	// identity is nil until the connection authenticates.
	identity atomic.Pointer[auth.Identity]
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, service *Service, conn *websocket.Conn, msgRate float64, burst int) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		service: service,
		conn:    conn,
		send:    make(chan Message, 256),
		limiter: rate.NewLimiter(rate.Limit(msgRate), burst),
	}
}

// Identity returns the authenticated identity, or nil.
func (c *Client) Identity() *auth.Identity {
	return c.identity.Load()
}

// setIdentity records the verified identity after authentication.
func (c *Client) setIdentity(id *auth.Identity) {
	c.identity.Store(id)
}

// Role returns the authenticated role, or empty before authentication.
func (c *Client) Role() models.Role {
	if id := c.identity.Load(); id != nil {
		return id.Role
	}
	return ""
}

// trySend queues a message without blocking. A full or already-closed
// channel drops the message; persisted state is the source of truth
// for catch-up.
func (c *Client) trySend(msg Message) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
		logging.Warn().Str("component", "chat-client").Uint64("client_id", c.id).
			Str("type", msg.Type).Msg("send buffer full, dropping message")
	}
}

// closeSend closes the send channel exactly once. Only the hub calls
// this, on detach or shutdown.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// Start begins the read and write pumps and arms the authentication
// grace timer: a connection that never authenticates is dropped.
func (c *Client) Start(authGrace time.Duration) {
	if authGrace > 0 {
		time.AfterFunc(authGrace, func() {
			if c.Identity() == nil {
				logging.Info().Str("component", "chat-client").Uint64("client_id", c.id).
					Msg("closing unauthenticated connection after grace period")
				_ = c.conn.Close()
			}
		})
	}
	go c.writePump()
	go c.readPump()
}

// readPump reads events from the connection and dispatches them to the
// service until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.service.handleDisconnect(c)
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.service.maxMessageBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var evt Event
		if err := c.conn.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.service.handleEvent(c, evt)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
