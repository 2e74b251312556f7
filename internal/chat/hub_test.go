// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package chat

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/switchboard/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// newHubClient builds a client with only its send channel live. The
// pumps are never started, so the nil connection is never touched.
func newHubClient(hub *Hub) *Client {
	return NewClient(hub, nil, nil, 5, 10)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)

	c := newHubClient(hub)
	hub.Register <- c
	waitForCount(t, hub, 1)

	hub.Unregister <- c
	waitForCount(t, hub, 0)

	// The send channel is closed on detach.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("send channel delivered a message, want closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("send channel not closed after unregister")
	}
}

func TestBroadcastRoomSkipsSender(t *testing.T) {
	hub := startHub(t)
	sessionID := uuid.New()

	sender := newHubClient(hub)
	receiver := newHubClient(hub)
	outsider := newHubClient(hub)
	for _, c := range []*Client{sender, receiver, outsider} {
		hub.Register <- c
	}
	waitForCount(t, hub, 3)

	hub.JoinRoom(sessionID, sender)
	hub.JoinRoom(sessionID, receiver)

	if !hub.InRoom(sessionID, sender) || !hub.InRoom(sessionID, receiver) {
		t.Fatal("room membership not recorded")
	}
	if hub.InRoom(sessionID, outsider) {
		t.Fatal("outsider reported in room")
	}

	hub.BroadcastRoom(sessionID, Message{Type: EventNewMessage}, sender)

	select {
	case msg := <-receiver.send:
		if msg.Type != EventNewMessage {
			t.Errorf("receiver got %q, want %q", msg.Type, EventNewMessage)
		}
	default:
		t.Error("receiver got nothing")
	}
	select {
	case msg := <-sender.send:
		t.Errorf("sender got %q, want nothing", msg.Type)
	default:
	}
	select {
	case msg := <-outsider.send:
		t.Errorf("outsider got %q, want nothing", msg.Type)
	default:
	}
}

func TestAgentGroupsAndDirectSend(t *testing.T) {
	hub := startHub(t)

	a1 := newHubClient(hub)
	a2 := newHubClient(hub)
	other := newHubClient(hub)
	for _, c := range []*Client{a1, a2, other} {
		hub.Register <- c
	}
	waitForCount(t, hub, 3)

	hub.JoinAgents("acme", "agent-1", a1)
	hub.JoinAgents("acme", "agent-2", a2)
	hub.JoinAgents("globex", "agent-3", other)

	hub.BroadcastAgents("acme", Message{Type: EventQueueStatus})
	for _, c := range []*Client{a1, a2} {
		select {
		case msg := <-c.send:
			if msg.Type != EventQueueStatus {
				t.Errorf("got %q, want %q", msg.Type, EventQueueStatus)
			}
		default:
			t.Error("tenant agent got nothing")
		}
	}
	select {
	case msg := <-other.send:
		t.Errorf("other tenant got %q, want nothing", msg.Type)
	default:
	}

	hub.SendToAgent("agent-1", Message{Type: EventChatAssignment})
	select {
	case msg := <-a1.send:
		if msg.Type != EventChatAssignment {
			t.Errorf("got %q, want %q", msg.Type, EventChatAssignment)
		}
	default:
		t.Error("agent-1 got nothing")
	}
	select {
	case msg := <-a2.send:
		t.Errorf("agent-2 got %q, want nothing", msg.Type)
	default:
	}
}

func TestJoinAgentToRoom(t *testing.T) {
	hub := startHub(t)
	sessionID := uuid.New()

	a1 := newHubClient(hub)
	hub.Register <- a1
	waitForCount(t, hub, 1)
	hub.JoinAgents("acme", "agent-1", a1)

	hub.JoinAgentToRoom("agent-1", sessionID)
	if !hub.InRoom(sessionID, a1) {
		t.Error("agent connection not bound to room")
	}

	// Unknown agents are a no-op.
	hub.JoinAgentToRoom("ghost", uuid.New())
}

func TestCloseRoomAndRoomsOf(t *testing.T) {
	hub := startHub(t)
	s1, s2 := uuid.New(), uuid.New()

	c := newHubClient(hub)
	hub.Register <- c
	waitForCount(t, hub, 1)

	hub.JoinRoom(s1, c)
	hub.JoinRoom(s2, c)
	if got := hub.RoomsOf(c); len(got) != 2 {
		t.Fatalf("RoomsOf = %v, want 2 rooms", got)
	}

	hub.CloseRoom(s1)
	if hub.InRoom(s1, c) {
		t.Error("member still in closed room")
	}
	if got := hub.RoomsOf(c); len(got) != 1 || got[0] != s2 {
		t.Errorf("RoomsOf after close = %v, want [%s]", got, s2)
	}

	hub.LeaveRoom(s2, c)
	if got := hub.RoomsOf(c); len(got) != 0 {
		t.Errorf("RoomsOf after leave = %v, want none", got)
	}
}

func TestServeClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	c := newHubClient(hub)
	hub.Register <- c
	waitForCount(t, hub, 1)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, ok := <-c.send; ok {
		t.Error("client send channel still open after shutdown")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount after shutdown = %d, want 0", hub.ClientCount())
	}
}

func TestTrySendAfterShutdownIsDropped(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	c := newHubClient(hub)
	hub.Register <- c
	waitForCount(t, hub, 1)

	cancel()
	<-done

	// A dispatch still in flight when the hub tears the client down
	// must drop its message, not write to a closed channel.
	c.trySend(Message{Type: EventNewMessage})
	c.trySend(Message{Type: EventQueueStatus})

	if _, ok := <-c.send; ok {
		t.Error("message delivered after shutdown, want dropped")
	}

	// Teardown is idempotent from both the hub loop and detach.
	c.closeSend()
	hub.detach(c)
}
