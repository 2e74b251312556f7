// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package models

import "testing"

func TestSessionStatusTerminal(t *testing.T) {
	cases := map[SessionStatus]bool{
		StatusWaiting:   false,
		StatusActive:    false,
		StatusResolved:  true,
		StatusAbandoned: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSessionStatusValid(t *testing.T) {
	for _, status := range []SessionStatus{StatusWaiting, StatusActive, StatusResolved, StatusAbandoned} {
		if !status.Valid() {
			t.Errorf("%s.Valid() = false", status)
		}
	}
	if SessionStatus("paused").Valid() {
		t.Error("unknown status accepted")
	}
}

func TestPriorityRankOrder(t *testing.T) {
	order := []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s.Rank() = %d not before %s.Rank() = %d",
				order[i-1], order[i-1].Rank(), order[i], order[i].Rank())
		}
	}
	// Unknown priorities drain last.
	if Priority("whatever").Rank() != PriorityLow.Rank() {
		t.Errorf("unknown priority rank = %d, want %d", Priority("whatever").Rank(), PriorityLow.Rank())
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleCustomer.Valid() || !RoleAgent.Valid() {
		t.Error("known roles rejected")
	}
	if Role("admin").Valid() {
		t.Error("unknown role accepted")
	}
}

func TestMessageKindValid(t *testing.T) {
	for _, kind := range []MessageKind{MessageText, MessageImage, MessageFile, MessageSystem} {
		if !kind.Valid() {
			t.Errorf("%s.Valid() = false", kind)
		}
	}
	if MessageKind("video").Valid() {
		t.Error("unknown kind accepted")
	}
}

func TestAgentAvailable(t *testing.T) {
	cases := []struct {
		name string
		p    AgentPresence
		want bool
	}{
		{"online with free slot", AgentPresence{Status: PresenceOnline, CurrentSessions: 1, MaxSessions: 3}, true},
		{"online at capacity", AgentPresence{Status: PresenceOnline, CurrentSessions: 3, MaxSessions: 3}, false},
		{"busy with free slot", AgentPresence{Status: PresenceBusy, CurrentSessions: 0, MaxSessions: 3}, false},
		{"away", AgentPresence{Status: PresenceAway, CurrentSessions: 0, MaxSessions: 3}, false},
	}
	for _, tc := range cases {
		if got := tc.p.Available(); got != tc.want {
			t.Errorf("%s: Available() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
