// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package metrics provides Prometheus instrumentation for the chat
// core: connection counts, message throughput, queue depth, assignment
// outcomes, presence population, and store call latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Currently open WebSocket connections by role",
		},
		[]string{"role"},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total accepted WebSocket connections by role",
		},
		[]string{"role"},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Connections rejected for bad or missing credentials",
		},
	)

	// Message metrics
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_relayed_total",
			Help: "Messages persisted and broadcast, by sender role",
		},
		[]string{"role"},
	)

	TypingEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_typing_events_total",
			Help: "Typing start/stop events relayed (not persisted)",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_queue_depth",
			Help: "Sessions waiting for assignment per tenant",
		},
		[]string{"tenant"},
	)

	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_queue_wait_seconds",
			Help:    "Time from enqueue to assignment",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Assignment metrics
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_assignments_total",
			Help: "Assignment trigger outcomes",
		},
		[]string{"outcome"}, // "assigned", "no_agent", "conflict", "error"
	)

	// Presence metrics
	PresenceEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_presence_entries",
			Help: "Live presence entries by status",
		},
		[]string{"status"},
	)

	// Store metrics
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_duration_seconds",
			Help:    "Duration of durable store calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_ended_total",
			Help: "Sessions reaching a terminal state",
		},
		[]string{"status"}, // "resolved", "abandoned"
	)
)
