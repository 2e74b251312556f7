// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package api provides the HTTP boundary: the WebSocket entry point
// for the session protocol, the read-only REST endpoints, and the
// Prometheus scrape target.
package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/switchboard/internal/auth"
	"github.com/tomtom215/switchboard/internal/chat"
	"github.com/tomtom215/switchboard/internal/config"
	"github.com/tomtom215/switchboard/internal/logging"
)

// Router wires handlers, middleware, and the WebSocket upgrade.
type Router struct {
	handlers *Handlers
	service  *chat.Service
	verifier auth.Verifier
	cfg      *config.ServerConfig
	upgrader websocket.Upgrader
}

// NewRouter creates the HTTP router.
func NewRouter(handlers *Handlers, service *chat.Service, verifier auth.Verifier, cfg *config.ServerConfig) *Router {
	rt := &Router{
		handlers: handlers,
		service:  service,
		verifier: verifier,
		cfg:      cfg,
	}
	rt.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     rt.checkOrigin,
	}
	return rt
}

// Setup builds the route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", rt.handlers.Health)
		r.Get("/live", rt.handlers.HealthLive)
	})

	// Read-only data endpoints. Bearer auth plus per-IP rate limiting.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
		r.Use(Authenticate(rt.verifier))

		r.Get("/agents/{agentID}/sessions", rt.handlers.AgentSessions)
		r.Get("/sessions/{sessionID}/messages", rt.handlers.SessionMessages)
	})

	// Session protocol entry point. Authentication happens in-band
	// after the upgrade, inside the grace window.
	r.Get("/ws", rt.handleWebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleWebSocket upgrades the connection and hands it to the protocol
// handler. The request goroutine is released immediately; the client's
// pumps own the connection from here.
func (rt *Router) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Debug().Err(err).Str("component", "api").Msg("websocket upgrade failed")
		return
	}
	rt.service.HandleConnection(conn, r.UserAgent(), remoteIP(r))
}

// checkOrigin matches the Origin header against configured CORS origins.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range rt.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP middleware may have replaced RemoteAddr with a bare IP.
		return r.RemoteAddr
	}
	return host
}
