// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/switchboard/internal/logging"
)

// HTTPServerService runs the HTTP server as a supervised service.
type HTTPServerService struct {
	addr    string
	handler http.Handler
	timeout time.Duration
}

// NewHTTPServerService creates a supervised HTTP server.
func NewHTTPServerService(addr string, handler http.Handler, timeout time.Duration) *HTTPServerService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPServerService{addr: addr, handler: handler, timeout: timeout}
}

// Serve runs the server until the context is canceled, then drains
// in-flight requests within the shutdown window.
func (s *HTTPServerService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No global write timeout: WebSocket connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("component", "http-server").Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Str("component", "http-server").Msg("graceful shutdown failed")
			_ = srv.Close()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String names the service in supervisor logs.
func (s *HTTPServerService) String() string {
	return "http-server"
}

// BadgerGCService periodically reclaims Badger value-log space. Expired
// presence entries and dequeued entries leave garbage behind that only
// value-log GC returns to the filesystem.
type BadgerGCService struct {
	db       *badger.DB
	interval time.Duration
}

// NewBadgerGCService creates the GC loop for a Badger store.
func NewBadgerGCService(db *badger.DB, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &BadgerGCService{db: db, interval: interval}
}

// Serve runs GC on a ticker until the context is canceled.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect runs value-log GC rounds until Badger reports nothing left
// to rewrite.
func (s *BadgerGCService) collect() {
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			logging.Debug().Err(err).Str("component", "badger-gc").Msg("value log gc pass skipped")
			return
		}
	}
}

// String names the service in supervisor logs.
func (s *BadgerGCService) String() string {
	return "badger-gc"
}
