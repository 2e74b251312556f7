// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package chaterr defines the error taxonomy shared by the chat core.
//
// Callers wrap these sentinels with fmt.Errorf("...: %w", ...) and the
// protocol boundary classifies with errors.Is before converting to a
// wire error event. Store-layer failures never escape as panics or
// connection teardowns; they surface as ErrTransientStore.
package chaterr

import "errors"

var (
	// ErrAuthentication indicates bad or missing credentials.
	// The connection is terminated after the error event is sent.
	ErrAuthentication = errors.New("authentication failed")

	// ErrValidation indicates a malformed request payload.
	// The connection stays open.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound indicates an unknown session or agent.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an action invalid for the current session
	// state, e.g. accepting an already-accepted session or messaging
	// an ended one. No state change occurs.
	ErrConflict = errors.New("conflict with current state")

	// ErrTransientStore indicates a store call failed. Idempotent reads
	// are retried once; writes surface to the caller unretried to avoid
	// duplicate side effects.
	ErrTransientStore = errors.New("transient store error")
)

// Code maps an error to its machine-readable wire code.
// Unrecognized errors map to "internal_error".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransientStore):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}

// Fatal reports whether the error should terminate the connection.
// Only authentication failures are fatal; everything else is answered
// with an error event on the open connection.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
