// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package presence tracks agent availability in BadgerDB with per-entry
// TTL. Absence of a record means offline; an agent whose heartbeat dies
// expires from the store without any explicit disconnect call.
//
// Entries are written twice: the record itself under presence:agent:<id>
// and a secondary index key under presence:idx:<status>:<id> with the
// same TTL. Listing available agents is a prefix scan of the online
// index, never a full key scan.
package presence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/metrics"
	"github.com/tomtom215/switchboard/internal/models"
)

const (
	agentKeyPrefix = "presence:agent:"
	idxKeyPrefix   = "presence:idx:"
)

// maxTxnRetries bounds optimistic-transaction retries on commit conflict.
const maxTxnRetries = 5

// Store is the TTL-backed agent presence store.
type Store struct {
	db  *badger.DB
	ttl time.Duration

	// defaultMaxSessions is applied when an agent registers without
	// declaring a capacity.
	defaultMaxSessions int
}

// NewStore creates a presence store over an open Badger instance.
func NewStore(db *badger.DB, ttl time.Duration, defaultMaxSessions int) *Store {
	return &Store{db: db, ttl: ttl, defaultMaxSessions: defaultMaxSessions}
}

func agentKey(agentID string) []byte {
	return []byte(agentKeyPrefix + agentID)
}

func idxKey(status models.PresenceStatus, agentID string) []byte {
	return []byte(idxKeyPrefix + string(status) + ":" + agentID)
}

// SetStatus writes or refreshes the agent's presence entry with the
// store TTL. A status of offline deletes the entry outright rather than
// writing a tombstone.
func (s *Store) SetStatus(ctx context.Context, snapshot *models.AgentPresence) error {
	if snapshot.Status == models.PresenceOffline {
		return s.Delete(ctx, snapshot.AgentID)
	}
	if snapshot.MaxSessions <= 0 {
		snapshot.MaxSessions = s.defaultMaxSessions
	}
	snapshot.LastActivity = time.Now().UTC()

	err := s.update(func(txn *badger.Txn) error {
		// Drop the old status index entry if the status changed.
		if prev, err := readPresence(txn, snapshot.AgentID); err == nil && prev.Status != snapshot.Status {
			if err := txn.Delete(idxKey(prev.Status, snapshot.AgentID)); err != nil {
				return err
			}
		}
		return writePresence(txn, snapshot, s.ttl)
	})
	if err != nil {
		return fmt.Errorf("%w: set presence: %w", chaterr.ErrTransientStore, err)
	}
	s.refreshGauge()
	return nil
}

// Get returns the agent's presence, or (nil, nil) when absent.
// Absence is equivalent to offline.
func (s *Store) Get(ctx context.Context, agentID string) (*models.AgentPresence, error) {
	var snapshot *models.AgentPresence
	err := s.db.View(func(txn *badger.Txn) error {
		p, err := readPresence(txn, agentID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		snapshot = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get presence: %w", chaterr.ErrTransientStore, err)
	}
	return snapshot, nil
}

// Delete removes the agent's presence entry and its index key.
// Used on graceful disconnect; TTL expiry covers the rest.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	err := s.update(func(txn *badger.Txn) error {
		prev, err := readPresence(txn, agentID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(idxKey(prev.Status, agentID)); err != nil {
			return err
		}
		return txn.Delete(agentKey(agentID))
	})
	if err != nil {
		return fmt.Errorf("%w: delete presence: %w", chaterr.ErrTransientStore, err)
	}
	s.refreshGauge()
	return nil
}

// Heartbeat refreshes the entry's TTL without changing the snapshot.
// Returns ErrNotFound if the agent has no live entry (the agent must
// re-register, matching the post-expiry reconnect flow).
func (s *Store) Heartbeat(ctx context.Context, agentID string) error {
	err := s.update(func(txn *badger.Txn) error {
		p, err := readPresence(txn, agentID)
		if err != nil {
			return err
		}
		p.LastActivity = time.Now().UTC()
		return writePresence(txn, p, s.ttl)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: agent %s has no presence entry", chaterr.ErrNotFound, agentID)
	}
	if err != nil {
		return fmt.Errorf("%w: heartbeat: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// ListAvailable returns agents that are online and under capacity,
// via a prefix scan of the online status index.
func (s *Store) ListAvailable(ctx context.Context, tenantID string) ([]*models.AgentPresence, error) {
	var available []*models.AgentPresence
	prefix := []byte(idxKeyPrefix + string(models.PresenceOnline) + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			agentID := string(it.Item().Key()[len(prefix):])
			p, err := readPresence(txn, agentID)
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Index key outlived the record inside the same TTL
				// window; treat as expired.
				continue
			}
			if err != nil {
				return err
			}
			if p.TenantID != tenantID && tenantID != "" {
				continue
			}
			if p.Available() {
				available = append(available, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list available: %w", chaterr.ErrTransientStore, err)
	}
	return available, nil
}

// IncrementSessions raises the agent's concurrent-session count by one.
// This is the serialization point for assignment: at capacity it fails
// with ErrConflict, and Badger's optimistic transactions guarantee two
// racing increments cannot both observe the same free slot.
func (s *Store) IncrementSessions(ctx context.Context, agentID string) error {
	err := s.update(func(txn *badger.Txn) error {
		p, err := readPresence(txn, agentID)
		if err != nil {
			return err
		}
		if p.CurrentSessions >= p.MaxSessions {
			return chaterr.ErrConflict
		}
		p.CurrentSessions++
		p.LastActivity = time.Now().UTC()
		return writePresence(txn, p, s.ttl)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: agent %s has no presence entry", chaterr.ErrNotFound, agentID)
	}
	if errors.Is(err, chaterr.ErrConflict) {
		return fmt.Errorf("%w: agent %s at capacity", chaterr.ErrConflict, agentID)
	}
	if err != nil {
		return fmt.Errorf("%w: increment sessions: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// DecrementSessions lowers the agent's concurrent-session count by one,
// clamped at zero. Used on session end and as the compensating action
// when a durable bind fails after the increment.
func (s *Store) DecrementSessions(ctx context.Context, agentID string) error {
	err := s.update(func(txn *badger.Txn) error {
		p, err := readPresence(txn, agentID)
		if err != nil {
			return err
		}
		if p.CurrentSessions > 0 {
			p.CurrentSessions--
		}
		return writePresence(txn, p, s.ttl)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		// Presence already expired; capacity accounting restarts on
		// the agent's next registration.
		logging.Debug().Str("component", "presence").Str("agent_id", agentID).
			Msg("decrement on absent presence entry")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: decrement sessions: %w", chaterr.ErrTransientStore, err)
	}
	return nil
}

// refreshGauge recounts live index entries per status and resets the
// presence gauge. A scan-based count stays honest across TTL expiry,
// which deletes entries without going through Delete. Best effort.
func (s *Store) refreshGauge() {
	counts := map[models.PresenceStatus]int{
		models.PresenceOnline: 0,
		models.PresenceBusy:   0,
		models.PresenceAway:   0,
	}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(idxKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			if i := bytes.IndexByte(rest, ':'); i > 0 {
				counts[models.PresenceStatus(rest[:i])]++
			}
		}
		return nil
	})
	if err != nil {
		logging.Debug().Err(err).Str("component", "presence").Msg("gauge refresh failed")
		return
	}
	for status, n := range counts {
		metrics.PresenceEntries.WithLabelValues(string(status)).Set(float64(n))
	}
}

// update runs fn in a read-write transaction, retrying on Badger's
// optimistic-concurrency commit conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readPresence(txn *badger.Txn, agentID string) (*models.AgentPresence, error) {
	item, err := txn.Get(agentKey(agentID))
	if err != nil {
		return nil, err
	}
	var p models.AgentPresence
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, err
	}
	return &p, nil
}

func writePresence(txn *badger.Txn, p *models.AgentPresence, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	entry := badger.NewEntry(agentKey(p.AgentID), data).WithTTL(ttl)
	if err := txn.SetEntry(entry); err != nil {
		return err
	}
	idx := badger.NewEntry(idxKey(p.Status, p.AgentID), []byte(p.AgentID)).WithTTL(ttl)
	return txn.SetEntry(idx)
}
