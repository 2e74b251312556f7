// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

// Package queue maintains the per-tenant ordered waiting list of
// sessions not yet assigned an agent.
//
// Entries live in BadgerDB under keys that sort in drain order:
//
//	queue:t:<tenant>:<prio><seq>  ->  QueueEntry JSON
//	queue:s:<sessionID>           ->  primary key (for O(1) dequeue)
//
// <seq> is a zero-padded monotonic sequence, so lexicographic key order
// is enqueue order. Under OrderingFIFO the <prio> byte is constant;
// under OrderingPriorityThenFIFO it is the priority rank, so urgent
// entries sort ahead without changing the public contract.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/switchboard/internal/chaterr"
	"github.com/tomtom215/switchboard/internal/metrics"
	"github.com/tomtom215/switchboard/internal/models"
)

// OrderingPolicy selects the drain order within a tenant's queue.
type OrderingPolicy int

const (
	// OrderingFIFO drains in strict enqueue order.
	OrderingFIFO OrderingPolicy = iota

	// OrderingPriorityThenFIFO drains urgent before high before medium
	// before low, FIFO within each level.
	OrderingPriorityThenFIFO
)

const (
	tenantKeyPrefix  = "queue:t:"
	sessionKeyPrefix = "queue:s:"
	seqKey           = "queue:seq"
)

// Queue is the per-tenant waiting list.
type Queue struct {
	db       *badger.DB
	seq      *badger.Sequence
	ordering OrderingPolicy

	// slotEstimate and maxEstimate parameterize the advisory wait
	// estimate; it is not SLA-backed.
	slotEstimate time.Duration
	maxEstimate  time.Duration
}

// New creates a queue over an open Badger instance.
func New(db *badger.DB, ordering OrderingPolicy, slotEstimate, maxEstimate time.Duration) (*Queue, error) {
	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		return nil, fmt.Errorf("queue sequence: %w", err)
	}
	return &Queue{
		db:           db,
		seq:          seq,
		ordering:     ordering,
		slotEstimate: slotEstimate,
		maxEstimate:  maxEstimate,
	}, nil
}

// Close releases the sequence lease.
func (q *Queue) Close() error {
	return q.seq.Release()
}

func (q *Queue) prioByte(p models.Priority) byte {
	if q.ordering == OrderingFIFO {
		return '0'
	}
	return byte('0' + p.Rank())
}

func tenantPrefix(tenantID string) []byte {
	return []byte(tenantKeyPrefix + tenantID + ":")
}

func (q *Queue) primaryKey(entry *models.QueueEntry, seq uint64) []byte {
	return fmt.Appendf(nil, "%s%s:%c%016x", tenantKeyPrefix, entry.TenantID, q.prioByte(entry.Priority), seq)
}

func sessionKey(sessionID uuid.UUID) []byte {
	return []byte(sessionKeyPrefix + sessionID.String())
}

// Enqueue appends the session to its tenant's queue and returns the
// 1-based position. A session already queued is not re-queued; its
// current position is returned instead.
func (q *Queue) Enqueue(ctx context.Context, entry *models.QueueEntry) (int, error) {
	seq, err := q.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("%w: queue sequence: %w", chaterr.ErrTransientStore, err)
	}
	key := q.primaryKey(entry, seq)

	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal queue entry: %w", err)
	}

	position := 0
	err = q.db.Update(func(txn *badger.Txn) error {
		// At most one queue entry per session.
		_, err := txn.Get(sessionKey(entry.SessionID))
		if err == nil {
			pos, perr := positionInTxn(txn, entry.TenantID, entry.SessionID)
			if perr != nil {
				return perr
			}
			position = pos
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(sessionKey(entry.SessionID), key); err != nil {
			return err
		}
		pos, err := countAhead(txn, entry.TenantID, key)
		if err != nil {
			return err
		}
		position = pos + 1
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: enqueue: %w", chaterr.ErrTransientStore, err)
	}

	q.gaugeDepth(entry.TenantID)
	return position, nil
}

// Position returns the session's current 1-based position: one more
// than the count of still-queued entries ordered ahead of it.
// Returns ErrNotFound if the session is not queued.
func (q *Queue) Position(ctx context.Context, tenantID string, sessionID uuid.UUID) (int, error) {
	position := 0
	err := q.db.View(func(txn *badger.Txn) error {
		pos, err := positionInTxn(txn, tenantID, sessionID)
		if err != nil {
			return err
		}
		position = pos
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: session %s is not queued", chaterr.ErrNotFound, sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: position: %w", chaterr.ErrTransientStore, err)
	}
	return position, nil
}

// EstimatedWait returns the advisory wait for a queue position:
// position times the per-slot estimate, capped. Deterministic in the
// position alone.
func (q *Queue) EstimatedWait(position int) time.Duration {
	if position <= 0 {
		return 0
	}
	est := time.Duration(position) * q.slotEstimate
	if q.maxEstimate > 0 && est > q.maxEstimate {
		return q.maxEstimate
	}
	return est
}

// Dequeue removes the session's entry. Idempotent: removing an absent
// entry reports (false, nil). The removal is the commit point of the
// at-most-once assignment invariant — exactly one caller observes true.
func (q *Queue) Dequeue(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	removed := false
	var tenantID string
	err := q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var primary []byte
		if err := item.Value(func(val []byte) error {
			primary = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		entry, err := readEntry(txn, primary)
		if err == nil {
			tenantID = entry.TenantID
		}
		if err := txn.Delete(primary); err != nil {
			return err
		}
		if err := txn.Delete(sessionKey(sessionID)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: dequeue: %w", chaterr.ErrTransientStore, err)
	}
	if removed && tenantID != "" {
		q.gaugeDepth(tenantID)
	}
	return removed, nil
}

// Len returns the number of sessions waiting for the tenant.
func (q *Queue) Len(ctx context.Context, tenantID string) (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		prefix := tenantPrefix(tenantID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: queue len: %w", chaterr.ErrTransientStore, err)
	}
	return n, nil
}

// Peek returns the next entry in drain order without removing it,
// or (nil, nil) when the tenant's queue is empty.
func (q *Queue) Peek(ctx context.Context, tenantID string) (*models.QueueEntry, error) {
	var head *models.QueueEntry
	err := q.db.View(func(txn *badger.Txn) error {
		prefix := tenantPrefix(tenantID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		entry, err := decodeEntry(it.Item())
		if err != nil {
			return err
		}
		head = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: queue peek: %w", chaterr.ErrTransientStore, err)
	}
	return head, nil
}

// gaugeDepth refreshes the depth gauge for the tenant. Best effort.
func (q *Queue) gaugeDepth(tenantID string) {
	if n, err := q.Len(context.Background(), tenantID); err == nil {
		metrics.QueueDepth.WithLabelValues(tenantID).Set(float64(n))
	}
}

// positionInTxn returns the 1-based position of a queued session.
// Propagates badger.ErrKeyNotFound when the session is not queued.
func positionInTxn(txn *badger.Txn, tenantID string, sessionID uuid.UUID) (int, error) {
	item, err := txn.Get(sessionKey(sessionID))
	if err != nil {
		return 0, err
	}
	var primary []byte
	if err := item.Value(func(val []byte) error {
		primary = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return 0, err
	}
	ahead, err := countAhead(txn, tenantID, primary)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// countAhead counts entries whose key sorts strictly before the given
// primary key within the tenant's prefix.
func countAhead(txn *badger.Txn, tenantID string, primary []byte) (int, error) {
	prefix := tenantPrefix(tenantID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		if string(it.Item().Key()) >= string(primary) {
			break
		}
		n++
	}
	return n, nil
}

func readEntry(txn *badger.Txn, key []byte) (*models.QueueEntry, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return decodeEntry(item)
}

func decodeEntry(item *badger.Item) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, err
	}
	return &entry, nil
}
