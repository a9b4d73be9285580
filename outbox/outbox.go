// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package outbox implements the durable pending-event queue that mirrors
// committed domain events to an external system with at-least-once
// semantics. Entries are immutable once created; the only allowed write
// after creation is the single nil-to-value transition of the sync
// timestamp.
package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	errs "github.com/pkg/errors"
)

var (
	// ErrAlreadySynced is returned when MarkSynced is called on an entry
	// whose sync timestamp was already set. The timestamp transitions
	// exactly once.
	ErrAlreadySynced = errors.New("outbox entry already synced")

	// ErrNotFound indicates the referenced outbox entry does not exist.
	ErrNotFound = errors.New("outbox entry not found")
)

// Entry is a single queued domain event. Kind discriminates the payload so
// the external consumer can decode it exhaustively; ID is stable so the
// consumer can deduplicate redeliveries.
type Entry struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`          // Unix time of creation
	Synced  *int64 `json:"synced,omitempty"` // Unix time of sync, nil = pending
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"` // Kind-specific JSON payload
}

// DB is the slice of the record store the outbox persists to.
type DB interface {
	// OutboxNew appends an entry.
	OutboxNew(Entry) error

	// OutboxPending returns up to limit pending entries, oldest first.
	// A limit <= 0 means no limit.
	OutboxPending(limit int) ([]Entry, error)

	// OutboxSync sets the entry's sync timestamp. ErrAlreadySynced is
	// returned if it was already set, ErrNotFound if the entry does not
	// exist.
	OutboxSync(id string, ts int64) error
}

// Outbox appends domain events for later delivery.
type Outbox struct {
	db DB
}

// New returns a new Outbox backed by the provided store.
func New(db DB) *Outbox {
	return &Outbox{
		db: db,
	}
}

// Enqueue appends an immutable pending entry for the provided event kind and
// payload. The payload is JSON encoded.
func (o *Outbox) Enqueue(kind string, payload interface{}) (*Entry, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.WithStack(err)
	}
	e := Entry{
		ID:      uuid.New().String(),
		Created: time.Now().Unix(),
		Kind:    kind,
		Payload: b,
	}
	err = o.db.OutboxNew(e)
	if err != nil {
		return nil, err
	}

	log.Tracef("Outbox enqueue %v %v", e.Kind, e.ID)

	return &e, nil
}

// PollPending returns up to limit pending entries, oldest first.
func (o *Outbox) PollPending(limit int) ([]Entry, error) {
	return o.db.OutboxPending(limit)
}

// MarkSynced records that the external system acknowledged the entry. It
// must only be called after the remote acknowledgment; calling it twice for
// the same entry returns ErrAlreadySynced.
func (o *Outbox) MarkSynced(id string, t time.Time) error {
	return o.db.OutboxSync(id, t.Unix())
}
