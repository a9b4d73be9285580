// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"
)

// memDB is an in-memory DB for tests.
type memDB struct {
	entries map[string]Entry
	order   []string // insertion order for stable Created ties
}

func newMemDB() *memDB {
	return &memDB{
		entries: make(map[string]Entry),
	}
}

func (m *memDB) OutboxNew(e Entry) error {
	m.entries[e.ID] = e
	m.order = append(m.order, e.ID)
	return nil
}

func (m *memDB) OutboxPending(limit int) ([]Entry, error) {
	var out []Entry
	for _, id := range m.order {
		e := m.entries[id]
		if e.Synced == nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created < out[j].Created
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDB) OutboxSync(id string, ts int64) error {
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Synced != nil {
		return ErrAlreadySynced
	}
	e.Synced = &ts
	m.entries[id] = e
	return nil
}

func TestEnqueue(t *testing.T) {
	db := newMemDB()
	o := New(db)

	type payload struct {
		Round uint32 `json:"round"`
	}
	e, err := o.Enqueue("contest:roundstarted", payload{Round: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.ID == "" {
		t.Error("entry id not assigned")
	}
	if e.Created == 0 {
		t.Error("created timestamp not set")
	}
	if e.Synced != nil {
		t.Error("new entry already synced")
	}

	var p payload
	err = json.Unmarshal(e.Payload, &p)
	if err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if p.Round != 3 {
		t.Errorf("payload round: got %v, want 3", p.Round)
	}
}

func TestPollPendingOrderAndLimit(t *testing.T) {
	db := newMemDB()
	o := New(db)

	var ids []string
	for i := 0; i < 5; i++ {
		e, err := o.Enqueue("k", i)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, e.ID)
	}

	pending, err := o.PollPending(3)
	if err != nil {
		t.Fatalf("PollPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending: got %v, want 3", len(pending))
	}
	for i, e := range pending {
		if e.ID != ids[i] {
			t.Errorf("pending[%v]: got %v, want %v", i, e.ID, ids[i])
		}
	}

	// Synced entries drop out of the pending set.
	err = o.MarkSynced(ids[0], time.Now())
	if err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	pending, err = o.PollPending(0)
	if err != nil {
		t.Fatalf("PollPending: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("pending after sync: got %v, want 4", len(pending))
	}
	if pending[0].ID != ids[1] {
		t.Errorf("oldest pending: got %v, want %v", pending[0].ID,
			ids[1])
	}
}

func TestMarkSyncedOnce(t *testing.T) {
	db := newMemDB()
	o := New(db)

	e, err := o.Enqueue("k", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	err = o.MarkSynced(e.ID, time.Now())
	if err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	err = o.MarkSynced(e.ID, time.Now())
	if !errors.Is(err, ErrAlreadySynced) {
		t.Errorf("second sync: got %v, want %v", err, ErrAlreadySynced)
	}

	err = o.MarkSynced("no-such-id", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want %v", err, ErrNotFound)
	}
}

func TestRelayDeliversAndMarks(t *testing.T) {
	db := newMemDB()
	o := New(db)

	for i := 0; i < 3; i++ {
		_, err := o.Enqueue("k", i)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var delivered []string
	r := NewRelay(o, SyncerFunc(func(ctx context.Context, e Entry) error {
		delivered = append(delivered, e.ID)
		return nil
	}), time.Hour)

	r.cycle(context.Background())

	if len(delivered) != 3 {
		t.Fatalf("delivered: got %v, want 3", len(delivered))
	}
	pending, err := o.PollPending(0)
	if err != nil {
		t.Fatalf("PollPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after cycle: got %v, want 0", len(pending))
	}
}

func TestRelayLeavesFailedPending(t *testing.T) {
	db := newMemDB()
	o := New(db)

	_, err := o.Enqueue("k", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var attempts int
	r := NewRelay(o, SyncerFunc(func(ctx context.Context, e Entry) error {
		attempts++
		return errors.New("remote down")
	}), time.Hour)

	r.cycle(context.Background())

	if attempts != relayAttempts {
		t.Errorf("attempts: got %v, want %v", attempts, relayAttempts)
	}
	pending, err := o.PollPending(0)
	if err != nil {
		t.Fatalf("PollPending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending after failure: got %v, want 1", len(pending))
	}
}

func TestRelayRecoversMidFlight(t *testing.T) {
	db := newMemDB()
	o := New(db)

	_, err := o.Enqueue("k", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var fails = 1
	syncer := SyncerFunc(func(ctx context.Context, e Entry) error {
		if fails > 0 {
			fails--
			return errors.New("flaky")
		}
		return nil
	})
	r := NewRelay(o, syncer, time.Hour)

	r.cycle(context.Background())

	pending, err := o.PollPending(0)
	if err != nil {
		t.Fatalf("PollPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after retry: got %v, want 0", len(pending))
	}
}
