// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localdb

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/marcopeereboom/sbox"

	"github.com/pesnobot/contestd/contest"
	"github.com/pesnobot/contestd/outbox"
)

func newTestDB(t *testing.T, key *[32]byte) *localdb {
	t.Helper()

	db, err := New(t.TempDir(), key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestStateRoundtrip(t *testing.T) {
	db := newTestDB(t, nil)

	_, err := db.StateGet()
	if !errors.Is(err, contest.ErrNotFound) {
		t.Fatalf("empty get: got %v, want %v", err, contest.ErrNotFound)
	}

	deadline := time.Now().UTC().Truncate(time.Second)
	want := contest.SystemState{
		Phase:    contest.PhaseContest,
		Round:    3,
		Deadline: &deadline,
		Task: contest.TaskDescriptor{
			Kind: contest.TaskKindManual,
			Text: "write a song",
		},
		Winner: "alice",
	}
	err = db.StatePut(want)
	if err != nil {
		t.Fatalf("StatePut: %v", err)
	}

	got, err := db.StateGet()
	if err != nil {
		t.Fatalf("StateGet: %v", err)
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%v", diff)
	}
}

func TestEntries(t *testing.T) {
	db := newTestDB(t, nil)

	entries := []contest.Entry{
		{ID: "a", Kind: contest.EntryKindSubmission, Author: "alice",
			Round: 1, Text: "one"},
		{ID: "b", Kind: contest.EntryKindSubmission, Author: "bob",
			Round: 1, Text: "two"},
		{ID: "c", Kind: contest.EntryKindSuggestion, Author: "carol",
			Round: 1, Text: "idea"},
		{ID: "d", Kind: contest.EntryKindSubmission, Author: "dave",
			Round: 2, Text: "next round"},
	}
	for _, e := range entries {
		err := db.EntryNew(e)
		if err != nil {
			t.Fatalf("EntryNew: %v", err)
		}
	}

	_, err := db.EntryGet("nope")
	if !errors.Is(err, contest.ErrNotFound) {
		t.Fatalf("unknown entry: got %v, want %v", err,
			contest.ErrNotFound)
	}

	// Filtering is by round and kind.
	got, err := db.EntriesByRound(1, contest.EntryKindSubmission)
	if err != nil {
		t.Fatalf("EntriesByRound: %v", err)
	}
	if diff := cmp.Diff(entries[:2], got); diff != "" {
		t.Errorf("round 1 submissions (-want +got):\n%v", diff)
	}

	// Updates overwrite in place.
	total := int64(7)
	entries[0].VoteTotal = &total
	err = db.EntryUpdate(entries[0])
	if err != nil {
		t.Fatalf("EntryUpdate: %v", err)
	}
	e, err := db.EntryGet("a")
	if err != nil {
		t.Fatalf("EntryGet: %v", err)
	}
	if e.VoteTotal == nil || *e.VoteTotal != 7 {
		t.Errorf("updated total: %+v", e.VoteTotal)
	}
}

func TestBallotUpsert(t *testing.T) {
	db := newTestDB(t, nil)

	replaced, err := db.BallotUpsert(contest.Ballot{
		Voter:     "carol",
		EntryID:   "a",
		Value:     3,
		Timestamp: 100,
	})
	if err != nil {
		t.Fatalf("BallotUpsert: %v", err)
	}
	if replaced {
		t.Error("first upsert reported replaced")
	}

	replaced, err = db.BallotUpsert(contest.Ballot{
		Voter:     "carol",
		EntryID:   "a",
		Value:     5,
		Timestamp: 200,
	})
	if err != nil {
		t.Fatalf("BallotUpsert: %v", err)
	}
	if !replaced {
		t.Error("second upsert not reported replaced")
	}

	// Same voter on another entry is a separate ballot.
	_, err = db.BallotUpsert(contest.Ballot{
		Voter:   "carol",
		EntryID: "b",
		Value:   1,
	})
	if err != nil {
		t.Fatalf("BallotUpsert: %v", err)
	}

	ballots, err := db.BallotsByEntry("a")
	if err != nil {
		t.Fatalf("BallotsByEntry: %v", err)
	}
	if len(ballots) != 1 {
		t.Fatalf("ballots: got %v, want 1", len(ballots))
	}
	if ballots[0].Value != 5 || ballots[0].Timestamp != 200 {
		t.Errorf("replaced ballot: %+v", ballots[0])
	}
}

func TestPostpones(t *testing.T) {
	db := newTestDB(t, nil)

	reqs := []contest.PostponeRequest{
		{ID: "p1", Requester: "alice", Round: 1,
			Extension: time.Hour, State: contest.PostponeOpen,
			Cost: 50},
		{ID: "p2", Requester: "bob", Round: 1,
			Extension: 2 * time.Hour, State: contest.PostponeOpen,
			Cost: 50},
		{ID: "p3", Requester: "carol", Round: 2,
			Extension: time.Hour, State: contest.PostponeOpen,
			Cost: 50},
	}
	for _, r := range reqs {
		err := db.PostponeNew(r)
		if err != nil {
			t.Fatalf("PostponeNew: %v", err)
		}
	}

	open, err := db.PostponesByRound(1, contest.PostponeOpen)
	if err != nil {
		t.Fatalf("PostponesByRound: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open round 1: got %v, want 2", len(open))
	}

	reqs[0].State = contest.PostponeClosedSatisfied
	err = db.PostponeUpdate(reqs[0])
	if err != nil {
		t.Fatalf("PostponeUpdate: %v", err)
	}

	open, err = db.PostponesByRound(1, contest.PostponeOpen)
	if err != nil {
		t.Fatalf("PostponesByRound: %v", err)
	}
	if len(open) != 1 || open[0].ID != "p2" {
		t.Errorf("open after close: %+v", open)
	}
}

func TestWalletZeroDefault(t *testing.T) {
	db := newTestDB(t, nil)

	w, err := db.WalletGet("alice")
	if err != nil {
		t.Fatalf("WalletGet: %v", err)
	}
	if w.UserID != "alice" || w.Balance != 0 {
		t.Errorf("fresh wallet: %+v", w)
	}

	err = db.WalletPut(contest.Wallet{UserID: "alice", Balance: 130})
	if err != nil {
		t.Fatalf("WalletPut: %v", err)
	}
	w, err = db.WalletGet("alice")
	if err != nil {
		t.Fatalf("WalletGet: %v", err)
	}
	if w.Balance != 130 {
		t.Errorf("balance: got %v, want 130", w.Balance)
	}
}

func TestWalletEncryptedAtRest(t *testing.T) {
	key, err := sbox.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	db := newTestDB(t, key)

	err = db.WalletPut(contest.Wallet{UserID: "alice", Balance: 99})
	if err != nil {
		t.Fatalf("WalletPut: %v", err)
	}

	// The raw blob carries the sbox header, not plaintext JSON.
	raw, err := db.db.Get(walletKey("alice"), nil)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if !isEncrypted(raw) {
		t.Fatalf("wallet record not encrypted: %q", raw)
	}

	w, err := db.WalletGet("alice")
	if err != nil {
		t.Fatalf("WalletGet: %v", err)
	}
	if w.Balance != 99 {
		t.Errorf("decrypted balance: got %v, want 99", w.Balance)
	}
}

func TestOutbox(t *testing.T) {
	db := newTestDB(t, nil)

	entries := []outbox.Entry{
		{ID: "b", Created: 100, Kind: "k1", Payload: []byte("{}")},
		{ID: "a", Created: 100, Kind: "k2", Payload: []byte("{}")},
		{ID: "c", Created: 50, Kind: "k3", Payload: []byte("{}")},
	}
	for _, e := range entries {
		err := db.OutboxNew(e)
		if err != nil {
			t.Fatalf("OutboxNew: %v", err)
		}
	}

	// Oldest first, id breaks created ties.
	pending, err := db.OutboxPending(0)
	if err != nil {
		t.Fatalf("OutboxPending: %v", err)
	}
	wantOrder := []string{"c", "a", "b"}
	for i, want := range wantOrder {
		if pending[i].ID != want {
			t.Fatalf("pending order: got %+v, want %v", pending,
				wantOrder)
		}
	}

	pending, err = db.OutboxPending(2)
	if err != nil {
		t.Fatalf("OutboxPending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("limited pending: got %v, want 2", len(pending))
	}

	// Sync transitions exactly once and removes from the pending set.
	err = db.OutboxSync("c", 123)
	if err != nil {
		t.Fatalf("OutboxSync: %v", err)
	}
	err = db.OutboxSync("c", 456)
	if !errors.Is(err, outbox.ErrAlreadySynced) {
		t.Errorf("double sync: got %v, want %v", err,
			outbox.ErrAlreadySynced)
	}
	err = db.OutboxSync("nope", 123)
	if !errors.Is(err, outbox.ErrNotFound) {
		t.Errorf("unknown sync: got %v, want %v", err,
			outbox.ErrNotFound)
	}

	pending, err = db.OutboxPending(0)
	if err != nil {
		t.Fatalf("OutboxPending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending after sync: got %v, want 2", len(pending))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = db.StatePut(contest.SystemState{
		Phase: contest.PhaseStandby,
		Round: 5,
	})
	if err != nil {
		t.Fatalf("StatePut: %v", err)
	}
	err = db.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = New(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	st, err := db.StateGet()
	if err != nil {
		t.Fatalf("StateGet: %v", err)
	}
	if st.Round != 5 {
		t.Errorf("round after reopen: got %v, want 5", st.Round)
	}
}

func TestShutdown(t *testing.T) {
	db := newTestDB(t, nil)

	err := db.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = db.StateGet()
	if !errors.Is(err, contest.ErrShutdown) {
		t.Errorf("get after close: got %v, want %v", err,
			contest.ErrShutdown)
	}
	err = db.StatePut(contest.SystemState{})
	if !errors.Is(err, contest.ErrShutdown) {
		t.Errorf("put after close: got %v, want %v", err,
			contest.ErrShutdown)
	}
}

func TestClear(t *testing.T) {
	db := newTestDB(t, nil)

	err := db.StatePut(contest.SystemState{Phase: contest.PhaseStandby})
	if err != nil {
		t.Fatalf("StatePut: %v", err)
	}
	err = db.EntryNew(contest.Entry{ID: "a", Round: 1,
		Kind: contest.EntryKindSubmission})
	if err != nil {
		t.Fatalf("EntryNew: %v", err)
	}

	err = db.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}

	_, err = db.StateGet()
	if !errors.Is(err, contest.ErrNotFound) {
		t.Errorf("state after clear: got %v, want %v", err,
			contest.ErrNotFound)
	}
	entries, err := db.EntriesByRound(1, contest.EntryKindSubmission)
	if err != nil {
		t.Fatalf("EntriesByRound: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after clear: got %v, want 0", len(entries))
	}
}
