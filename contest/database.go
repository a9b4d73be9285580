// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"errors"
)

var (
	// ErrNotFound indicates that a record was not found in the database.
	ErrNotFound = errors.New("record not found")

	// ErrShutdown is emitted when the database is shutting down.
	ErrShutdown = errors.New("database is shutting down")

	// ErrCorruptRecord indicates that a persisted record failed to
	// decode. This is an invariant violation: the operation that hit it
	// is aborted and state is left unchanged.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Database describes the record store the contest engine persists to. Only
// single-record atomicity is assumed; the state machine's critical section
// supplies atomicity across records.
type Database interface {
	// StateGet returns the singleton system state. ErrNotFound is
	// returned if no state has been persisted yet.
	StateGet() (*SystemState, error)

	// StatePut overwrites the singleton system state.
	StatePut(SystemState) error

	// EntryNew inserts a votable entry.
	EntryNew(Entry) error

	// EntryGet returns an entry by id.
	EntryGet(id string) (*Entry, error)

	// EntryUpdate overwrites an existing entry.
	EntryUpdate(Entry) error

	// EntriesByRound returns all entries of the given kind that belong
	// to the given round.
	EntriesByRound(round uint32, kind EntryKind) ([]Entry, error)

	// BallotUpsert inserts a ballot, replacing any previous ballot from
	// the same voter on the same entry. It reports whether a previous
	// ballot existed.
	BallotUpsert(Ballot) (replaced bool, err error)

	// BallotsByEntry returns all current ballots cast on the entry.
	BallotsByEntry(entryID string) ([]Ballot, error)

	// PostponeNew inserts a postpone request.
	PostponeNew(PostponeRequest) error

	// PostponeUpdate overwrites an existing postpone request.
	PostponeUpdate(PostponeRequest) error

	// PostponesByRound returns all postpone requests for the round that
	// are in the given state.
	PostponesByRound(round uint32, state PostponeState) ([]PostponeRequest, error)

	// WalletGet returns the user's wallet. A user with no wallet record
	// yet gets a zero balance, not ErrNotFound.
	WalletGet(userID string) (*Wallet, error)

	// WalletPut overwrites the user's wallet.
	WalletPut(Wallet) error

	// Clear drops all records. Test helper.
	Clear() error

	// Close performs cleanup of the backend.
	Close() error
}
