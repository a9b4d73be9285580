// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package localdb implements the contest record store on top of leveldb.
package localdb

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/pesnobot/contestd/contest"
	"github.com/pesnobot/contestd/outbox"
	"github.com/syndtr/goleveldb/leveldb"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

const (
	// DBPath is the directory name the database is created under.
	DBPath = "contestdb"

	// DBVersion is the current database version.
	DBVersion uint32 = 1

	// Record key prefixes. Every record kind lives under its own prefix
	// so range queries are a single prefix iteration.
	versionKey     = "version"
	stateKey       = "state"
	entryPrefix    = "entry:"
	ballotPrefix   = "ballot:"
	postponePrefix = "postpone:"
	walletPrefix   = "wallet:"
	outboxPrefix   = "outbox:"
)

var (
	_ contest.Database = (*localdb)(nil)
	_ outbox.DB        = (*localdb)(nil)
)

// localdb implements the contest.Database and outbox.DB interfaces.
type localdb struct {
	sync.RWMutex

	shutdown bool        // Backend is shutdown
	root     string      // Database root
	db       *leveldb.DB // Database context
	key      *[32]byte   // Encryption key, may be nil
}

// Version contains the database version.
type Version struct {
	Version uint32 `json:"version"` // Database version
	Time    int64  `json:"time"`    // Time of record creation
}

func entryKey(id string) []byte {
	return []byte(entryPrefix + id)
}

func ballotKey(entryID, voter string) []byte {
	return []byte(ballotPrefix + entryID + ":" + voter)
}

func postponeKey(id string) []byte {
	return []byte(postponePrefix + id)
}

func walletKey(userID string) []byte {
	return []byte(walletPrefix + userID)
}

func outboxKey(id string) []byte {
	return []byte(outboxPrefix + id)
}

// StateGet returns the singleton system state.
//
// StateGet satisfies the contest.Database interface.
func (l *localdb) StateGet() (*contest.SystemState, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	payload, err := l.db.Get([]byte(stateKey), nil)
	if err == leveldb.ErrNotFound {
		return nil, contest.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return decodeSystemState(payload)
}

// StatePut overwrites the singleton system state.
//
// StatePut satisfies the contest.Database interface.
func (l *localdb) StatePut(s contest.SystemState) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	log.Tracef("StatePut: %v round %v", s.Phase, s.Round)

	payload, err := encodeSystemState(s)
	if err != nil {
		return err
	}
	return l.db.Put([]byte(stateKey), payload, nil)
}

// EntryNew inserts a votable entry.
//
// EntryNew satisfies the contest.Database interface.
func (l *localdb) EntryNew(e contest.Entry) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	log.Debugf("EntryNew: %v %v by %v", e.Kind, e.ID, e.Author)

	payload, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return l.db.Put(entryKey(e.ID), payload, nil)
}

// EntryGet returns an entry by id.
//
// EntryGet satisfies the contest.Database interface.
func (l *localdb) EntryGet(id string) (*contest.Entry, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	payload, err := l.db.Get(entryKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, contest.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return decodeEntry(payload)
}

// EntryUpdate overwrites an existing entry.
//
// EntryUpdate satisfies the contest.Database interface.
func (l *localdb) EntryUpdate(e contest.Entry) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	ok, err := l.db.Has(entryKey(e.ID), nil)
	if err != nil {
		return err
	} else if !ok {
		return contest.ErrNotFound
	}

	payload, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return l.db.Put(entryKey(e.ID), payload, nil)
}

// EntriesByRound returns all entries of the given kind for the given round.
//
// EntriesByRound satisfies the contest.Database interface.
func (l *localdb) EntriesByRound(round uint32, kind contest.EntryKind) ([]contest.Entry, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	entries := make([]contest.Entry, 0, 64)
	iter := l.db.NewIterator(ldbutil.BytesPrefix([]byte(entryPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return nil, err
		}
		if e.Round == round && e.Kind == kind {
			entries = append(entries, *e)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	// Iteration order of uuid keys is not meaningful. Sort by id so
	// callers see a stable order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})

	return entries, nil
}

// BallotUpsert inserts a ballot, replacing any previous ballot from the same
// voter on the same entry. The (entry, voter) key makes the one-ballot-per-
// pair invariant a plain overwrite.
//
// BallotUpsert satisfies the contest.Database interface.
func (l *localdb) BallotUpsert(b contest.Ballot) (bool, error) {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return false, contest.ErrShutdown
	}

	key := ballotKey(b.EntryID, b.Voter)
	replaced, err := l.db.Has(key, nil)
	if err != nil {
		return false, err
	}

	log.Debugf("BallotUpsert: %v on %v value %v replaced %v",
		b.Voter, b.EntryID, b.Value, replaced)

	payload, err := encodeBallot(b)
	if err != nil {
		return false, err
	}
	err = l.db.Put(key, payload, nil)
	if err != nil {
		return false, err
	}
	return replaced, nil
}

// BallotsByEntry returns all current ballots cast on the entry.
//
// BallotsByEntry satisfies the contest.Database interface.
func (l *localdb) BallotsByEntry(entryID string) ([]contest.Ballot, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	ballots := make([]contest.Ballot, 0, 64)
	prefix := ballotPrefix + entryID + ":"
	iter := l.db.NewIterator(ldbutil.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		b, err := decodeBallot(iter.Value())
		if err != nil {
			return nil, err
		}
		ballots = append(ballots, *b)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return ballots, nil
}

// PostponeNew inserts a postpone request.
//
// PostponeNew satisfies the contest.Database interface.
func (l *localdb) PostponeNew(r contest.PostponeRequest) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	log.Debugf("PostponeNew: %v by %v round %v", r.ID, r.Requester,
		r.Round)

	payload, err := encodePostpone(r)
	if err != nil {
		return err
	}
	return l.db.Put(postponeKey(r.ID), payload, nil)
}

// PostponeUpdate overwrites an existing postpone request.
//
// PostponeUpdate satisfies the contest.Database interface.
func (l *localdb) PostponeUpdate(r contest.PostponeRequest) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	ok, err := l.db.Has(postponeKey(r.ID), nil)
	if err != nil {
		return err
	} else if !ok {
		return contest.ErrNotFound
	}

	payload, err := encodePostpone(r)
	if err != nil {
		return err
	}
	return l.db.Put(postponeKey(r.ID), payload, nil)
}

// PostponesByRound returns all postpone requests for the round in the given
// state.
//
// PostponesByRound satisfies the contest.Database interface.
func (l *localdb) PostponesByRound(round uint32, state contest.PostponeState) ([]contest.PostponeRequest, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	requests := make([]contest.PostponeRequest, 0, 16)
	iter := l.db.NewIterator(ldbutil.BytesPrefix([]byte(postponePrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		r, err := decodePostpone(iter.Value())
		if err != nil {
			return nil, err
		}
		if r.Round == round && r.State == state {
			requests = append(requests, *r)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(requests, func(i, j int) bool {
		return requests[i].ID < requests[j].ID
	})

	return requests, nil
}

// WalletGet returns the user's wallet. A user without a wallet record gets a
// zero balance.
//
// WalletGet satisfies the contest.Database interface.
func (l *localdb) WalletGet(userID string) (*contest.Wallet, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	payload, err := l.db.Get(walletKey(userID), nil)
	if err == leveldb.ErrNotFound {
		return &contest.Wallet{
			UserID:  userID,
			Balance: 0,
		}, nil
	} else if err != nil {
		return nil, err
	}

	payload, err = l.maybeDecrypt(payload)
	if err != nil {
		return nil, err
	}
	return decodeWallet(payload)
}

// WalletPut overwrites the user's wallet. Wallet blobs are encrypted at rest
// when the database was opened with an encryption key.
//
// WalletPut satisfies the contest.Database interface.
func (l *localdb) WalletPut(w contest.Wallet) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	log.Tracef("WalletPut: %v balance %v", w.UserID, w.Balance)

	payload, err := encodeWallet(w)
	if err != nil {
		return err
	}
	payload, err = l.maybeEncrypt(payload)
	if err != nil {
		return err
	}
	return l.db.Put(walletKey(w.UserID), payload, nil)
}

// OutboxNew appends an outbox entry.
//
// OutboxNew satisfies the outbox.DB interface.
func (l *localdb) OutboxNew(e outbox.Entry) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	payload, err := encodeOutboxEntry(e)
	if err != nil {
		return err
	}
	return l.db.Put(outboxKey(e.ID), payload, nil)
}

// OutboxPending returns up to limit pending entries, oldest first.
//
// OutboxPending satisfies the outbox.DB interface.
func (l *localdb) OutboxPending(limit int) ([]outbox.Entry, error) {
	l.RLock()
	defer l.RUnlock()

	if l.shutdown {
		return nil, contest.ErrShutdown
	}

	pending := make([]outbox.Entry, 0, 64)
	iter := l.db.NewIterator(ldbutil.BytesPrefix([]byte(outboxPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		e, err := decodeOutboxEntry(iter.Value())
		if err != nil {
			return nil, err
		}
		if e.Synced == nil {
			pending = append(pending, *e)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Created != pending[j].Created {
			return pending[i].Created < pending[j].Created
		}
		return pending[i].ID < pending[j].ID
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// OutboxSync sets the entry's sync timestamp. The timestamp transitions
// exactly once; a second call returns outbox.ErrAlreadySynced.
//
// OutboxSync satisfies the outbox.DB interface.
func (l *localdb) OutboxSync(id string, ts int64) error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	payload, err := l.db.Get(outboxKey(id), nil)
	if err == leveldb.ErrNotFound {
		return outbox.ErrNotFound
	} else if err != nil {
		return err
	}
	e, err := decodeOutboxEntry(payload)
	if err != nil {
		return err
	}
	if e.Synced != nil {
		return outbox.ErrAlreadySynced
	}
	e.Synced = &ts

	payload, err = encodeOutboxEntry(*e)
	if err != nil {
		return err
	}
	return l.db.Put(outboxKey(id), payload, nil)
}

// Clear drops all records.
//
// Clear satisfies the contest.Database interface.
func (l *localdb) Clear() error {
	l.Lock()
	defer l.Unlock()

	if l.shutdown {
		return contest.ErrShutdown
	}

	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(nil, nil)
	for iter.Next() {
		// iter.Key returns a slice the iterator reuses.
		key := string(iter.Key())
		if key == versionKey {
			continue
		}
		batch.Delete([]byte(key))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return l.db.Write(batch, nil)
}

// Close shuts down the database. All interface functions must return with
// ErrShutdown after this call.
//
// Close satisfies the contest.Database interface.
func (l *localdb) Close() error {
	l.Lock()
	defer l.Unlock()

	l.shutdown = true
	l.zeroKey()
	return l.db.Close()
}

// New opens the database at root, creating it if it does not exist. A nil
// key disables at-rest encryption of wallet records.
func New(root string, key *[32]byte) (*localdb, error) {
	log.Tracef("localdb New: %v", root)

	db, err := leveldb.OpenFile(filepath.Join(root, DBPath), nil)
	if err != nil {
		return nil, err
	}

	l := &localdb{
		root: root,
		db:   db,
		key:  key,
	}

	err = l.initVersion()
	if err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}
