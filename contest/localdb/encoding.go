// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pesnobot/contestd/contest"
	"github.com/pesnobot/contestd/outbox"
)

// Records are stored as JSON. Decode failures mean a corrupt record, which
// is an invariant violation for the caller, so they surface as
// contest.ErrCorruptRecord.

func encodeSystemState(s contest.SystemState) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSystemState(payload []byte) (*contest.SystemState, error) {
	var s contest.SystemState
	err := json.Unmarshal(payload, &s)
	if err != nil {
		return nil, fmt.Errorf("%w: system state: %v",
			contest.ErrCorruptRecord, err)
	}
	return &s, nil
}

func encodeEntry(e contest.Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(payload []byte) (*contest.Entry, error) {
	var e contest.Entry
	err := json.Unmarshal(payload, &e)
	if err != nil {
		return nil, fmt.Errorf("%w: entry: %v",
			contest.ErrCorruptRecord, err)
	}
	return &e, nil
}

func encodeBallot(b contest.Ballot) ([]byte, error) {
	return json.Marshal(b)
}

func decodeBallot(payload []byte) (*contest.Ballot, error) {
	var b contest.Ballot
	err := json.Unmarshal(payload, &b)
	if err != nil {
		return nil, fmt.Errorf("%w: ballot: %v",
			contest.ErrCorruptRecord, err)
	}
	return &b, nil
}

func encodePostpone(r contest.PostponeRequest) ([]byte, error) {
	return json.Marshal(r)
}

func decodePostpone(payload []byte) (*contest.PostponeRequest, error) {
	var r contest.PostponeRequest
	err := json.Unmarshal(payload, &r)
	if err != nil {
		return nil, fmt.Errorf("%w: postpone request: %v",
			contest.ErrCorruptRecord, err)
	}
	return &r, nil
}

func encodeWallet(w contest.Wallet) ([]byte, error) {
	return json.Marshal(w)
}

func decodeWallet(payload []byte) (*contest.Wallet, error) {
	var w contest.Wallet
	err := json.Unmarshal(payload, &w)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet: %v",
			contest.ErrCorruptRecord, err)
	}
	return &w, nil
}

func encodeOutboxEntry(e outbox.Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeOutboxEntry(payload []byte) (*outbox.Entry, error) {
	var e outbox.Entry
	err := json.Unmarshal(payload, &e)
	if err != nil {
		return nil, fmt.Errorf("%w: outbox entry: %v",
			contest.ErrCorruptRecord, err)
	}
	return &e, nil
}

// initVersion writes the version record on first open.
func (l *localdb) initVersion() error {
	ok, err := l.db.Has([]byte(versionKey), nil)
	if err != nil {
		return err
	} else if ok {
		return nil
	}

	payload, err := json.Marshal(Version{
		Version: DBVersion,
		Time:    time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return l.db.Put([]byte(versionKey), payload, nil)
}
