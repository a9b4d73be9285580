// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"errors"
)

// Guard errors. These are the expected, non-exceptional branches of the
// transition table: a caller that hits one gets a rejection, the cycle
// continues unaffected, and nothing was written.
var (
	// ErrWrongPhase is returned when an action is not valid in the
	// current phase.
	ErrWrongPhase = errors.New("action not allowed in current phase")

	// ErrInsufficientFunds is returned when a postpone request would
	// overdraw the requester's wallet. The request is rejected before
	// any record is written.
	ErrInsufficientFunds = errors.New("insufficient pesnocent balance")

	// ErrDuplicatePostpone is returned when the requester already has an
	// open postpone request for the round.
	ErrDuplicatePostpone = errors.New("postpone request already open")

	// ErrNotWinner is returned when someone other than the round winner
	// tries to pick the next task.
	ErrNotWinner = errors.New("only the round winner may do this")

	// ErrNotAdmin is returned when a non inner-circle user casts an
	// inner-circle vote.
	ErrNotAdmin = errors.New("not an inner-circle admin")

	// ErrSelfVote is returned when a user votes on their own entry.
	ErrSelfVote = errors.New("voting on own entry")

	// ErrValueOutOfRange is returned when a ballot value falls outside
	// the configured range for the entry kind.
	ErrValueOutOfRange = errors.New("ballot value out of range")

	// ErrEntryFrozen is returned when a ballot targets an entry whose
	// vote total has already been consolidated.
	ErrEntryFrozen = errors.New("entry vote total is frozen")
)
