// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package contest holds the challenge-cycle domain model and the state
// machine that advances it. A cycle runs submission, voting, winner
// selection, and next-task negotiation, driven by wall-clock deadlines and
// quorum-gated user actions.
package contest

import (
	"fmt"
	"time"

	"github.com/pesnobot/contestd/comms"
)

// Phase describes where the challenge cycle currently is.
type Phase int

const (
	// PhaseInvalid is an invalid phase.
	PhaseInvalid Phase = 0

	// PhaseStandby means no cycle is running. A kickstart or a task
	// suggestion poll starts the next one.
	PhaseStandby Phase = 1

	// PhaseContest means submissions are being accepted until the
	// contest deadline.
	PhaseContest Phase = 2

	// PhaseVoting means submissions are frozen and ballots are being
	// accepted until the voting deadline.
	PhaseVoting Phase = 3

	// PhaseFinalizingVoting is the transient phase in which ballots are
	// consolidated and the winner is computed.
	PhaseFinalizingVoting Phase = 4

	// PhaseChoosingNextTask means the winner is picking the next round's
	// task, bounded by the task-selection deadline.
	PhaseChoosingNextTask Phase = 5

	// PhaseInnerCircleVoting means the proposed next task is awaiting an
	// admin quorum.
	PhaseInnerCircleVoting Phase = 6

	// PhaseTaskSuggestionCollection means task suggestions are being
	// accepted until the collection deadline.
	PhaseTaskSuggestionCollection Phase = 7

	// PhaseTaskSuggestionVoting means suggestions are frozen and ballots
	// are being accepted until the poll deadline.
	PhaseTaskSuggestionVoting Phase = 8

	// PhaseFinalizingTaskPoll is the transient phase in which suggestion
	// ballots are consolidated and the winning suggestion is computed.
	PhaseFinalizingTaskPoll Phase = 9
)

var phases = map[Phase]string{
	PhaseInvalid:                  "invalid",
	PhaseStandby:                  "standby",
	PhaseContest:                  "contest",
	PhaseVoting:                   "voting",
	PhaseFinalizingVoting:         "finalizingvoting",
	PhaseChoosingNextTask:         "choosingnexttask",
	PhaseInnerCircleVoting:        "innercirclevoting",
	PhaseTaskSuggestionCollection: "tasksuggestioncollection",
	PhaseTaskSuggestionVoting:     "tasksuggestionvoting",
	PhaseFinalizingTaskPoll:       "finalizingtaskpoll",
}

// String satisfies the fmt.Stringer interface.
func (p Phase) String() string {
	s, ok := phases[p]
	if !ok {
		return fmt.Sprintf("unknown phase %d", p)
	}
	return s
}

// TimeBound returns whether the phase carries an active deadline that users
// can extend through postpone requests.
func (p Phase) TimeBound() bool {
	switch p {
	case PhaseContest, PhaseVoting, PhaseTaskSuggestionCollection,
		PhaseTaskSuggestionVoting:
		return true
	}
	return false
}

// TaskKind describes where the current round's task came from.
type TaskKind int

const (
	// TaskKindInvalid is an invalid task kind.
	TaskKindInvalid TaskKind = 0

	// TaskKindManual means the previous winner wrote the task.
	TaskKindManual TaskKind = 1

	// TaskKindRandom means the task was drawn from the template pool.
	TaskKindRandom TaskKind = 2

	// TaskKindPoll means the task was selected by a suggestion poll.
	TaskKindPoll TaskKind = 3
)

// TaskDescriptor describes the task of the current round.
type TaskDescriptor struct {
	Kind TaskKind `json:"kind"`
	Text string   `json:"text"`
}

// SystemState is the singleton record the state machine mutates. It is read
// by the deadline scheduler and by command handlers; it is written only by
// the state machine.
type SystemState struct {
	Phase    Phase          `json:"phase"`
	Round    uint32         `json:"round"`    // Monotonic, incremented per completed cycle
	Deadline *time.Time     `json:"deadline"` // UTC, set only while phase is time-bound
	Task     TaskDescriptor `json:"task"`
	Winner   string         `json:"winner"` // Empty until a winner is chosen

	// TaskDeadline bounds the winner's task selection. It is distinct
	// from Deadline so that the postpone machinery, which only operates
	// on time-bound phases, can never touch it.
	TaskDeadline *time.Time `json:"taskdeadline,omitempty"`

	// Messages references outstanding notification messages so they can
	// be edited or deleted on the next transition.
	Messages []comms.MessageRef `json:"messages,omitempty"`
}

// EntryKind discriminates the two votable entry kinds.
type EntryKind int

const (
	// EntryKindInvalid is an invalid entry kind.
	EntryKindInvalid EntryKind = 0

	// EntryKindSubmission is a contest submission.
	EntryKindSubmission EntryKind = 1

	// EntryKindSuggestion is a task suggestion.
	EntryKindSuggestion EntryKind = 2
)

// Entry is a votable: a contest submission or a task suggestion.
type Entry struct {
	ID     string    `json:"id"`
	Kind   EntryKind `json:"kind"`
	Author string    `json:"author"`
	Round  uint32    `json:"round"`
	Text   string    `json:"text"`

	// VoteTotal is nil while the entry is still accepting votes. A
	// value means the total was consolidated and is frozen for this
	// phase.
	VoteTotal *int64 `json:"votetotal,omitempty"`
}

// Ballot is a single user's signed vote against a votable entry. At most one
// ballot exists per (voter, entry) pair; a repeat vote replaces it.
type Ballot struct {
	Voter     string `json:"voter"`
	EntryID   string `json:"entryid"`
	Value     int64  `json:"value"`
	Timestamp int64  `json:"timestamp"` // Unix time of the latest cast
}

// PostponeState describes the lifecycle of a postpone request.
type PostponeState int

const (
	// PostponeInvalid is an invalid postpone state.
	PostponeInvalid PostponeState = 0

	// PostponeOpen counts toward the current quorum window.
	PostponeOpen PostponeState = 1

	// PostponeClosedSatisfied means the request was part of a quorum
	// that extended the deadline. The requester was debited.
	PostponeClosedSatisfied PostponeState = 2

	// PostponeClosedDiscarded means the phase ended before quorum was
	// reached. The requester was not debited.
	PostponeClosedDiscarded PostponeState = 3
)

// PostponeRequest is a user's request to extend the active deadline.
type PostponeRequest struct {
	ID        string        `json:"id"`
	Requester string        `json:"requester"`
	Round     uint32        `json:"round"`
	Extension time.Duration `json:"extension"`
	State     PostponeState `json:"state"`
	Cost      int64         `json:"cost"` // Pesnocents charged if satisfied
}

// Wallet is a user's pesnocent balance. The balance never goes negative;
// debits that would overdraw are rejected before any record is written.
type Wallet struct {
	UserID  string `json:"userid"`
	Balance int64  `json:"balance"`
}
