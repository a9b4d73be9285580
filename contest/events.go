// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"time"
)

// Event types emitted on the event bus. Every committed transition is also
// mirrored to the outbox under the same kind string with the same payload;
// the UI-only events (deadline approaching, notification failures, postpone
// rejections) stay on the bus.
const (
	// EventTypeRoundStarted is emitted when a round opens for
	// submissions.
	EventTypeRoundStarted = "contest:roundstarted"

	// EventTypeVotingStarted is emitted when submissions freeze and
	// voting opens.
	EventTypeVotingStarted = "contest:votingstarted"

	// EventTypeNotEnoughEntries is emitted when a deadline elapsed with
	// fewer entries than the configured minimum.
	EventTypeNotEnoughEntries = "contest:notenoughentries"

	// EventTypeNotEnoughVotes is emitted when a voting deadline elapsed
	// with fewer distinct voters than the configured minimum.
	EventTypeNotEnoughVotes = "contest:notenoughvotes"

	// EventTypeWinnerChosen is emitted when voting is finalized and a
	// winner is computed.
	EventTypeWinnerChosen = "contest:winnerchosen"

	// EventTypeTaskProposed is emitted when a next-round task is put in
	// front of the inner circle.
	EventTypeTaskProposed = "contest:taskproposed"

	// EventTypeTaskApproved is emitted when the inner circle approves
	// the proposed task.
	EventTypeTaskApproved = "contest:taskapproved"

	// EventTypeTaskDeclined is emitted when the inner circle declines
	// the proposed task and requests a revision.
	EventTypeTaskDeclined = "contest:taskdeclined"

	// EventTypeTaskPollStarted is emitted when task suggestion
	// collection opens.
	EventTypeTaskPollStarted = "contest:taskpollstarted"

	// EventTypeTaskPollVoting is emitted when suggestions freeze and
	// suggestion voting opens.
	EventTypeTaskPollVoting = "contest:taskpollvoting"

	// EventTypeTaskPollDecided is emitted when the suggestion poll is
	// finalized.
	EventTypeTaskPollDecided = "contest:taskpolldecided"

	// EventTypeDeadlineExtended is emitted when a postpone quorum
	// extends the active deadline.
	EventTypeDeadlineExtended = "contest:deadlineextended"

	// EventTypeDeadlineApproaching is emitted once per armed deadline
	// when it enters the preview window. Bus only, never mirrored.
	EventTypeDeadlineApproaching = "contest:deadlineapproaching"

	// EventTypePostponeRejected is emitted when a postpone request is
	// rejected. Bus only, never mirrored.
	EventTypePostponeRejected = "contest:postponerejected"

	// EventTypeNotifyFailed is emitted when an outbound notification
	// soft-fails. Bus only, never mirrored.
	EventTypeNotifyFailed = "contest:notifyfailed"
)

// EventRoundStarted is the event data for EventTypeRoundStarted.
type EventRoundStarted struct {
	Round    uint32         `json:"round"`
	Task     TaskDescriptor `json:"task"`
	Deadline time.Time      `json:"deadline"`
}

// EventVotingStarted is the event data for EventTypeVotingStarted.
type EventVotingStarted struct {
	Round    uint32    `json:"round"`
	Deadline time.Time `json:"deadline"`
	Entries  int       `json:"entries"`
}

// EventNotEnoughEntries is the event data for EventTypeNotEnoughEntries.
type EventNotEnoughEntries struct {
	Round    uint32    `json:"round"`
	Kind     EntryKind `json:"kind"`
	Got      int       `json:"got"`
	Required int       `json:"required"`
}

// EventNotEnoughVotes is the event data for EventTypeNotEnoughVotes.
type EventNotEnoughVotes struct {
	Round    uint32    `json:"round"`
	Kind     EntryKind `json:"kind"`
	Got      int       `json:"got"`
	Required int       `json:"required"`
}

// EventWinnerChosen is the event data for EventTypeWinnerChosen.
type EventWinnerChosen struct {
	Round     uint32 `json:"round"`
	EntryID   string `json:"entryid"`
	Winner    string `json:"winner"`
	Total     int64  `json:"total"`
	TieBroken bool   `json:"tiebroken"`
}

// EventTaskProposed is the event data for EventTypeTaskProposed.
type EventTaskProposed struct {
	Round uint32         `json:"round"`
	Task  TaskDescriptor `json:"task"`
}

// EventTaskApproved is the event data for EventTypeTaskApproved.
type EventTaskApproved struct {
	Round uint32         `json:"round"`
	Task  TaskDescriptor `json:"task"`
}

// EventTaskDeclined is the event data for EventTypeTaskDeclined.
type EventTaskDeclined struct {
	Round  uint32         `json:"round"`
	Task   TaskDescriptor `json:"task"`
	Winner string         `json:"winner"`
}

// EventTaskPollStarted is the event data for EventTypeTaskPollStarted.
type EventTaskPollStarted struct {
	Round    uint32    `json:"round"`
	Deadline time.Time `json:"deadline"`
}

// EventTaskPollVoting is the event data for EventTypeTaskPollVoting.
type EventTaskPollVoting struct {
	Round       uint32    `json:"round"`
	Deadline    time.Time `json:"deadline"`
	Suggestions int       `json:"suggestions"`
}

// EventTaskPollDecided is the event data for EventTypeTaskPollDecided.
type EventTaskPollDecided struct {
	Round   uint32         `json:"round"`
	EntryID string         `json:"entryid"`
	Task    TaskDescriptor `json:"task"`
}

// EventDeadlineExtended is the event data for EventTypeDeadlineExtended.
type EventDeadlineExtended struct {
	Round      uint32    `json:"round"`
	Phase      Phase     `json:"phase"`
	Deadline   time.Time `json:"deadline"`
	Requesters []string  `json:"requesters"`
}

// EventDeadlineApproaching is the event data for
// EventTypeDeadlineApproaching.
type EventDeadlineApproaching struct {
	Round    uint32    `json:"round"`
	Phase    Phase     `json:"phase"`
	Deadline time.Time `json:"deadline"`
}

// EventPostponeRejected is the event data for EventTypePostponeRejected.
type EventPostponeRejected struct {
	Round     uint32 `json:"round"`
	Requester string `json:"requester"`
	Reason    string `json:"reason"`
}

// EventNotifyFailed is the event data for EventTypeNotifyFailed.
type EventNotifyFailed struct {
	Round     uint32 `json:"round"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}
