// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package comms defines the chat-transport collaborator that the contest
// engine sends notifications through. The engine treats the transport as a
// reliable-enough single-call service; implementing it (and its retries,
// session handling, and API plumbing) is not this repository's concern.
package comms

import (
	"context"
	"errors"
)

var (
	// ErrRecipientBlocked is returned when the recipient has blocked the
	// sender or deleted their account. This is a soft failure: callers
	// log it, publish a notification-failure event, and carry on.
	ErrRecipientBlocked = errors.New("recipient blocked sender")

	// ErrMessageNotFound is returned when an edit, delete, or pin refers
	// to a message that no longer exists. Also a soft failure.
	ErrMessageNotFound = errors.New("message not found")
)

// MessageRef identifies a message that was previously sent through the
// transport so it can be edited, deleted, or pinned later.
type MessageRef struct {
	ChatID    int64 `json:"chatid"`
	MessageID int64 `json:"messageid"`
}

// Messenger is the outbound chat transport.
type Messenger interface {
	// SendMessage sends text to a chat and returns a reference to the
	// created message.
	SendMessage(ctx context.Context, chatID int64, text string) (*MessageRef, error)

	// EditMessage replaces the text of an existing message.
	EditMessage(ctx context.Context, ref MessageRef, text string) error

	// DeleteMessage removes an existing message.
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// PinMessage pins an existing message in its chat.
	PinMessage(ctx context.Context, ref MessageRef) error

	// AnswerCallback acknowledges an inline-button callback.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// IsSoftFailure returns whether the provided transport error is one the
// engine must tolerate without aborting the surrounding transition.
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrRecipientBlocked) ||
		errors.Is(err, ErrMessageNotFound)
}
