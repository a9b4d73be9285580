// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mock

import (
	"context"

	"github.com/pesnobot/contestd/comms"
)

// Ensure, that MessengerMock does implement Messenger.
var _ comms.Messenger = &MessengerMock{}

// MessengerMock is a mock implementation of Messenger.
type MessengerMock struct {
	// SendMessageFunc mocks the SendMessage method.
	SendMessageFunc func(ctx context.Context, chatID int64, text string) (*comms.MessageRef, error)

	// EditMessageFunc mocks the EditMessage method.
	EditMessageFunc func(ctx context.Context, ref comms.MessageRef, text string) error

	// DeleteMessageFunc mocks the DeleteMessage method.
	DeleteMessageFunc func(ctx context.Context, ref comms.MessageRef) error

	// PinMessageFunc mocks the PinMessage method.
	PinMessageFunc func(ctx context.Context, ref comms.MessageRef) error

	// AnswerCallbackFunc mocks the AnswerCallback method.
	AnswerCallbackFunc func(ctx context.Context, callbackID, text string) error
}

// SendMessage calls SendMessageFunc.
func (mock *MessengerMock) SendMessage(ctx context.Context, chatID int64, text string) (*comms.MessageRef, error) {
	if mock.SendMessageFunc == nil {
		return &comms.MessageRef{ChatID: chatID, MessageID: 1}, nil
	}
	return mock.SendMessageFunc(ctx, chatID, text)
}

// EditMessage calls EditMessageFunc.
func (mock *MessengerMock) EditMessage(ctx context.Context, ref comms.MessageRef, text string) error {
	if mock.EditMessageFunc == nil {
		return nil
	}
	return mock.EditMessageFunc(ctx, ref, text)
}

// DeleteMessage calls DeleteMessageFunc.
func (mock *MessengerMock) DeleteMessage(ctx context.Context, ref comms.MessageRef) error {
	if mock.DeleteMessageFunc == nil {
		return nil
	}
	return mock.DeleteMessageFunc(ctx, ref)
}

// PinMessage calls PinMessageFunc.
func (mock *MessengerMock) PinMessage(ctx context.Context, ref comms.MessageRef) error {
	if mock.PinMessageFunc == nil {
		return nil
	}
	return mock.PinMessageFunc(ctx, ref)
}

// AnswerCallback calls AnswerCallbackFunc.
func (mock *MessengerMock) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if mock.AnswerCallbackFunc == nil {
		return nil
	}
	return mock.AnswerCallbackFunc(ctx, callbackID, text)
}
