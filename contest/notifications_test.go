// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pesnobot/contestd/comms"
	"github.com/pesnobot/contestd/comms/mock"
)

func newTestNotifier(t *testing.T, msgr comms.Messenger) (*Notifier, *testMachine) {
	t.Helper()

	tm := newTestMachine(t)
	tm.cfg.ChannelID = 100
	tm.cfg.AdminChatID = 200
	return NewNotifier(tm.cfg, tm.sm, tm.bus, msgr), tm
}

func TestRenderTargetsAndTexts(t *testing.T) {
	n, _ := newTestNotifier(t, &mock.MessengerMock{})
	deadline := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		data       interface{}
		wantChat   int64
		wantSubstr string
		wantPin    bool
	}{{
		name: "round started",
		data: EventRoundStarted{
			Round:    1,
			Task:     TaskDescriptor{Kind: TaskKindManual, Text: "sing"},
			Deadline: deadline,
		},
		wantChat:   100,
		wantSubstr: "sing",
		wantPin:    true,
	}, {
		name: "voting started",
		data: EventVotingStarted{
			Round:    1,
			Deadline: deadline,
			Entries:  4,
		},
		wantChat:   100,
		wantSubstr: "4 entries",
		wantPin:    true,
	}, {
		name: "winner chosen with tie",
		data: EventWinnerChosen{
			Round:     2,
			Winner:    "alice",
			Total:     9,
			TieBroken: true,
		},
		wantChat:   100,
		wantSubstr: "tie broken",
		wantPin:    true,
	}, {
		name: "task proposed goes to admins",
		data: EventTaskProposed{
			Round: 2,
			Task:  TaskDescriptor{Kind: TaskKindRandom, Text: "x"},
		},
		wantChat:   200,
		wantSubstr: "drawn at random",
	}, {
		name: "deadline approaching",
		data: EventDeadlineApproaching{
			Round:    1,
			Phase:    PhaseVoting,
			Deadline: deadline,
		},
		wantChat:   100,
		wantSubstr: "Heads up",
	}, {
		name: "postpone rejection is a direct message",
		data: EventPostponeRejected{
			Round:     1,
			Requester: "12345",
			Reason:    "insufficient balance",
		},
		wantChat:   12345,
		wantSubstr: "insufficient balance",
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := n.render(busEvent{data: tc.data})
			if !ok {
				t.Fatal("render declined to produce a message")
			}
			if msg.chatID != tc.wantChat {
				t.Errorf("chat: got %v, want %v", msg.chatID,
					tc.wantChat)
			}
			if !strings.Contains(msg.text, tc.wantSubstr) {
				t.Errorf("text %q missing %q", msg.text,
					tc.wantSubstr)
			}
			if msg.pin != tc.wantPin {
				t.Errorf("pin: got %v, want %v", msg.pin,
					tc.wantPin)
			}
		})
	}
}

func TestRenderBadRequesterID(t *testing.T) {
	n, _ := newTestNotifier(t, &mock.MessengerMock{})

	_, ok := n.render(busEvent{data: EventPostponeRejected{
		Requester: "not-a-chat-id",
	}})
	if ok {
		t.Error("rendered a message for an unparseable requester")
	}
}

func TestDispatchTracksAndCleansUp(t *testing.T) {
	var sent, deleted, pinned []comms.MessageRef
	var nextID int64
	msgr := &mock.MessengerMock{
		SendMessageFunc: func(ctx context.Context, chatID int64, text string) (*comms.MessageRef, error) {
			nextID++
			ref := comms.MessageRef{ChatID: chatID, MessageID: nextID}
			sent = append(sent, ref)
			return &ref, nil
		},
		DeleteMessageFunc: func(ctx context.Context, ref comms.MessageRef) error {
			deleted = append(deleted, ref)
			return nil
		},
		PinMessageFunc: func(ctx context.Context, ref comms.MessageRef) error {
			pinned = append(pinned, ref)
			return nil
		},
	}
	n, tm := newTestNotifier(t, msgr)

	// First announcement: nothing to clean up yet.
	n.dispatch(context.Background(), notification{
		chatID:  100,
		text:    "round one",
		pin:     true,
		track:   true,
		cleanup: true,
	})
	if len(sent) != 1 || len(deleted) != 0 || len(pinned) != 1 {
		t.Fatalf("first dispatch: sent %v deleted %v pinned %v",
			len(sent), len(deleted), len(pinned))
	}

	// Second announcement deletes the tracked first one.
	n.dispatch(context.Background(), notification{
		chatID:  100,
		text:    "voting open",
		track:   true,
		cleanup: true,
	})
	if len(deleted) != 1 || deleted[0] != sent[0] {
		t.Fatalf("cleanup: deleted %+v, want %+v", deleted, sent[:1])
	}

	// The second message is now the only tracked one.
	refs, err := tm.sm.TakeMessages()
	if err != nil {
		t.Fatalf("TakeMessages: %v", err)
	}
	if len(refs) != 1 || refs[0] != sent[1] {
		t.Errorf("tracked: %+v", refs)
	}
}

func TestDispatchSoftFailureEmitsEvent(t *testing.T) {
	msgr := &mock.MessengerMock{
		SendMessageFunc: func(ctx context.Context, chatID int64, text string) (*comms.MessageRef, error) {
			return nil, comms.ErrRecipientBlocked
		},
	}
	n, tm := newTestNotifier(t, msgr)
	failed := tm.capture(EventTypeNotifyFailed)

	n.dispatch(context.Background(), notification{
		chatID: 12345,
		text:   "hello",
		track:  true,
	})

	if len(*failed) != 1 {
		t.Fatalf("notify failed events: got %v, want 1", len(*failed))
	}
	ev := (*failed)[0].(EventNotifyFailed)
	if ev.Recipient != "12345" {
		t.Errorf("recipient: got %v", ev.Recipient)
	}

	// A failed send tracks nothing.
	refs, err := tm.sm.TakeMessages()
	if err != nil {
		t.Fatalf("TakeMessages: %v", err)
	}
	if refs != nil {
		t.Errorf("tracked after failure: %+v", refs)
	}
}

func TestNotifierThrottlesBursts(t *testing.T) {
	const interval = 300 * time.Millisecond

	// Unbuffered so a send blocks until the test receives it, keeping the
	// first announcement in flight while the rest of the burst races the
	// gate.
	sent := make(chan time.Time)
	msgr := &mock.MessengerMock{
		SendMessageFunc: func(ctx context.Context, chatID int64, text string) (*comms.MessageRef, error) {
			sent <- time.Now()
			return &comms.MessageRef{
				ChatID:    chatID,
				MessageID: 1,
			}, nil
		},
	}

	tm := newTestMachine(t)
	tm.cfg.ChannelID = 100
	tm.cfg.NotifyInterval = interval
	n := NewNotifier(tm.cfg, tm.sm, tm.bus, msgr)
	n.RegisterHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	// A burst of three renderable events back-to-back.
	for i := 0; i < 3; i++ {
		tm.bus.Emit(EventTypeDeadlineApproaching,
			EventDeadlineApproaching{
				Round:    1,
				Phase:    PhaseContest,
				Deadline: time.Now().Add(time.Hour),
			})
	}

	// Let the whole burst take its tickets before releasing the first
	// send.
	time.Sleep(50 * time.Millisecond)

	var first, second time.Time
	select {
	case first = <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("first announcement never sent")
	}
	select {
	case second = <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("second announcement never sent")
	}
	if gap := second.Sub(first); gap < interval-50*time.Millisecond {
		t.Errorf("announcements %v apart, want >= ~%v", gap, interval)
	}

	// The third is dropped, not queued.
	select {
	case <-sent:
		t.Error("third announcement sent, want dropped")
	case <-time.After(2 * interval):
	}

	cancel()
	<-done
}

func TestNotifierEndToEnd(t *testing.T) {
	sent := make(chan string, 8)
	msgr := &mock.MessengerMock{
		SendMessageFunc: func(ctx context.Context, chatID int64, text string) (*comms.MessageRef, error) {
			sent <- text
			return &comms.MessageRef{
				ChatID:    chatID,
				MessageID: 1,
			}, nil
		},
	}
	n, tm := newTestNotifier(t, msgr)
	n.RegisterHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	tm.startRound(t)

	// The bus handler only queues; the worker sends.
	select {
	case text := <-sent:
		if !strings.Contains(text, "Round 1 has started") {
			t.Errorf("announcement: %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("announcement never sent")
	}
}
