// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pesnobot/contestd/comms"
	"github.com/pesnobot/contestd/config"
	"github.com/pesnobot/contestd/events"
	"github.com/pesnobot/contestd/throttle"
)

// notifyQueueSize bounds the notifier's event backlog. Bus handlers run on
// the state machine's goroutine with its mutex held, so they must never
// block; an overflowing queue drops the event instead.
const notifyQueueSize = 64

// Notifier turns committed transitions into chat announcements. It
// subscribes to the bus, hands every event off to its own goroutine, and
// sends through a coalescing throttle so a flurry of transitions cannot
// flood the channel. Outstanding announcements are tracked in system state
// and cleaned up when the next phase begins.
type Notifier struct {
	cfg  *config.Config
	sm   *StateMachine
	bus  *events.Manager
	msgr comms.Messenger
	gate *throttle.Throttle

	ch   chan busEvent
	subs []*events.Subscription
	wg   sync.WaitGroup
}

type busEvent struct {
	kind string
	data interface{}
}

// NewNotifier returns a notifier that announces to the configured channel
// and admin chats through msgr.
func NewNotifier(cfg *config.Config, sm *StateMachine, bus *events.Manager, msgr comms.Messenger) *Notifier {
	return &Notifier{
		cfg:  cfg,
		sm:   sm,
		bus:  bus,
		msgr: msgr,
		gate: throttle.New(cfg.NotifyInterval),
		ch:   make(chan busEvent, notifyQueueSize),
	}
}

// RegisterHandlers subscribes the notifier to every event it announces.
func (n *Notifier) RegisterHandlers() {
	kinds := []string{
		EventTypeRoundStarted,
		EventTypeVotingStarted,
		EventTypeNotEnoughEntries,
		EventTypeNotEnoughVotes,
		EventTypeWinnerChosen,
		EventTypeTaskProposed,
		EventTypeTaskApproved,
		EventTypeTaskDeclined,
		EventTypeTaskPollStarted,
		EventTypeTaskPollVoting,
		EventTypeTaskPollDecided,
		EventTypeDeadlineExtended,
		EventTypeDeadlineApproaching,
		EventTypePostponeRejected,
	}
	for _, kind := range kinds {
		kind := kind
		sub := n.bus.Register(kind, func(data interface{}) {
			select {
			case n.ch <- busEvent{kind: kind, data: data}:
			default:
				log.Errorf("Notification queue full, dropped %v",
					kind)
			}
		})
		n.subs = append(n.subs, sub)
	}
}

// Run consumes queued events until ctx is cancelled, then unsubscribes.
func (n *Notifier) Run(ctx context.Context) {
	log.Tracef("Notifier started")
	defer log.Tracef("Notifier stopped")

	for {
		select {
		case <-ctx.Done():
			for _, sub := range n.subs {
				n.bus.Unregister(sub)
			}
			n.wg.Wait()
			return
		case ev := <-n.ch:
			// Every event races the throttle on its own goroutine.
			// A burst of transitions then coalesces the way the
			// gate promises: one announcement goes out now, one
			// after the configured gap, the rest are dropped.
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				n.handle(ctx, ev)
			}()
		}
	}
}

// notification is one rendered outbound message.
type notification struct {
	chatID  int64
	text    string
	pin     bool // pin after sending
	track   bool // record the ref for later cleanup
	cleanup bool // delete previously tracked messages first
}

func (n *Notifier) handle(ctx context.Context, ev busEvent) {
	msg, ok := n.render(ev)
	if !ok {
		return
	}

	ran := n.gate.Attempt(ctx, func() {
		n.dispatch(ctx, msg)
	})
	if !ran {
		log.Debugf("Notification %v coalesced away", ev.kind)
	}
}

// dispatch performs the actual transport calls for one notification. Soft
// transport failures are logged and published as notify-failed events; they
// never propagate.
func (n *Notifier) dispatch(ctx context.Context, msg notification) {
	if msg.cleanup {
		refs, err := n.sm.TakeMessages()
		if err != nil {
			log.Errorf("take tracked messages: %v", err)
		}
		for _, ref := range refs {
			err := n.msgr.DeleteMessage(ctx, ref)
			if err != nil && !comms.IsSoftFailure(err) {
				log.Errorf("delete message %v: %v", ref, err)
			}
		}
	}

	ref, err := n.msgr.SendMessage(ctx, msg.chatID, msg.text)
	if err != nil {
		n.sendFailed(msg.chatID, err)
		return
	}

	if msg.pin {
		err = n.msgr.PinMessage(ctx, *ref)
		if err != nil && !comms.IsSoftFailure(err) {
			log.Errorf("pin message %v: %v", ref, err)
		}
	}
	if msg.track {
		err = n.sm.TrackMessage(*ref)
		if err != nil {
			log.Errorf("track message %v: %v", ref, err)
		}
	}
}

func (n *Notifier) sendFailed(chatID int64, err error) {
	if comms.IsSoftFailure(err) {
		log.Warnf("Notification to %v soft-failed: %v", chatID, err)
	} else {
		log.Errorf("send message to %v: %v", chatID, err)
	}
	st := n.sm.Status()
	n.bus.Emit(EventTypeNotifyFailed, EventNotifyFailed{
		Round:     st.Round,
		Recipient: strconv.FormatInt(chatID, 10),
		Reason:    err.Error(),
	})
}

// render maps an event to an outbound message. The second return is false
// for events that produce no announcement.
func (n *Notifier) render(ev busEvent) (notification, bool) {
	switch e := ev.data.(type) {
	case EventRoundStarted:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Round %v has started!\n\n"+
				"Task: %v\n\nSubmissions close %v.",
				e.Round, e.Task.Text, deadlinePhrase(e.Deadline)),
			pin:     true,
			track:   true,
			cleanup: true,
		}, true

	case EventVotingStarted:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Submissions for round %v are in: "+
				"%v entries.\n\nVoting closes %v.",
				e.Round, e.Entries, deadlinePhrase(e.Deadline)),
			pin:     true,
			track:   true,
			cleanup: true,
		}, true

	case EventNotEnoughEntries:
		noun := "submissions"
		if e.Kind == EntryKindSuggestion {
			noun = "suggestions"
		}
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Round %v only drew %v of the %v "+
				"required %v. The contest is on hold until "+
				"someone kicks it back off.",
				e.Round, e.Got, e.Required, noun),
			track:   true,
			cleanup: true,
		}, true

	case EventNotEnoughVotes:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Round %v voting only drew %v of "+
				"the %v required voters. The contest is on "+
				"hold until someone kicks it back off.",
				e.Round, e.Got, e.Required),
			track:   true,
			cleanup: true,
		}, true

	case EventWinnerChosen:
		text := fmt.Sprintf("Round %v is over. The winner is %v "+
			"with %v points!", e.Round, e.Winner, e.Total)
		if e.TieBroken {
			text += " (tie broken by coin flip)"
		}
		return notification{
			chatID:  n.cfg.ChannelID,
			text:    text,
			pin:     true,
			track:   true,
			cleanup: true,
		}, true

	case EventTaskProposed:
		return notification{
			chatID: n.cfg.AdminChatID,
			text: fmt.Sprintf("Proposed task for round %v (%v):"+
				"\n\n%v\n\nInner circle, approve or decline.",
				e.Round, taskKindPhrase(e.Task.Kind),
				e.Task.Text),
		}, true

	case EventTaskApproved:
		return notification{
			chatID: n.cfg.AdminChatID,
			text: fmt.Sprintf("Task approved. Round %v is "+
				"starting.", e.Round),
		}, true

	case EventTaskDeclined:
		return notification{
			chatID: n.cfg.AdminChatID,
			text: fmt.Sprintf("Task declined. %v has been asked "+
				"for a revision.", e.Winner),
		}, true

	case EventTaskPollStarted:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Task suggestion poll for round %v "+
				"is open! Suggestions close %v.",
				e.Round, deadlinePhrase(e.Deadline)),
			pin:     true,
			track:   true,
			cleanup: true,
		}, true

	case EventTaskPollVoting:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Suggestions for round %v are in: "+
				"%v of them.\n\nPoll voting closes %v.",
				e.Round, e.Suggestions, deadlinePhrase(e.Deadline)),
			pin:     true,
			track:   true,
			cleanup: true,
		}, true

	case EventTaskPollDecided:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("The poll has spoken. Next task:"+
				"\n\n%v", e.Task.Text),
			track:   true,
			cleanup: true,
		}, true

	case EventDeadlineExtended:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("The %v deadline was postponed by "+
				"popular demand (%v supporters). It now "+
				"closes %v.", e.Phase, len(e.Requesters),
				deadlinePhrase(e.Deadline)),
			track: true,
		}, true

	case EventDeadlineApproaching:
		return notification{
			chatID: n.cfg.ChannelID,
			text: fmt.Sprintf("Heads up: the %v deadline closes "+
				"%v.", e.Phase, deadlinePhrase(e.Deadline)),
			track: true,
		}, true

	case EventPostponeRejected:
		chatID, err := chatIDFromUserID(e.Requester)
		if err != nil {
			log.Errorf("postpone rejection for %q: %v",
				e.Requester, err)
			return notification{}, false
		}
		return notification{
			chatID: chatID,
			text: fmt.Sprintf("Your postpone request was "+
				"rejected: %v.", e.Reason),
		}, true
	}

	log.Errorf("No renderer for event %v (%T)", ev.kind, ev.data)
	return notification{}, false
}

// deadlinePhrase renders a deadline the way a human would say it, e.g.
// "2 days from now (2026-01-02 15:04 UTC)".
func deadlinePhrase(deadline time.Time) string {
	return fmt.Sprintf("%v (%v)", humanize.Time(deadline),
		deadline.UTC().Format("2006-01-02 15:04 MST"))
}

func taskKindPhrase(k TaskKind) string {
	switch k {
	case TaskKindManual:
		return "written by the winner"
	case TaskKindRandom:
		return "drawn at random"
	case TaskKindPoll:
		return "picked by poll"
	}
	return "unknown origin"
}

// chatIDFromUserID maps a user id onto a direct-message chat id. User ids
// are the transport's numeric chat ids rendered as strings.
func chatIDFromUserID(userID string) (int64, error) {
	return strconv.ParseInt(userID, 10, 64)
}

// DirectNotifier is the WinnerNotifier used in production: it sends the
// winner a direct message telling them to pick the next task. The send is
// synchronous so that the caller learns about an unreachable winner
// immediately.
type DirectNotifier struct {
	cfg  *config.Config
	msgr comms.Messenger
}

// NewDirectNotifier returns a DirectNotifier sending through msgr.
func NewDirectNotifier(cfg *config.Config, msgr comms.Messenger) *DirectNotifier {
	return &DirectNotifier{
		cfg:  cfg,
		msgr: msgr,
	}
}

// NotifyWinner implements the WinnerNotifier interface.
func (d *DirectNotifier) NotifyWinner(winner string, round uint32) error {
	chatID, err := chatIDFromUserID(winner)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(),
		30*time.Second)
	defer cancel()

	_, err = d.msgr.SendMessage(ctx, chatID, fmt.Sprintf("You won "+
		"round %v! You get to pick the next task: write one, draw a "+
		"random one, or open a suggestion poll. You have %v.",
		round, d.cfg.TaskSelectionDuration))
	return err
}
