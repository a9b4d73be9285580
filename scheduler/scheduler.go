// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scheduler drives the wall-clock side of the contest cycle. It
// periodically asks the state machine to check its deadline, and emits a
// one-shot heads-up event when an armed deadline enters the preview window.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"github.com/pesnobot/contestd/config"
	"github.com/pesnobot/contestd/contest"
	"github.com/pesnobot/contestd/events"
)

// Scheduler polls the state machine on a fixed period. Deadlines fire on
// the first poll at or after their instant; user-facing timing therefore has
// poll-interval granularity, which is the intended behavior.
type Scheduler struct {
	cfg  *config.Config
	sm   *contest.StateMachine
	bus  *events.Manager
	cron *cron.Cron

	// polling serializes ticks. cron runs every tick on a fresh
	// goroutine and a transition can block longer than the poll period,
	// so a tick that finds the previous one still running skips instead
	// of overlapping it. previewed is only touched by the tick holding
	// the gate.
	polling atomic.Bool

	// previewed remembers which armed deadline already got its
	// approaching notification. The key changes whenever the phase,
	// round, or deadline instant changes, so an extension re-arms the
	// notification and a poll retry does not repeat it.
	previewed string
}

// New returns a stopped scheduler. Call Run to start polling.
func New(cfg *config.Config, sm *contest.StateMachine, bus *events.Manager) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		sm:   sm,
		bus:  bus,
		cron: cron.New(),
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Infof("Deadline poll every %v, preview window %v",
		s.cfg.PollInterval, s.cfg.PreviewWindow)

	err := s.cron.AddFunc(fmt.Sprintf("@every %v", s.cfg.PollInterval),
		func() {
			s.poll(time.Now())
		})
	if err != nil {
		return err
	}
	s.cron.Start()
	defer s.cron.Stop()

	<-ctx.Done()
	return nil
}

// poll runs one scheduler tick.
func (s *Scheduler) poll(now time.Time) {
	if !s.polling.CompareAndSwap(false, true) {
		log.Debugf("Previous poll still running, skipping tick")
		return
	}
	defer s.polling.Store(false)

	s.maybePreview(now)

	err := s.sm.CheckDeadline(now)
	if err != nil {
		// Next tick retries; the transition table is idempotent for
		// an unchanged state.
		log.Errorf("check deadline: %v", err)
	}
}

// maybePreview emits the deadline-approaching event the first time the
// active deadline is within the preview window.
func (s *Scheduler) maybePreview(now time.Time) {
	st := s.sm.Status()

	var deadline *time.Time
	switch {
	case st.Deadline != nil:
		deadline = st.Deadline
	case st.TaskDeadline != nil:
		deadline = st.TaskDeadline
	default:
		s.previewed = ""
		return
	}

	remaining := deadline.Sub(now)
	if remaining <= 0 || remaining > s.cfg.PreviewWindow {
		return
	}

	key := fmt.Sprintf("%v:%v:%v", st.Phase, st.Round, deadline.Unix())
	if key == s.previewed {
		return
	}
	s.previewed = key

	log.Debugf("Deadline %v is %v away, previewing", deadline, remaining)

	s.bus.Emit(contest.EventTypeDeadlineApproaching,
		contest.EventDeadlineApproaching{
			Round:    st.Round,
			Phase:    st.Phase,
			Deadline: *deadline,
		})
}
