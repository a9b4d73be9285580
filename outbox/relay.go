// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package outbox

import (
	"context"
	"time"
)

const (
	// relayBatch is the maximum number of entries fetched per poll.
	relayBatch = 50

	// relayAttempts bounds delivery attempts per entry per poll cycle.
	// Delivery is idempotent on the consumer side (entries carry stable
	// ids), so retrying here is safe.
	relayAttempts = 3

	// relayRetryGap is the sleep between delivery attempts for the same
	// entry.
	relayRetryGap = time.Second
)

// Syncer delivers an outbox entry to the external system. Sync must only
// return nil once the remote system has acknowledged the entry.
type Syncer interface {
	Sync(ctx context.Context, e Entry) error
}

// SyncerFunc adapts a function to the Syncer interface.
type SyncerFunc func(ctx context.Context, e Entry) error

// Sync satisfies the Syncer interface.
func (f SyncerFunc) Sync(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// Relay drives at-least-once delivery of pending outbox entries: poll,
// deliver, then mark synced only after the remote acknowledgment. A crash
// between delivery and MarkSynced redelivers the entry on the next cycle,
// which the consumer deduplicates by entry id.
type Relay struct {
	outbox   *Outbox
	syncer   Syncer
	interval time.Duration
}

// NewRelay returns a Relay that polls the outbox at the given interval.
func NewRelay(o *Outbox, s Syncer, interval time.Duration) *Relay {
	return &Relay{
		outbox:   o,
		syncer:   s,
		interval: interval,
	}
}

// Run polls until ctx is cancelled. Store and delivery failures are logged
// and retried on the next cycle; they never stop the loop.
func (r *Relay) Run(ctx context.Context) {
	log.Infof("Outbox relay started, polling every %v", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("Outbox relay shutdown")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Relay) cycle(ctx context.Context) {
	pending, err := r.outbox.PollPending(relayBatch)
	if err != nil {
		log.Errorf("Outbox relay poll: %v", err)
		return
	}

	for _, e := range pending {
		if ctx.Err() != nil {
			return
		}
		err := r.deliver(ctx, e)
		if err != nil {
			// Leave the entry pending; it is picked up again on
			// the next cycle.
			log.Errorf("Outbox relay deliver %v: %v", e.ID, err)
			continue
		}
		err = r.outbox.MarkSynced(e.ID, time.Now())
		switch {
		case err == ErrAlreadySynced:
			// Another delivery beat us to it. Fine.
		case err != nil:
			log.Errorf("Outbox relay mark synced %v: %v",
				e.ID, err)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, e Entry) error {
	var err error
	for attempt := 0; attempt < relayAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(relayRetryGap):
			}
		}
		err = r.syncer.Sync(ctx, e)
		if err == nil {
			return nil
		}
	}
	return err
}
