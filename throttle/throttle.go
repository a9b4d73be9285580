// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package throttle provides a coalescing rate gate for outbound bursts. It
// is not a fair queue: under sustained pressure it guarantees that something
// always eventually runs and that at most two candidates are ever in flight,
// nothing more.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Throttle admits at most one running and one coalesced-pending action per
// configured interval. One instance guards one rate-limited target.
type Throttle struct {
	interval time.Duration

	mtx     sync.Mutex
	tickets int
	lastRun time.Time
}

// New returns a Throttle that allows an action to execute at most once per
// interval.
func New(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
	}
}

// Attempt runs fn subject to the admission policy and reports whether fn ran
// or was scheduled. The first concurrent caller runs immediately. The second
// sleeps out the remainder of the interval since the last execution, then
// runs; this caller carries the most recent request, which is the one the
// gate guarantees to deliver. Any caller beyond the second is dropped.
//
// The pending caller's delay honors ctx; a cancelled attempt releases its
// ticket and returns false, so cancellation can never starve the gate.
func (t *Throttle) Attempt(ctx context.Context, fn func()) bool {
	// Ticket assignment and the last-run timestamp share the mutex: the
	// first ticket records its run before the lock is released, so a
	// second ticket always measures its wait from that recording and the
	// two can never both run immediately off a stale timestamp.
	t.mtx.Lock()
	if t.tickets >= 2 {
		// Bounded to one running + one pending. Everyone else is
		// dropped rather than queued.
		t.mtx.Unlock()
		return false
	}
	t.tickets++
	first := t.tickets == 1

	var wait time.Duration
	if first {
		t.lastRun = time.Now()
	} else {
		// Second ticket waits out the interval, measured from the
		// last recorded execution, or a full interval if nothing has
		// run yet.
		wait = t.interval
		if !t.lastRun.IsZero() {
			wait = t.interval - time.Since(t.lastRun)
		}
	}
	t.mtx.Unlock()

	defer func() {
		t.mtx.Lock()
		t.tickets--
		t.mtx.Unlock()
	}()

	if !first {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}
		t.mtx.Lock()
		t.lastRun = time.Now()
		t.mtx.Unlock()
	}

	fn()
	return true
}
