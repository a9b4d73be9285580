// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package throttle

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAttemptSingle(t *testing.T) {
	tr := New(time.Second)

	var ran bool
	ok := tr.Attempt(context.Background(), func() {
		ran = true
	})
	if !ok || !ran {
		t.Fatalf("single attempt: ok=%v ran=%v, want true/true", ok, ran)
	}
}

func TestAttemptCoalesces(t *testing.T) {
	const interval = 200 * time.Millisecond
	tr := New(interval)

	var (
		mtx     sync.Mutex
		runs    []time.Time
		started = make(chan struct{})
		release = make(chan struct{})
	)
	record := func() {
		mtx.Lock()
		runs = append(runs, time.Now())
		mtx.Unlock()
	}

	// First caller runs immediately and blocks so the other two tickets
	// are taken while it is still in flight.
	var wg sync.WaitGroup
	results := make([]bool, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = tr.Attempt(context.Background(), func() {
			record()
			close(started)
			<-release
		})
	}()
	<-started

	// Second caller becomes the coalesced-pending ticket.
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = tr.Attempt(context.Background(), record)
	}()

	// Give the second caller time to take its ticket, then the third
	// must be dropped synchronously.
	time.Sleep(20 * time.Millisecond)
	results[2] = tr.Attempt(context.Background(), record)
	if results[2] {
		t.Error("third concurrent attempt was admitted, want dropped")
	}

	close(release)
	wg.Wait()

	if !results[0] {
		t.Error("first attempt dropped, want admitted")
	}
	if !results[1] {
		t.Error("second attempt dropped, want admitted")
	}

	mtx.Lock()
	defer mtx.Unlock()
	if len(runs) != 2 {
		t.Fatalf("got %v executions, want 2", len(runs))
	}
	if gap := runs[1].Sub(runs[0]); gap < interval-20*time.Millisecond {
		t.Errorf("second execution after %v, want >= ~%v", gap, interval)
	}
}

func TestAttemptStaleTimestampStillSpaces(t *testing.T) {
	const interval = 200 * time.Millisecond
	tr := New(interval)

	// Age the recorded execution well past the interval.
	if !tr.Attempt(context.Background(), func() {}) {
		t.Fatal("priming attempt dropped")
	}
	time.Sleep(interval + 50*time.Millisecond)

	var (
		mtx     sync.Mutex
		runs    []time.Time
		started = make(chan struct{})
		release = make(chan struct{})
	)
	record := func() {
		mtx.Lock()
		runs = append(runs, time.Now())
		mtx.Unlock()
	}

	// Two concurrent callers arrive with the stale timestamp. The first
	// ticket's admission refreshes it, so the second must still wait out
	// a full interval rather than riding the stale reading straight
	// through.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if !tr.Attempt(context.Background(), func() {
			record()
			close(started)
			<-release
		}) {
			t.Error("first attempt dropped")
		}
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		if !tr.Attempt(context.Background(), record) {
			t.Error("second attempt dropped")
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mtx.Lock()
	defer mtx.Unlock()
	if len(runs) != 2 {
		t.Fatalf("got %v executions, want 2", len(runs))
	}
	if gap := runs[1].Sub(runs[0]); gap < interval-20*time.Millisecond {
		t.Errorf("executions %v apart, want >= ~%v", gap, interval)
	}
}

func TestAttemptCancelReleasesTicket(t *testing.T) {
	tr := New(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		tr.Attempt(context.Background(), func() {
			close(started)
			<-release
		})
		close(done)
	}()
	<-started

	// Second ticket waits a minute; cancel it instead.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if tr.Attempt(ctx, func() {}) {
		t.Error("cancelled attempt reported success")
	}

	close(release)
	<-done

	// The cancelled ticket must have been released: a fresh caller is
	// ticket one again and runs immediately.
	var ran bool
	start := time.Now()
	if !tr.Attempt(context.Background(), func() { ran = true }) {
		t.Fatal("attempt after cancellation was dropped")
	}
	if !ran {
		t.Fatal("action did not run")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("first-ticket caller waited %v, want immediate", elapsed)
	}
}
