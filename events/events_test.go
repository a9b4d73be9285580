// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package events

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEmitOrderAndTypeIsolation(t *testing.T) {
	m := NewManager()

	var got []string
	m.Register("a", func(data interface{}) {
		got = append(got, "first:"+data.(string))
	})
	m.Register("a", func(data interface{}) {
		got = append(got, "second:"+data.(string))
	})
	m.Register("b", func(data interface{}) {
		t.Errorf("listener for event b received %v", data)
	})

	m.Emit("a", "x")

	want := []string{"first:x", "second:x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestEmitUnregisteredEvent(t *testing.T) {
	m := NewManager()

	// Must not panic or deliver anything.
	m.Emit("nobody-listens", struct{}{})
}

func TestUnregister(t *testing.T) {
	m := NewManager()

	var count int
	sub := m.Register("a", func(interface{}) {
		count++
	})

	m.Emit("a", nil)
	m.Unregister(sub)
	m.Emit("a", nil)

	if count != 1 {
		t.Errorf("got %v deliveries, want 1", count)
	}

	// Double unregister is a no-op.
	m.Unregister(sub)
	m.Unregister(nil)
}

func TestReentrantUnregisterDuringEmit(t *testing.T) {
	m := NewManager()

	var got []string
	var sub2 *Subscription
	m.Register("a", func(interface{}) {
		got = append(got, "first")
		// Removing another listener mid-emit must not corrupt the
		// iteration. The snapshot for this emit was already taken, so
		// the second listener still fires once.
		m.Unregister(sub2)
	})
	sub2 = m.Register("a", func(interface{}) {
		got = append(got, "second")
	})

	m.Emit("a", nil)
	m.Emit("a", nil)

	want := []string{"first", "second", "first"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestReentrantRegisterDuringEmit(t *testing.T) {
	m := NewManager()

	var count int
	m.Register("a", func(interface{}) {
		count++
		if count == 1 {
			m.Register("a", func(interface{}) {
				count += 100
			})
		}
	})

	m.Emit("a", nil) // New listener not in this emit's snapshot
	if count != 1 {
		t.Fatalf("got count %v, want 1", count)
	}

	m.Emit("a", nil) // Both fire now
	if count != 102 {
		t.Fatalf("got count %v, want 102", count)
	}
}

func TestReset(t *testing.T) {
	m := NewManager()

	var aCount, bCount int
	m.Register("a", func(interface{}) { aCount++ })
	m.Register("b", func(interface{}) { bCount++ })

	m.Reset("b")

	m.Emit("a", nil)
	m.Emit("b", nil)

	if aCount != 0 {
		t.Errorf("listener for a survived reset")
	}
	if bCount != 1 {
		t.Errorf("excepted listener for b was removed")
	}
}
