// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package events

import (
	"sync"
)

// Handler is invoked with the event data that was emitted. Handlers are run
// synchronously on the emitter's goroutine, outside of the manager lock, so a
// handler is allowed to register and unregister listeners reentrantly.
type Handler func(data interface{})

// Subscription is the handle that Register returns. It is consumed by
// Unregister to remove the listener. Callers are expected to release their
// subscriptions explicitly at shutdown; there is no finalizer magic.
type Subscription struct {
	event string
	id    uint64
}

type listener struct {
	id      uint64
	handler Handler
}

// Manager manages event listeners for different event types.
type Manager struct {
	sync.Mutex
	nextID    uint64
	listeners map[string][]listener
}

// Register registers a handler to listen for the provided event type and
// returns the subscription handle that removes it again.
func (e *Manager) Register(event string, handler Handler) *Subscription {
	e.Lock()
	defer e.Unlock()

	e.nextID++
	e.listeners[event] = append(e.listeners[event],
		listener{
			id:      e.nextID,
			handler: handler,
		})

	return &Subscription{
		event: event,
		id:    e.nextID,
	}
}

// Unregister removes the listener that the subscription refers to. It is a
// no-op if the listener was already removed.
func (e *Manager) Unregister(s *Subscription) {
	if s == nil {
		return
	}

	e.Lock()
	defer e.Unlock()

	ls := e.listeners[s.event]
	for i, l := range ls {
		if l.id == s.id {
			e.listeners[s.event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit emits an event by invoking all handlers that have been registered to
// listen for the event, in registration order.
//
// The listener list is snapshotted under the lock and the handlers are
// invoked outside of it. A handler that registers or unregisters listeners
// does not corrupt the iteration; an unregister that races an in-progress
// Emit may still observe one last delivery.
//
// Delivery is fire-and-forget. Nothing is persisted and nothing is retried.
func (e *Manager) Emit(event string, data interface{}) {
	e.Lock()
	snapshot := make([]listener, len(e.listeners[event]))
	copy(snapshot, e.listeners[event])
	e.Unlock()

	for _, l := range snapshot {
		l.handler(data)
	}
}

// Reset removes all listeners except those registered for the provided event
// types.
func (e *Manager) Reset(except ...string) {
	keep := make(map[string]struct{}, len(except))
	for _, event := range except {
		keep[event] = struct{}{}
	}

	e.Lock()
	defer e.Unlock()

	for event := range e.listeners {
		if _, ok := keep[event]; !ok {
			delete(e.listeners, event)
		}
	}
}

// NewManager returns a new Manager context.
func NewManager() *Manager {
	return &Manager{
		listeners: make(map[string][]listener),
	}
}
