// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"
)

// Event is a one-shot signal with explicit reset. A signaled event stays
// signaled until its consumer calls Reset.
//
// The zero value is not usable; create events with NewEvent.
type Event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewEvent returns an unsignaled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Signal marks the event as occurred and wakes every waiter.
// Signaling an already signaled event is a no-op.
func (e *Event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Reset returns the event to the unsignaled state.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports whether the event is currently signaled.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Done returns a channel that is closed once the event is signaled. The
// channel belongs to the current generation: after Reset, callers must call
// Done again to observe the next signal.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until the event is signaled or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
