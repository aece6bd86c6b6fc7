// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultMaxMessageSize is the payload cap used when Options leaves it unset.
const DefaultMaxMessageSize = 256

// Options configures a Registry.
type Options struct {
	// MaxMessageSize caps every payload, in bytes.
	MaxMessageSize int
	// MaxQueues caps the number of live queues. Zero means unlimited.
	MaxQueues int
	// Lock selects the locking primitive: LockMutex or LockSpin.
	Lock string
}

// Registry maps queue identifiers to queues. Map mutations are serialized
// by a registry-wide lock that is never held while blocking on a queue.
type Registry struct {
	opts Options

	mu     sync.RWMutex
	queues map[string]*Queue
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.MaxMessageSize < 0 {
		return nil, fmt.Errorf("max message size cannot be negative")
	}
	if opts.MaxQueues < 0 {
		return nil, fmt.Errorf("max queues cannot be negative")
	}
	if _, err := NewLocker(opts.Lock); err != nil {
		return nil, err
	}

	return &Registry{
		opts:   opts,
		queues: make(map[string]*Queue),
	}, nil
}

// MaxMessageSize returns the payload cap applied to every queue.
func (r *Registry) MaxMessageSize() int {
	return r.opts.MaxMessageSize
}

// Create returns the queue registered under id, creating it if absent.
// created is false when the queue already existed.
func (r *Registry) Create(id string) (q *Queue, created bool, err error) {
	if id == "" {
		return nil, false, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, fmt.Errorf("%w: registry closed", ErrAllocationFailed)
	}
	if q, ok := r.queues[id]; ok {
		return q, false, nil
	}
	if r.opts.MaxQueues > 0 && len(r.queues) >= r.opts.MaxQueues {
		return nil, false, fmt.Errorf("%w: limit of %d queues reached", ErrAllocationFailed, r.opts.MaxQueues)
	}

	q, err = newQueue(id, r.opts.MaxMessageSize, r.opts.Lock)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	r.queues[id] = q
	return q, true, nil
}

// Find returns the queue registered under id.
func (r *Registry) Find(id string) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return q, nil
}

// Remove unregisters id and closes its queue. Unless force is set, Remove
// fails with ErrBusy while a caller is parked on the queue. With force, parked
// callers are woken with ErrClosed.
func (r *Registry) Remove(id string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[id]
	if !ok {
		return ErrNotFound
	}

	if force {
		q.Close()
	} else if !q.closeIfIdle() {
		return ErrBusy
	}

	delete(r.queues, id)
	return nil
}

// List returns a snapshot of every queue, sorted by identifier.
func (r *Registry) List() []Info {
	r.mu.RLock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	infos := make([]Info, len(queues))
	for i, q := range queues {
		infos[i] = q.Info()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Len returns the number of registered queues.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// Close closes every queue and rejects further creates. Parked callers
// return ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for id, q := range r.queues {
		q.Close()
		delete(r.queues, id)
	}
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
