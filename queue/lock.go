// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// Lock kinds accepted by NewLocker.
const (
	LockMutex = "mutex"
	LockSpin  = "spin"
)

// Locker is a mutual-exclusion lock whose acquisition can be abandoned when
// the caller's context is done.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) error
	// TryLock acquires the lock without blocking and reports success.
	TryLock() bool
	// Unlock releases the lock. Unlocking a free lock panics.
	Unlock()
}

// NewLocker returns a Locker of the given kind. An empty kind selects the
// blocking mutex.
func NewLocker(kind string) (Locker, error) {
	switch kind {
	case "", LockMutex:
		return NewMutex(), nil
	case LockSpin:
		return NewSpinLock(nil), nil
	default:
		return nil, fmt.Errorf("unknown lock kind %q", kind)
	}
}

// Mutex is a blocking lock backed by a single-slot channel.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	default:
	}

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("queue: unlock of unlocked mutex")
	}
}

const (
	spinFree   uint32 = 0
	spinLocked uint32 = 1

	spinSleep = 50 * time.Microsecond
)

// SpinLock is a busy-waiting lock. Waiters spin with an adaptive budget and
// fall back to short sleeps once the budget is exhausted.
type SpinLock struct {
	state atomic.Uint32
	wait  *WaitStrategy
}

// NewSpinLock returns an unlocked SpinLock. A nil strategy selects
// NewWaitStrategy defaults.
func NewSpinLock(ws *WaitStrategy) *SpinLock {
	if ws == nil {
		ws = NewWaitStrategy()
	}
	return &SpinLock{wait: ws}
}

func (l *SpinLock) Lock(ctx context.Context) error {
	for {
		if l.TryLock() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		l.wait.Wait(l.free, func() { time.Sleep(spinSleep) })
	}
}

func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(spinFree, spinLocked)
}

func (l *SpinLock) Unlock() {
	if !l.state.CompareAndSwap(spinLocked, spinFree) {
		panic("queue: unlock of unlocked spin lock")
	}
}

func (l *SpinLock) free() bool {
	return l.state.Load() == spinFree
}

// WaitStrategy implements an adaptive spin-wait: successful spins grow the
// budget, failed spins shrink it.
type WaitStrategy struct {
	CurrentLimit int32
	MinSpin      int32
	MaxSpin      int32
	IncStep      int32
	DecStep      int32
}

// NewWaitStrategy creates a WaitStrategy with default values.
func NewWaitStrategy() *WaitStrategy {
	return &WaitStrategy{
		CurrentLimit: 2000,
		MinSpin:      100,
		MaxSpin:      20000,
		IncStep:      200,
		DecStep:      100,
	}
}

// Wait spins until condition holds or the budget runs out, in which case it
// runs sleepAction once and checks again. It reports whether the condition
// was observed.
func (w *WaitStrategy) Wait(condition func() bool, sleepAction func()) bool {
	limit := atomic.LoadInt32(&w.CurrentLimit)

	for i := int32(0); i < limit; i++ {
		if condition() {
			w.adjust(limit, w.IncStep)
			return true
		}
		// Yield every 64 iterations.
		if i&0x3F == 0 {
			runtime.Gosched()
		}
	}

	w.adjust(limit, -w.DecStep)
	sleepAction()
	return condition()
}

func (w *WaitStrategy) adjust(limit, step int32) {
	next := limit + step
	if next > w.MaxSpin {
		next = w.MaxSpin
	}
	if next < w.MinSpin {
		next = w.MinSpin
	}
	if next != limit {
		atomic.StoreInt32(&w.CurrentLimit, next)
	}
}
