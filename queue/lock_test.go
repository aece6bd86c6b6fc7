// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocker(t *testing.T) {
	tests := []struct {
		kind    string
		want    any
		wantErr bool
	}{
		{kind: "", want: &Mutex{}},
		{kind: LockMutex, want: &Mutex{}},
		{kind: LockSpin, want: &SpinLock{}},
		{kind: "futex", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			l, err := NewLocker(tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, l)
		})
	}
}

func TestLockers(t *testing.T) {
	lockers := map[string]func() Locker{
		LockMutex: func() Locker { return NewMutex() },
		LockSpin:  func() Locker { return NewSpinLock(nil) },
	}

	for name, newLocker := range lockers {
		t.Run(name+"/try", func(t *testing.T) {
			l := newLocker()
			require.True(t, l.TryLock())
			assert.False(t, l.TryLock())
			l.Unlock()
			assert.True(t, l.TryLock())
			l.Unlock()
		})

		t.Run(name+"/cancel", func(t *testing.T) {
			l := newLocker()
			require.NoError(t, l.Lock(context.Background()))
			defer l.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			assert.ErrorIs(t, l.Lock(ctx), context.DeadlineExceeded)
		})

		t.Run(name+"/handoff", func(t *testing.T) {
			l := newLocker()
			require.NoError(t, l.Lock(context.Background()))

			acquired := make(chan struct{})
			go func() {
				if err := l.Lock(context.Background()); err == nil {
					close(acquired)
				}
			}()

			select {
			case <-acquired:
				t.Fatal("lock acquired while held")
			case <-time.After(20 * time.Millisecond):
			}

			l.Unlock()
			select {
			case <-acquired:
			case <-time.After(time.Second):
				t.Fatal("waiter did not acquire released lock")
			}
			l.Unlock()
		})

		t.Run(name+"/exclusion", func(t *testing.T) {
			l := newLocker()
			var wg sync.WaitGroup
			counter := 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 200; j++ {
						if err := l.Lock(context.Background()); err != nil {
							return
						}
						counter++
						l.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 8*200, counter)
		})

		t.Run(name+"/unlock free panics", func(t *testing.T) {
			l := newLocker()
			assert.Panics(t, l.Unlock)
		})
	}
}

func TestWaitStrategyAdjust(t *testing.T) {
	ws := &WaitStrategy{CurrentLimit: 100, MinSpin: 100, MaxSpin: 300, IncStep: 150, DecStep: 50}

	assert.True(t, ws.Wait(func() bool { return true }, func() {}))
	assert.Equal(t, int32(250), ws.CurrentLimit)

	assert.True(t, ws.Wait(func() bool { return true }, func() {}))
	assert.Equal(t, int32(300), ws.CurrentLimit, "limit is capped at MaxSpin")

	slept := 0
	assert.False(t, ws.Wait(func() bool { return false }, func() { slept++ }))
	assert.Equal(t, 1, slept)
	assert.Equal(t, int32(250), ws.CurrentLimit)

	ws.CurrentLimit = 120
	ws.Wait(func() bool { return false }, func() {})
	assert.Equal(t, int32(100), ws.CurrentLimit, "limit is floored at MinSpin")
}
