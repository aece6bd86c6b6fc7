// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the rendezvous state of a queue.
type State uint8

const (
	// StateIdle: no message in flight.
	StateIdle State = iota
	// StateSent: a message is written and dataReady is signaled.
	StateSent
	// StateReceived: the message was copied out; the sender awaits an ack.
	StateReceived
	// StateAcked: ackDone is signaled; the sender has not observed it yet.
	StateAcked
	// StateClosed: the queue was deleted or the registry torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateReceived:
		return "received"
	case StateAcked:
		return "acked"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Receipt describes the message an operation acted on.
type Receipt struct {
	MessageID string
	Size      int
	SentAt    time.Time
}

type message struct {
	id     string
	data   []byte
	sentAt time.Time
	acked  bool
}

func (m *message) receipt() Receipt {
	return Receipt{MessageID: m.id, Size: len(m.data), SentAt: m.sentAt}
}

// Queue is a single-slot rendezvous channel between one sender and one
// receiver. A send blocks until the receiver has copied the message out and
// acknowledged it.
type Queue struct {
	id        string
	maxSize   int
	createdAt time.Time

	// sendLock is held by a sender for the whole send/receive/ack round
	// trip; recvLock is held by a receiver while it waits for data.
	sendLock Locker
	recvLock Locker

	mu        sync.Mutex
	state     State
	msg       *message
	dataReady *Event
	ackDone   *Event
	closed    chan struct{}
	waiting   int

	sent     uint64
	received uint64
	acked    uint64
}

func newQueue(id string, maxSize int, lockKind string) (*Queue, error) {
	sendLock, err := NewLocker(lockKind)
	if err != nil {
		return nil, err
	}
	recvLock, err := NewLocker(lockKind)
	if err != nil {
		return nil, err
	}

	return &Queue{
		id:        id,
		maxSize:   maxSize,
		createdAt: time.Now(),
		sendLock:  sendLock,
		recvLock:  recvLock,
		state:     StateIdle,
		dataReady: NewEvent(),
		ackDone:   NewEvent(),
		closed:    make(chan struct{}),
	}, nil
}

// ID returns the queue identifier.
func (q *Queue) ID() string {
	return q.id
}

// MaxMessageSize returns the largest payload the queue accepts.
func (q *Queue) MaxMessageSize() int {
	return q.maxSize
}

// Send delivers payload and blocks until a receiver has consumed and
// acknowledged it, or ctx is done. The payload is copied before Send
// touches queue state, so the caller may reuse it as soon as Send returns.
func (q *Queue) Send(ctx context.Context, payload []byte) (Receipt, error) {
	buf, err := copyIn(payload, q.maxSize)
	if err != nil {
		return Receipt{}, err
	}
	return q.send(ctx, buf)
}

// SendFrom reads a payload of at most MaxMessageSize bytes from r and sends
// it like Send. Read failures are reported as ErrTransferFailed and leave
// the queue untouched.
func (q *Queue) SendFrom(ctx context.Context, r io.Reader) (Receipt, error) {
	buf, err := readIn(r, q.maxSize)
	if err != nil {
		return Receipt{}, err
	}
	return q.send(ctx, buf)
}

func (q *Queue) send(ctx context.Context, buf []byte) (Receipt, error) {
	if err := q.acquire(ctx, q.sendLock); err != nil {
		return Receipt{}, err
	}
	defer q.sendLock.Unlock()

	m := &message{
		id:     uuid.NewString(),
		data:   buf,
		sentAt: time.Now(),
	}

	q.mu.Lock()
	if q.state == StateClosed {
		q.mu.Unlock()
		return Receipt{}, ErrClosed
	}
	q.msg = m
	q.state = StateSent
	q.dataReady.Signal()
	acked := q.ackDone.Done()
	q.mu.Unlock()

	var waitErr error
	select {
	case <-acked:
	case <-q.closed:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if m.acked {
		q.sent++
		if q.state != StateClosed {
			q.ackDone.Reset()
			q.msg = nil
			q.state = StateIdle
		}
		return m.receipt(), nil
	}
	if q.state == StateClosed {
		q.msg = nil
		return m.receipt(), ErrClosed
	}

	// Gave up before the ack: withdraw the message whether or not it was
	// already received, so neither event carries over to the next send.
	q.dataReady.Reset()
	q.msg = nil
	q.state = StateIdle
	return m.receipt(), ctxError(waitErr)
}

// Receive blocks until a message is available, copies it into dst and
// returns the number of bytes written. A dst shorter than the message fails
// with ErrTransferFailed and leaves the message in place. The sender stays
// blocked until Ack.
func (q *Queue) Receive(ctx context.Context, dst []byte) (int, Receipt, error) {
	if err := q.acquire(ctx, q.recvLock); err != nil {
		return 0, Receipt{}, err
	}
	defer q.recvLock.Unlock()

	for {
		q.mu.Lock()
		switch q.state {
		case StateClosed:
			q.mu.Unlock()
			return 0, Receipt{}, ErrClosed
		case StateSent:
			n, err := copyOut(dst, q.msg.data)
			if err != nil {
				q.mu.Unlock()
				return 0, Receipt{}, err
			}
			q.dataReady.Reset()
			q.state = StateReceived
			q.received++
			r := q.msg.receipt()
			q.mu.Unlock()
			return n, r, nil
		}
		ready := q.dataReady.Done()
		q.waiting++
		q.mu.Unlock()

		var err error
		select {
		case <-ready:
		case <-q.closed:
		case <-ctx.Done():
			err = ctx.Err()
		}

		q.mu.Lock()
		q.waiting--
		q.mu.Unlock()

		if err != nil {
			return 0, Receipt{}, ctxError(err)
		}
	}
}

// Ack releases the sender of the most recently received message. Ack
// without a received, unacknowledged message returns ErrNoPending and
// signals nothing.
func (q *Queue) Ack() (Receipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case StateReceived:
		q.msg.acked = true
		q.state = StateAcked
		q.acked++
		q.ackDone.Signal()
		return q.msg.receipt(), nil
	case StateClosed:
		return Receipt{}, ErrClosed
	default:
		return Receipt{}, ErrNoPending
	}
}

// Release hands the received, unacknowledged message messageID back to the
// queue so the next receiver gets it again. Its sender stays parked until
// that delivery is acknowledged.
func (q *Queue) Release(messageID string) (Receipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.state == StateClosed:
		return Receipt{}, ErrClosed
	case q.state != StateReceived || q.msg.id != messageID:
		return Receipt{}, ErrNoPending
	}
	q.state = StateSent
	q.dataReady.Signal()
	return q.msg.receipt(), nil
}

// Close moves the queue to StateClosed and wakes every waiter. Waiters
// return ErrClosed, except a sender whose message was already acknowledged.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

// closeIfIdle closes the queue unless a waiter is parked on it.
func (q *Queue) closeIfIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.busyLocked() {
		return false
	}
	q.closeLocked()
	return true
}

func (q *Queue) closeLocked() {
	if q.state == StateClosed {
		return
	}
	q.state = StateClosed
	close(q.closed)
}

// busyLocked reports whether a caller is blocked on the queue: waiting for
// a lock, waiting for data, or waiting for an ack that was not given yet.
func (q *Queue) busyLocked() bool {
	return q.waiting > 0 || q.state == StateSent || q.state == StateReceived
}

// acquire takes l, giving up when ctx is done or the queue is closed.
func (q *Queue) acquire(ctx context.Context, l Locker) error {
	if !l.TryLock() {
		q.mu.Lock()
		if q.state == StateClosed {
			q.mu.Unlock()
			return ErrClosed
		}
		q.waiting++
		q.mu.Unlock()

		lctx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-q.closed:
				cancel()
			case <-lctx.Done():
			}
		}()
		err := l.Lock(lctx)
		cancel()

		q.mu.Lock()
		q.waiting--
		closed := q.state == StateClosed
		q.mu.Unlock()

		if err != nil {
			if closed {
				return ErrClosed
			}
			return ctxError(err)
		}
	}

	q.mu.Lock()
	closed := q.state == StateClosed
	q.mu.Unlock()
	if closed {
		l.Unlock()
		return ErrClosed
	}
	return nil
}

// Info is a point-in-time view of a queue.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Pending   int       `json:"pending_bytes"`
	Waiters   int       `json:"waiters"`
	Sent      uint64    `json:"sent"`
	Received  uint64    `json:"received"`
	Acked     uint64    `json:"acked"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns a snapshot of the queue.
func (q *Queue) Info() Info {
	q.mu.Lock()
	defer q.mu.Unlock()

	info := Info{
		ID:        q.id,
		State:     q.state.String(),
		Waiters:   q.waiting,
		Sent:      q.sent,
		Received:  q.received,
		Acked:     q.acked,
		CreatedAt: q.createdAt,
	}
	if q.msg != nil {
		info.Pending = len(q.msg.data)
	}
	return info
}

// State returns the current rendezvous state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}
