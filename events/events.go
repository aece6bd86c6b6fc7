// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeQueueCreated    = "queue.created"
	TypeQueueDeleted    = "queue.deleted"
	TypeMessageSent     = "message.sent"
	TypeMessageReceived = "message.received"
	TypeMessageAcked    = "message.acked"
)

// Event is the common interface for all lifecycle events.
type Event interface {
	// Type returns the event type identifier (e.g., "queue.created")
	Type() string

	// QueueID returns the identifier of the queue the event concerns
	QueueID() string

	// Wrap wraps the event in a common envelope with metadata
	Wrap(nodeID string) *Envelope
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	NodeID    string `json:"node_id"`
	Data      any    `json:"data"`
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	return json.Marshal((*plain)(e))
}

func wrap(e Event, nodeID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		NodeID:    nodeID,
		Data:      e,
	}
}

// QueueCreated is emitted when create allocates a new queue. Idempotent
// creates of an existing queue emit nothing.
type QueueCreated struct {
	Queue string `json:"queue_id"`
}

func (e QueueCreated) Type() string                  { return TypeQueueCreated }
func (e QueueCreated) QueueID() string               { return e.Queue }
func (e QueueCreated) Wrap(nodeID string) *Envelope { return wrap(e, nodeID) }

// QueueDeleted is emitted when a queue is removed from the registry.
type QueueDeleted struct {
	Queue  string `json:"queue_id"`
	Forced bool   `json:"forced"`
}

func (e QueueDeleted) Type() string                  { return TypeQueueDeleted }
func (e QueueDeleted) QueueID() string               { return e.Queue }
func (e QueueDeleted) Wrap(nodeID string) *Envelope { return wrap(e, nodeID) }

// MessageSent is emitted when a sender returns after its message was
// received and acknowledged.
type MessageSent struct {
	Queue       string  `json:"queue_id"`
	MessageID   string  `json:"message_id"`
	PayloadSize int     `json:"payload_size"`
	RoundTripMs float64 `json:"round_trip_ms"`
	Payload     []byte  `json:"payload,omitempty"` // base64 encoded, optional
}

func (e MessageSent) Type() string                  { return TypeMessageSent }
func (e MessageSent) QueueID() string               { return e.Queue }
func (e MessageSent) Wrap(nodeID string) *Envelope { return wrap(e, nodeID) }

// MessageReceived is emitted when a receiver copies a message out.
type MessageReceived struct {
	Queue       string `json:"queue_id"`
	MessageID   string `json:"message_id"`
	PayloadSize int    `json:"payload_size"`
}

func (e MessageReceived) Type() string                  { return TypeMessageReceived }
func (e MessageReceived) QueueID() string               { return e.Queue }
func (e MessageReceived) Wrap(nodeID string) *Envelope { return wrap(e, nodeID) }

// MessageAcked is emitted when a receiver acknowledges a message.
type MessageAcked struct {
	Queue     string `json:"queue_id"`
	MessageID string `json:"message_id"`
}

func (e MessageAcked) Type() string                  { return TypeMessageAcked }
func (e MessageAcked) QueueID() string               { return e.Queue }
func (e MessageAcked) Wrap(nodeID string) *Envelope { return wrap(e, nodeID) }
