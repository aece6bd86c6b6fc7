// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queuev1 defines the syncmq.v1.QueueService wire messages and the
// Connect handler and client bindings for them.
package queuev1

import "time"

type CreateQueueRequest struct {
	QueueID string `json:"queue_id"`
}

type CreateQueueResponse struct {
	Queue   *Queue `json:"queue"`
	Created bool   `json:"created"`
}

type DeleteQueueRequest struct {
	QueueID string `json:"queue_id"`
	Force   bool   `json:"force,omitempty"`
}

type DeleteQueueResponse struct{}

type SendRequest struct {
	QueueID string `json:"queue_id"`
	Payload []byte `json:"payload"`
}

type SendResponse struct {
	MessageID   string  `json:"message_id"`
	Size        int     `json:"size"`
	RoundTripMs float64 `json:"round_trip_ms"`
}

// ReceiveRequest asks for the next message. Capacity is the largest
// message the caller accepts; it is clamped to the server's maximum.
type ReceiveRequest struct {
	QueueID  string `json:"queue_id"`
	Capacity int    `json:"capacity"`
}

type ReceiveResponse struct {
	MessageID string `json:"message_id"`
	Payload   []byte `json:"payload"`
}

type AckRequest struct {
	QueueID string `json:"queue_id"`
}

type AckResponse struct {
	MessageID string `json:"message_id"`
}

type ListQueuesRequest struct {
	Prefix    string `json:"prefix,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListQueuesResponse struct {
	Queues        []*Queue `json:"queues"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// Queue is the wire view of a queue.
type Queue struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	PendingBytes int       `json:"pending_bytes"`
	Waiters      int       `json:"waiters"`
	Sent         uint64    `json:"sent"`
	Received     uint64    `json:"received"`
	Acked        uint64    `json:"acked"`
	CreatedAt    time.Time `json:"created_at"`
}
