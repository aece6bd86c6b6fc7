// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		event Event
		typ   string
	}{
		{QueueCreated{Queue: "42"}, TypeQueueCreated},
		{QueueDeleted{Queue: "42", Forced: true}, TypeQueueDeleted},
		{MessageSent{Queue: "42", MessageID: "m", PayloadSize: 13}, TypeMessageSent},
		{MessageReceived{Queue: "42", MessageID: "m", PayloadSize: 13}, TypeMessageReceived},
		{MessageAcked{Queue: "42", MessageID: "m"}, TypeMessageAcked},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.event.Type())
			assert.Equal(t, "42", tt.event.QueueID())

			env := tt.event.Wrap("node-1")
			assert.Equal(t, tt.typ, env.EventType)
			assert.Equal(t, "node-1", env.NodeID)
			_, err := uuid.Parse(env.EventID)
			assert.NoError(t, err)
			_, err = time.Parse(time.RFC3339Nano, env.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestEnvelopeJSON(t *testing.T) {
	env := MessageSent{
		Queue:       "42",
		MessageID:   "m-1",
		PayloadSize: 13,
		Payload:     []byte("hello, there!"),
	}.Wrap("node-1")

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded struct {
		EventType string `json:"event_type"`
		NodeID    string `json:"node_id"`
		Data      struct {
			Queue   string `json:"queue_id"`
			Size    int    `json:"payload_size"`
			Payload []byte `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeMessageSent, decoded.EventType)
	assert.Equal(t, "node-1", decoded.NodeID)
	assert.Equal(t, "42", decoded.Data.Queue)
	assert.Equal(t, 13, decoded.Data.Size)
	assert.Equal(t, []byte("hello, there!"), decoded.Data.Payload)

	bare, err := json.Marshal(MessageAcked{Queue: "42", MessageID: "m-1"}.Wrap(""))
	require.NoError(t, err)
	assert.NotContains(t, string(bare), "payload")
}
