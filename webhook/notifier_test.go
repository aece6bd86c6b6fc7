// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/syncmq/config"
	"github.com/absmach/syncmq/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mu          sync.Mutex
	sendCount   atomic.Int32
	sendFunc    func(ctx context.Context, payload []byte) error
	lastURL     string
	lastHeaders map[string]string
	payloads    [][]byte
}

func newMockSender() *mockSender {
	return &mockSender{
		sendFunc: func(context.Context, []byte) error { return nil },
	}
}

func (m *mockSender) Send(ctx context.Context, url string, headers map[string]string, payload []byte, _ time.Duration) error {
	m.sendCount.Add(1)
	m.mu.Lock()
	m.lastURL = url
	m.lastHeaders = headers
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	return m.sendFunc(ctx, payload)
}

func (m *mockSender) count() int {
	return int(m.sendCount.Load())
}

func (m *mockSender) envelopes(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any
	for _, p := range m.payloads {
		var env map[string]any
		require.NoError(t, json.Unmarshal(p, &env))
		out = append(out, env)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(endpoints ...config.WebhookEndpoint) config.WebhookConfig {
	return config.WebhookConfig{
		QueueSize:       100,
		DropPolicy:      "oldest",
		Workers:         2,
		ShutdownTimeout: 5 * time.Second,
		Defaults: config.WebhookDefaults{
			Timeout: 5 * time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:     1,
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     100 * time.Millisecond,
				Multiplier:      2.0,
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     10 * time.Second,
			},
		},
		Endpoints: endpoints,
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := testConfig(config.WebhookEndpoint{
		Name:    "audit",
		URL:     "http://example.com/webhook",
		Headers: map[string]string{"Authorization": "Bearer token"},
	})

	n, err := NewNotifier(cfg, "syncmq-1", newMockSender(), quietLogger())
	require.NoError(t, err)
	defer n.Close()

	assert.Len(t, n.endpoints, 1)
	assert.Contains(t, n.breakers, "audit")
}

func TestNewNotifierNilSender(t *testing.T) {
	_, err := NewNotifier(testConfig(), "syncmq-1", nil, nil)
	assert.Error(t, err)
}

func TestNotifierDelivers(t *testing.T) {
	sender := newMockSender()
	n, err := NewNotifier(testConfig(config.WebhookEndpoint{
		Name:    "audit",
		URL:     "http://example.com/webhook",
		Headers: map[string]string{"X-Token": "t"},
	}), "syncmq-1", sender, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: "42"}))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, events.TypeQueueCreated, envs[0]["event_type"])
	assert.Equal(t, "syncmq-1", envs[0]["node_id"])
	assert.NotEmpty(t, envs[0]["event_id"])
	data, ok := envs[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", data["queue_id"])

	sender.mu.Lock()
	assert.Equal(t, "http://example.com/webhook", sender.lastURL)
	assert.Equal(t, "t", sender.lastHeaders["X-Token"])
	sender.mu.Unlock()

	require.Eventually(t, func() bool { return n.Stats().Delivered == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifierEventTypeFilter(t *testing.T) {
	sender := newMockSender()
	n, err := NewNotifier(testConfig(config.WebhookEndpoint{
		Name:   "acks",
		URL:    "http://example.com/webhook",
		Events: []string{events.TypeMessageAcked},
	}), "syncmq-1", sender, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify(context.Background(), events.MessageAcked{Queue: "q", MessageID: "m"}))
	require.NoError(t, n.Notify(context.Background(), events.QueueDeleted{Queue: "q"}))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sender.count(), "non-matching event must be filtered")
}

func TestNotifierQueueFilter(t *testing.T) {
	sender := newMockSender()
	n, err := NewNotifier(testConfig(config.WebhookEndpoint{
		Name:         "orders",
		URL:          "http://example.com/webhook",
		QueueFilters: []string{"orders-*", "audit"},
	}), "syncmq-1", sender, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	for _, id := range []string{"orders-1", "audit", "payments", "auditlog"} {
		require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: id}))
	}

	require.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, sender.count())
}

func TestQueueMatches(t *testing.T) {
	tests := []struct {
		filter string
		id     string
		match  bool
	}{
		{"42", "42", true},
		{"42", "420", false},
		{"*", "anything", true},
		{"orders-*", "orders-eu", true},
		{"orders-*", "orders-", true},
		{"orders-*", "order", false},
		{"", "", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.match, queueMatches(tt.filter, tt.id), "queueMatches(%q, %q)", tt.filter, tt.id)
	}
}

func TestNotifierStripsPayload(t *testing.T) {
	sender := newMockSender()
	n, err := NewNotifier(testConfig(config.WebhookEndpoint{Name: "e", URL: "http://example.com"}),
		"syncmq-1", sender, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify(context.Background(), events.MessageSent{
		Queue: "q", MessageID: "m", PayloadSize: 5, Payload: []byte("hello"),
	}))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)

	data := sender.envelopes(t)[0]["data"].(map[string]any)
	assert.NotContains(t, data, "payload")
	assert.Equal(t, float64(5), data["payload_size"])
}

func TestNotifierRetry(t *testing.T) {
	var attempts atomic.Int32
	sender := newMockSender()
	sender.sendFunc = func(context.Context, []byte) error {
		if attempts.Add(1) < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}

	cfg := testConfig(config.WebhookEndpoint{Name: "e", URL: "http://example.com"})
	cfg.Defaults.Retry.MaxAttempts = 3
	cfg.Defaults.CircuitBreaker.FailureThreshold = 10

	n, err := NewNotifier(cfg, "syncmq-1", sender, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: "q"}))

	require.Eventually(t, func() bool { return attempts.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return n.Stats().Delivered == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, n.Stats().Failed)
}

func TestNotifierCircuitBreakerOpens(t *testing.T) {
	sender := newMockSender()
	sender.sendFunc = func(context.Context, []byte) error { return errors.New("down") }

	cfg := testConfig(config.WebhookEndpoint{Name: "e", URL: "http://example.com"})
	cfg.Workers = 1
	cfg.Defaults.CircuitBreaker.FailureThreshold = 2

	n, err := NewNotifier(cfg, "syncmq-1", sender, quietLogger())
	require.NoError(t, err)
	defer n.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: "q"}))
	}

	require.Eventually(t, func() bool { return n.Stats().Failed == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sender.count(), "open breaker short-circuits further sends")
}

func TestNotifierDropNewest(t *testing.T) {
	block := make(chan struct{})
	sender := newMockSender()
	sender.sendFunc = func(context.Context, []byte) error {
		<-block
		return nil
	}

	cfg := testConfig(config.WebhookEndpoint{Name: "e", URL: "http://example.com"})
	cfg.Workers = 1
	cfg.QueueSize = 2
	cfg.DropPolicy = "newest"

	n, err := NewNotifier(cfg, "syncmq-1", sender, quietLogger())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: "first"}))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: "q"}))
	}
	assert.Equal(t, uint64(3), n.Stats().Dropped)

	close(block)
	require.NoError(t, n.Close())
}

func TestNotifierDropOldest(t *testing.T) {
	block := make(chan struct{})
	sender := newMockSender()
	sender.sendFunc = func(context.Context, []byte) error {
		<-block
		return nil
	}

	cfg := testConfig(config.WebhookEndpoint{Name: "e", URL: "http://example.com"})
	cfg.Workers = 1
	cfg.QueueSize = 2

	n, err := NewNotifier(cfg, "syncmq-1", sender, quietLogger())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: "first"}))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, n.Notify(context.Background(), events.QueueCreated{Queue: id}))
	}
	assert.Equal(t, uint64(2), n.Stats().Dropped)
	require.Len(t, n.jobs, 2)

	// The two newest survive.
	j1 := <-n.jobs
	j2 := <-n.jobs
	assert.Equal(t, "c", j1.event.QueueID())
	assert.Equal(t, "d", j2.event.QueueID())

	close(block)
	require.NoError(t, n.Close())
}

func TestNotifierClosed(t *testing.T) {
	n, err := NewNotifier(testConfig(), "syncmq-1", newMockSender(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, n.Close())

	assert.Error(t, n.Notify(context.Background(), events.QueueCreated{Queue: "q"}))
}

func TestRetryDelay(t *testing.T) {
	cfg := config.RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}

	assert.Equal(t, 200*time.Millisecond, retryDelay(1, cfg))
	assert.Equal(t, 400*time.Millisecond, retryDelay(2, cfg))
	assert.Equal(t, time.Second, retryDelay(10, cfg))
}
