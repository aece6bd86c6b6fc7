// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/absmach/syncmq/config"
	queuev1 "github.com/absmach/syncmq/pkg/api/queue/v1"
	"github.com/absmach/syncmq/queue"
	"github.com/absmach/syncmq/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, limiter *ratelimit.Manager) (string, *queue.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := queue.NewRegistry(queue.Options{})
	require.NoError(t, err)
	svc := queue.NewService(reg, queue.ServiceConfig{Logger: logger})
	t.Cleanup(svc.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Config{ShutdownTimeout: time.Second}, svc, limiter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	return "http://" + ln.Addr().String(), svc
}

func TestServerHealth(t *testing.T) {
	url, _ := startServer(t, nil)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServerQueueService(t *testing.T) {
	url, svc := startServer(t, nil)
	client := queuev1.NewQueueServiceClient(http.DefaultClient, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.CreateQueue(ctx, connect.NewRequest(&queuev1.CreateQueueRequest{QueueID: "42"}))
	require.NoError(t, err)
	assert.True(t, resp.Msg.Created)

	list, err := client.ListQueues(ctx, connect.NewRequest(&queuev1.ListQueuesRequest{}))
	require.NoError(t, err)
	require.Len(t, list.Msg.Queues, 1)
	assert.Equal(t, "42", list.Msg.Queues[0].ID)
	assert.Equal(t, 1, svc.Registry().Len())
}

func TestServerRequestRateLimit(t *testing.T) {
	var rejected atomic.Int32
	limiter := ratelimit.NewManager(config.RateLimitConfig{
		Enabled: true,
		Send:    config.SendLimitConfig{Rate: 100, Burst: 10},
		Request: config.RequestLimitConfig{Rate: 0.001, Burst: 1, CleanupInterval: time.Minute},
	})
	limiter.OnReject = func(string) { rejected.Add(1) }
	t.Cleanup(limiter.Stop)

	url, _ := startServer(t, limiter)
	client := queuev1.NewQueueServiceClient(http.DefaultClient, url)
	ctx := context.Background()

	_, err := client.CreateQueue(ctx, connect.NewRequest(&queuev1.CreateQueueRequest{QueueID: "a"}))
	require.NoError(t, err)

	_, err = client.CreateQueue(ctx, connect.NewRequest(&queuev1.CreateQueueRequest{QueueID: "b"}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
	assert.Equal(t, int32(1), rejected.Load())
}

func TestServerRequestBodyLimit(t *testing.T) {
	url, svc := startServer(t, nil)
	client := queuev1.NewQueueServiceClient(http.DefaultClient, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := svc.Create(ctx, "q")
	require.NoError(t, err)

	_, err = client.Send(ctx, connect.NewRequest(&queuev1.SendRequest{
		QueueID: "q",
		Payload: make([]byte, 64<<10),
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))

	// Just over the payload cap still fits the body limit and reaches the service.
	_, err = client.Send(ctx, connect.NewRequest(&queuev1.SendRequest{
		QueueID: "q",
		Payload: make([]byte, svc.MaxMessageSize()+1),
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestServeClosesParkedCalls(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := queue.NewRegistry(queue.Options{})
	require.NoError(t, err)
	svc := queue.NewService(reg, queue.ServiceConfig{Logger: logger})
	t.Cleanup(svc.Close)

	_, _, err = svc.Create(context.Background(), "q")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Config{ShutdownTimeout: 50 * time.Millisecond}, svc, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := queuev1.NewQueueServiceClient(http.DefaultClient, "http://"+ln.Addr().String())
	recvErr := make(chan error, 1)
	go func() {
		_, err := client.Receive(context.Background(), connect.NewRequest(&queuev1.ReceiveRequest{QueueID: "q", Capacity: 100}))
		recvErr <- err
	}()

	require.Eventually(t, func() bool {
		return svc.List(context.Background())[0].Waiters > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the shutdown timeout")
	}

	select {
	case err := <-recvErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("parked receive was not released")
	}
}
