// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/absmach/syncmq/queue"
	"github.com/absmach/syncmq/server/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (string, *queue.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := queue.NewRegistry(queue.Options{})
	require.NoError(t, err)
	svc := queue.NewService(reg, queue.ServiceConfig{Logger: logger})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- api.New(api.Config{ShutdownTimeout: time.Second}, svc, nil, logger).Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		svc.Close()
		cancel()
		<-done
	})

	return "http://" + ln.Addr().String(), svc
}

func TestSendReceiveSession(t *testing.T) {
	server, svc := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sendOut bytes.Buffer
	sent := make(chan error, 1)
	go func() {
		sent <- run(ctx, []string{"-server", server, "send"}, &sendOut)
	}()

	require.Eventually(t, func() bool {
		q, err := svc.Registry().Find(defaultQueue)
		return err == nil && q.State() == queue.StateSent
	}, 2*time.Second, 5*time.Millisecond)

	var recvOut bytes.Buffer
	require.NoError(t, run(ctx, []string{"-server", server, "receive", "-delete"}, &recvOut))
	assert.Equal(t, ">>> Received message (len:13): hello, there!\n", recvOut.String())

	require.NoError(t, <-sent)
	assert.Contains(t, sendOut.String(), "acknowledged (len:13")
	assert.Zero(t, svc.Registry().Len())
}

func TestCreateListDelete(t *testing.T) {
	server, _ := startServer(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-server", server, "create", "-queue", "orders"}, &out))
	require.NoError(t, run(ctx, []string{"-server", server, "create", "-queue", "orders"}, &out))
	assert.Equal(t, "queue orders created\nqueue orders already exists\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, []string{"-server", server, "list"}, &out))
	assert.Contains(t, out.String(), "orders")
	assert.Contains(t, out.String(), "idle")

	out.Reset()
	require.NoError(t, run(ctx, []string{"-server", server, "delete", "-queue", "orders"}, &out))
	assert.Equal(t, "queue orders deleted\n", out.String())

	err := run(ctx, []string{"-server", server, "delete", "-queue", "orders"}, &out)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestAckWithoutReceive(t *testing.T) {
	server, svc := startServer(t)
	_, _, err := svc.Create(context.Background(), defaultQueue)
	require.NoError(t, err)

	err = run(context.Background(), []string{"-server", server, "ack"}, io.Discard)
	assert.ErrorIs(t, err, queue.ErrNoPending)
}

func TestUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), nil, &out)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, out.String(), "commands:")

	err = run(context.Background(), []string{"bogus"}, &out)
	assert.ErrorContains(t, err, `unknown command "bogus"`)
}
