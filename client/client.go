// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	queuev1 "github.com/absmach/syncmq/pkg/api/queue/v1"
	"golang.org/x/net/http2"
)

// Receipt describes an acknowledged, received or acked message.
type Receipt struct {
	MessageID string
	Size      int
	RoundTrip time.Duration
}

// Queue is a snapshot of a remote queue.
type Queue = queuev1.Queue

// Client is a thread-safe client for the queue API.
type Client struct {
	opts *Options
	rpc  queuev1.QueueServiceClient
}

// New creates a new client with the given options. Plain http URLs use
// HTTP/2 without TLS (h2c).
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	return NewWithHTTPClient(opts, newHTTPClient(opts))
}

// NewWithHTTPClient creates a client that uses hc for transport.
func NewWithHTTPClient(opts *Options, hc connect.HTTPClient) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var copts []connect.ClientOption
	switch opts.Protocol {
	case ProtocolConnect:
	case ProtocolGRPC:
		copts = append(copts, connect.WithGRPC())
	case ProtocolGRPCWeb:
		copts = append(copts, connect.WithGRPCWeb())
	default:
		return nil, fmt.Errorf("unsupported protocol %q", opts.Protocol)
	}
	if opts.Compress {
		copts = append(copts, connect.WithSendGzip())
	}

	return &Client{
		opts: opts,
		rpc:  queuev1.NewQueueServiceClient(hc, opts.Server, copts...),
	}, nil
}

func newHTTPClient(opts *Options) *http.Client {
	if strings.HasPrefix(opts.Server, "https://") {
		return &http.Client{
			Transport: &http2.Transport{TLSClientConfig: opts.TLSConfig},
		}
	}

	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.RequestTimeout)
}

// Create creates the queue if it does not exist. created reports whether
// this call allocated it.
func (c *Client) Create(ctx context.Context, id string) (q *Queue, created bool, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.CreateQueue(ctx, connect.NewRequest(&queuev1.CreateQueueRequest{QueueID: id}))
	if err != nil {
		return nil, false, fromConnect(err)
	}
	return resp.Msg.Queue, resp.Msg.Created, nil
}

// Delete removes the queue. Without force a queue with blocked callers
// fails with ErrBusy.
func (c *Client) Delete(ctx context.Context, id string, force bool) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.rpc.DeleteQueue(ctx, connect.NewRequest(&queuev1.DeleteQueueRequest{QueueID: id, Force: force}))
	return fromConnect(err)
}

// Send blocks until a receiver has taken and acknowledged payload.
func (c *Client) Send(ctx context.Context, id string, payload []byte) (Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.Send(ctx, connect.NewRequest(&queuev1.SendRequest{QueueID: id, Payload: payload}))
	if err != nil {
		return Receipt{}, fromConnect(err)
	}
	return Receipt{
		MessageID: resp.Msg.MessageID,
		Size:      resp.Msg.Size,
		RoundTrip: time.Duration(resp.Msg.RoundTripMs * float64(time.Millisecond)),
	}, nil
}

// Receive blocks until a message is available and returns it. A capacity
// of 0 uses the configured default.
func (c *Client) Receive(ctx context.Context, id string, capacity int) ([]byte, Receipt, error) {
	if capacity == 0 {
		capacity = c.opts.ReceiveCapacity
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.Receive(ctx, connect.NewRequest(&queuev1.ReceiveRequest{QueueID: id, Capacity: capacity}))
	if err != nil {
		return nil, Receipt{}, fromConnect(err)
	}
	return resp.Msg.Payload, Receipt{MessageID: resp.Msg.MessageID, Size: len(resp.Msg.Payload)}, nil
}

// Ack acknowledges the last received message, releasing its sender.
func (c *Client) Ack(ctx context.Context, id string) (Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.rpc.Ack(ctx, connect.NewRequest(&queuev1.AckRequest{QueueID: id}))
	if err != nil {
		return Receipt{}, fromConnect(err)
	}
	return Receipt{MessageID: resp.Msg.MessageID}, nil
}

// List returns queues whose id starts with prefix, following pagination
// until exhausted.
func (c *Client) List(ctx context.Context, prefix string) ([]*Queue, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		out   []*Queue
		token string
	)
	for {
		resp, err := c.rpc.ListQueues(ctx, connect.NewRequest(&queuev1.ListQueuesRequest{
			Prefix:    prefix,
			Limit:     100,
			PageToken: token,
		}))
		if err != nil {
			return nil, fromConnect(err)
		}
		out = append(out, resp.Msg.Queues...)
		if resp.Msg.NextPageToken == "" {
			return out, nil
		}
		token = resp.Msg.NextPageToken
	}
}
