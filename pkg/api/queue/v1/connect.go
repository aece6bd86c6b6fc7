// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queuev1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// ServiceName is the fully-qualified name of the queue service.
const ServiceName = "syncmq.v1.QueueService"

// Procedure paths, one per RPC.
const (
	CreateQueueProcedure = "/" + ServiceName + "/CreateQueue"
	DeleteQueueProcedure = "/" + ServiceName + "/DeleteQueue"
	SendProcedure        = "/" + ServiceName + "/Send"
	ReceiveProcedure     = "/" + ServiceName + "/Receive"
	AckProcedure         = "/" + ServiceName + "/Ack"
	ListQueuesProcedure  = "/" + ServiceName + "/ListQueues"
)

// QueueServiceHandler is implemented by the server side of the service.
type QueueServiceHandler interface {
	CreateQueue(context.Context, *connect.Request[CreateQueueRequest]) (*connect.Response[CreateQueueResponse], error)
	DeleteQueue(context.Context, *connect.Request[DeleteQueueRequest]) (*connect.Response[DeleteQueueResponse], error)
	Send(context.Context, *connect.Request[SendRequest]) (*connect.Response[SendResponse], error)
	Receive(context.Context, *connect.Request[ReceiveRequest]) (*connect.Response[ReceiveResponse], error)
	Ack(context.Context, *connect.Request[AckRequest]) (*connect.Response[AckResponse], error)
	ListQueues(context.Context, *connect.Request[ListQueuesRequest]) (*connect.Response[ListQueuesResponse], error)
}

// NewQueueServiceHandler builds an HTTP handler serving svc. It returns the
// path prefix to mount the handler on. The JSON codec and gzip compression
// are always installed; opts may add limits such as connect.WithReadMaxBytes.
func NewQueueServiceHandler(svc QueueServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON(), WithGzip()}, opts...)

	handlers := map[string]http.Handler{
		CreateQueueProcedure: connect.NewUnaryHandler(CreateQueueProcedure, svc.CreateQueue, opts...),
		DeleteQueueProcedure: connect.NewUnaryHandler(DeleteQueueProcedure, svc.DeleteQueue, opts...),
		SendProcedure:        connect.NewUnaryHandler(SendProcedure, svc.Send, opts...),
		ReceiveProcedure:     connect.NewUnaryHandler(ReceiveProcedure, svc.Receive, opts...),
		AckProcedure:         connect.NewUnaryHandler(AckProcedure, svc.Ack, opts...),
		ListQueuesProcedure:  connect.NewUnaryHandler(ListQueuesProcedure, svc.ListQueues, opts...),
	}

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// QueueServiceClient is the client side of the service.
type QueueServiceClient interface {
	CreateQueue(context.Context, *connect.Request[CreateQueueRequest]) (*connect.Response[CreateQueueResponse], error)
	DeleteQueue(context.Context, *connect.Request[DeleteQueueRequest]) (*connect.Response[DeleteQueueResponse], error)
	Send(context.Context, *connect.Request[SendRequest]) (*connect.Response[SendResponse], error)
	Receive(context.Context, *connect.Request[ReceiveRequest]) (*connect.Response[ReceiveResponse], error)
	Ack(context.Context, *connect.Request[AckRequest]) (*connect.Response[AckResponse], error)
	ListQueues(context.Context, *connect.Request[ListQueuesRequest]) (*connect.Response[ListQueuesResponse], error)
}

type queueServiceClient struct {
	createQueue *connect.Client[CreateQueueRequest, CreateQueueResponse]
	deleteQueue *connect.Client[DeleteQueueRequest, DeleteQueueResponse]
	send        *connect.Client[SendRequest, SendResponse]
	receive     *connect.Client[ReceiveRequest, ReceiveResponse]
	ack         *connect.Client[AckRequest, AckResponse]
	listQueues  *connect.Client[ListQueuesRequest, ListQueuesResponse]
}

// NewQueueServiceClient creates a client for the service at baseURL.
func NewQueueServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) QueueServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON(), WithAcceptGzip()}, opts...)

	return &queueServiceClient{
		createQueue: connect.NewClient[CreateQueueRequest, CreateQueueResponse](httpClient, baseURL+CreateQueueProcedure, opts...),
		deleteQueue: connect.NewClient[DeleteQueueRequest, DeleteQueueResponse](httpClient, baseURL+DeleteQueueProcedure, opts...),
		send:        connect.NewClient[SendRequest, SendResponse](httpClient, baseURL+SendProcedure, opts...),
		receive:     connect.NewClient[ReceiveRequest, ReceiveResponse](httpClient, baseURL+ReceiveProcedure, opts...),
		ack:         connect.NewClient[AckRequest, AckResponse](httpClient, baseURL+AckProcedure, opts...),
		listQueues:  connect.NewClient[ListQueuesRequest, ListQueuesResponse](httpClient, baseURL+ListQueuesProcedure, opts...),
	}
}

func (c *queueServiceClient) CreateQueue(ctx context.Context, req *connect.Request[CreateQueueRequest]) (*connect.Response[CreateQueueResponse], error) {
	return c.createQueue.CallUnary(ctx, req)
}

func (c *queueServiceClient) DeleteQueue(ctx context.Context, req *connect.Request[DeleteQueueRequest]) (*connect.Response[DeleteQueueResponse], error) {
	return c.deleteQueue.CallUnary(ctx, req)
}

func (c *queueServiceClient) Send(ctx context.Context, req *connect.Request[SendRequest]) (*connect.Response[SendResponse], error) {
	return c.send.CallUnary(ctx, req)
}

func (c *queueServiceClient) Receive(ctx context.Context, req *connect.Request[ReceiveRequest]) (*connect.Response[ReceiveResponse], error) {
	return c.receive.CallUnary(ctx, req)
}

func (c *queueServiceClient) Ack(ctx context.Context, req *connect.Request[AckRequest]) (*connect.Response[AckResponse], error) {
	return c.ack.CallUnary(ctx, req)
}

func (c *queueServiceClient) ListQueues(ctx context.Context, req *connect.Request[ListQueuesRequest]) (*connect.Response[ListQueuesResponse], error) {
	return c.listQueues.CallUnary(ctx, req)
}
