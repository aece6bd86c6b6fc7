// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	queuev1 "github.com/absmach/syncmq/pkg/api/queue/v1"
	"github.com/absmach/syncmq/queue"
)

var _ queuev1.QueueServiceHandler = (*Handler)(nil)

// Handler implements the QueueServiceHandler interface over a queue service.
type Handler struct {
	service *queue.Service
	logger  *slog.Logger
}

// NewHandler creates a new queue service handler.
func NewHandler(service *queue.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: service,
		logger:  logger,
	}
}

// --- Queue Management ---

func (h *Handler) CreateQueue(ctx context.Context, req *connect.Request[queuev1.CreateQueueRequest]) (*connect.Response[queuev1.CreateQueueResponse], error) {
	info, created, err := h.service.Create(ctx, req.Msg.QueueID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&queuev1.CreateQueueResponse{
		Queue:   queueToWire(info),
		Created: created,
	}), nil
}

func (h *Handler) DeleteQueue(ctx context.Context, req *connect.Request[queuev1.DeleteQueueRequest]) (*connect.Response[queuev1.DeleteQueueResponse], error) {
	if err := h.service.Delete(ctx, req.Msg.QueueID, req.Msg.Force); err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&queuev1.DeleteQueueResponse{}), nil
}

func (h *Handler) ListQueues(ctx context.Context, req *connect.Request[queuev1.ListQueuesRequest]) (*connect.Response[queuev1.ListQueuesResponse], error) {
	// Registry snapshots are already sorted by id.
	infos := h.service.List(ctx)

	filtered := make([]queue.Info, 0, len(infos))
	prefix := req.Msg.Prefix
	for _, info := range infos {
		if prefix != "" && !strings.HasPrefix(info.ID, prefix) {
			continue
		}
		filtered = append(filtered, info)
	}

	start := 0
	pageToken := req.Msg.PageToken
	if pageToken != "" {
		for i, info := range filtered {
			if info.ID > pageToken {
				start = i
				break
			}
			start = len(filtered)
		}
	}

	end := len(filtered)
	limit := req.Msg.Limit
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := filtered[start:end]
	queues := make([]*queuev1.Queue, len(page))
	for i := range page {
		queues[i] = queueToWire(page[i])
	}

	nextPageToken := ""
	if end < len(filtered) && len(page) > 0 {
		nextPageToken = page[len(page)-1].ID
	}

	return connect.NewResponse(&queuev1.ListQueuesResponse{
		Queues:        queues,
		NextPageToken: nextPageToken,
	}), nil
}

// --- Message Operations ---

func (h *Handler) Send(ctx context.Context, req *connect.Request[queuev1.SendRequest]) (*connect.Response[queuev1.SendResponse], error) {
	r, err := h.service.Send(ctx, req.Msg.QueueID, req.Msg.Payload)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&queuev1.SendResponse{
		MessageID:   r.MessageID,
		Size:        r.Size,
		RoundTripMs: float64(time.Since(r.SentAt).Microseconds()) / 1000,
	}), nil
}

func (h *Handler) Receive(ctx context.Context, req *connect.Request[queuev1.ReceiveRequest]) (*connect.Response[queuev1.ReceiveResponse], error) {
	payload, r, err := h.service.Receive(ctx, req.Msg.QueueID, req.Msg.Capacity)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&queuev1.ReceiveResponse{
		MessageID: r.MessageID,
		Payload:   payload,
	}), nil
}

func (h *Handler) Ack(ctx context.Context, req *connect.Request[queuev1.AckRequest]) (*connect.Response[queuev1.AckResponse], error) {
	r, err := h.service.Ack(ctx, req.Msg.QueueID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&queuev1.AckResponse{MessageID: r.MessageID}), nil
}

// --- Conversion Helpers ---

func queueToWire(info queue.Info) *queuev1.Queue {
	return &queuev1.Queue{
		ID:           info.ID,
		State:        info.State,
		PendingBytes: info.Pending,
		Waiters:      info.Waiters,
		Sent:         info.Sent,
		Received:     info.Received,
		Acked:        info.Acked,
		CreatedAt:    info.CreatedAt,
	}
}

// Code maps a queue error to its Connect code.
func Code(err error) connect.Code {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, queue.ErrInvalidID), errors.Is(err, queue.ErrPayloadTooLarge):
		return connect.CodeInvalidArgument
	case errors.Is(err, queue.ErrTransferFailed):
		return connect.CodeOutOfRange
	case errors.Is(err, queue.ErrAllocationFailed), errors.Is(err, queue.ErrRateLimited):
		return connect.CodeResourceExhausted
	case errors.Is(err, queue.ErrBusy), errors.Is(err, queue.ErrNoPending):
		return connect.CodeFailedPrecondition
	case errors.Is(err, queue.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, queue.ErrClosed):
		return connect.CodeAborted
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	default:
		return connect.CodeInternal
	}
}

func toConnectError(err error) *connect.Error {
	cerr := connect.NewError(Code(err), err)
	cerr.Meta().Set(queuev1.ReasonHeader, queue.Reason(err))
	return cerr
}
