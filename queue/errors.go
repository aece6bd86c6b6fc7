// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
)

// Queue errors.
var (
	ErrNotFound         = errors.New("queue not found")
	ErrInvalidID        = errors.New("queue id cannot be empty")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum message size")
	ErrTransferFailed   = errors.New("payload transfer failed")
	ErrAllocationFailed = errors.New("queue allocation failed")
	ErrBusy             = errors.New("queue has parked waiters")
	ErrTimedOut         = errors.New("operation timed out")
	ErrClosed           = errors.New("queue closed")
	ErrNoPending        = errors.New("no received message awaiting acknowledgment")
	ErrRateLimited      = errors.New("send rate limit exceeded")
)

// Reason returns a short label for err, used as a metric attribute and log
// field. A nil error is "ok".
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidID):
		return "invalid_id"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrAllocationFailed):
		return "allocation_failed"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrNoPending):
		return "no_pending"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// ctxError maps a context error to the queue error taxonomy. Deadline expiry
// becomes ErrTimedOut; cancellation is returned as is.
func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return err
}

var reasons = map[string]error{
	"not_found":         ErrNotFound,
	"invalid_id":        ErrInvalidID,
	"payload_too_large": ErrPayloadTooLarge,
	"transfer_failed":   ErrTransferFailed,
	"allocation_failed": ErrAllocationFailed,
	"busy":              ErrBusy,
	"timed_out":         ErrTimedOut,
	"closed":            ErrClosed,
	"no_pending":        ErrNoPending,
	"rate_limited":      ErrRateLimited,
	"canceled":          context.Canceled,
}

// FromReason is the inverse of Reason. It returns nil for "ok" and for
// labels it does not know.
func FromReason(reason string) error {
	return reasons[reason]
}
