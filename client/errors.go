// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"connectrpc.com/connect"
	queuev1 "github.com/absmach/syncmq/pkg/api/queue/v1"
	"github.com/absmach/syncmq/queue"
)

// Client errors.
var (
	// Configuration errors.
	ErrNoServer      = errors.New("no server address configured")
	ErrInvalidScheme = errors.New("server address must use http or https")

	// Operation errors.
	ErrUnavailable = errors.New("server unavailable")
)

// Queue errors returned by the server, re-exported so callers need not
// import the queue package.
var (
	ErrNotFound        = queue.ErrNotFound
	ErrInvalidID       = queue.ErrInvalidID
	ErrPayloadTooLarge = queue.ErrPayloadTooLarge
	ErrTransferFailed  = queue.ErrTransferFailed
	ErrBusy            = queue.ErrBusy
	ErrTimedOut        = queue.ErrTimedOut
	ErrClosed          = queue.ErrClosed
	ErrNoPending       = queue.ErrNoPending
	ErrRateLimited     = queue.ErrRateLimited
)

// fromConnect turns an RPC failure back into the queue error the server
// reported. The reason header is authoritative; the status code is the
// fallback for errors raised outside the handler.
func fromConnect(err error) error {
	if err == nil {
		return nil
	}

	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}

	if sentinel := queue.FromReason(cerr.Meta().Get(queuev1.ReasonHeader)); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, cerr.Message())
	}

	switch cerr.Code() {
	case connect.CodeNotFound:
		return fmt.Errorf("%w: %s", queue.ErrNotFound, cerr.Message())
	case connect.CodeDeadlineExceeded:
		return fmt.Errorf("%w: %s", queue.ErrTimedOut, cerr.Message())
	case connect.CodeAborted:
		return fmt.Errorf("%w: %s", queue.ErrClosed, cerr.Message())
	case connect.CodeResourceExhausted:
		return fmt.Errorf("%w: %s", queue.ErrRateLimited, cerr.Message())
	case connect.CodeUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, cerr.Message())
	}
	return err
}
