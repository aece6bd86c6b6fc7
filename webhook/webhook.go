// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook delivers queue lifecycle events to HTTP endpoints.
package webhook

import (
	"context"
	"time"
)

// Sender is the protocol-specific sender interface.
type Sender interface {
	// Send delivers payload to url. A non-nil error counts as a failed
	// attempt against the endpoint's circuit breaker.
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}

// Stats counts notifier outcomes since start.
type Stats struct {
	Queued    uint64 `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}
