// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"io"

	"github.com/absmach/syncmq/internal/bufpool"
)

func checkSize(n, max int) error {
	if n > max {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, n, max)
	}
	return nil
}

// copyIn validates payload against max and returns a service-owned copy.
// The size check runs before anything is allocated.
func copyIn(payload []byte, max int) ([]byte, error) {
	if err := checkSize(len(payload), max); err != nil {
		return nil, err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return buf, nil
}

// readIn reads a payload of at most max bytes from r into a service-owned
// slice. At most max+1 bytes are consumed from r.
func readIn(r io.Reader, max int) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrTransferFailed)
	}

	scratch := bufpool.Get(max + 1)
	defer bufpool.Put(scratch)

	if _, err := scratch.ReadFrom(io.LimitReader(r, int64(max)+1)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if scratch.Len() > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, max)
	}

	buf := make([]byte, scratch.Len())
	copy(buf, scratch.Bytes())
	return buf, nil
}

// copyOut copies src into dst. A dst too small for src is a failed transfer
// and dst is left untouched.
func copyOut(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("%w: receive buffer holds %d bytes, message has %d", ErrTransferFailed, len(dst), len(src))
	}
	return copy(dst, src), nil
}
