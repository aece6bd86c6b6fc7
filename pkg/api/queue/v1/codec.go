// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queuev1

import (
	"encoding/base64"
	"encoding/json"
	"io"

	"connectrpc.com/connect"
	"github.com/klauspost/compress/gzip"
)

// ReasonHeader carries the machine-readable failure reason on error
// responses, e.g. "busy" or "no_pending".
const ReasonHeader = "Syncmq-Reason"

const codecName = "json"

// envelopeOverhead bounds the JSON framing around a payload: field names,
// the queue id and escaping.
const envelopeOverhead = 4 << 10

// ReadMaxBytes returns the largest request body a handler needs to accept
// when payloads are capped at maxMessageSize. Payloads travel base64
// encoded inside the JSON envelope.
func ReadMaxBytes(maxMessageSize int) int {
	return base64.StdEncoding.EncodedLen(maxMessageSize) + envelopeOverhead
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// WithJSON installs the JSON codec used by all queue service messages.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}

const compressionGzip = "gzip"

func newGzipDecompressor() connect.Decompressor { return &gzip.Reader{} }

func newGzipCompressor() connect.Compressor {
	w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
	return w
}

// WithGzip registers klauspost/compress gzip on the handler side.
func WithGzip() connect.HandlerOption {
	return connect.WithCompression(compressionGzip, newGzipDecompressor, newGzipCompressor)
}

// WithAcceptGzip registers klauspost/compress gzip on the client side. It
// backs connect.WithSendGzip and decodes gzip responses.
func WithAcceptGzip() connect.ClientOption {
	return connect.WithAcceptCompression(compressionGzip, newGzipDecompressor, newGzipCompressor)
}
