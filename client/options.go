// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/tls"
	"net/url"
	"time"
)

// Default values.
const (
	DefaultServer          = "http://localhost:7070"
	DefaultRequestTimeout  = 0
	DefaultReceiveCapacity = 100
)

// Protocol selects the wire protocol the client speaks.
type Protocol string

// Supported protocols.
const (
	ProtocolConnect Protocol = "connect"
	ProtocolGRPC    Protocol = "grpc"
	ProtocolGRPCWeb Protocol = "grpcweb"
)

// Options configures the queue client.
type Options struct {
	Server          string        // Base URL of the API server
	TLSConfig       *tls.Config   // TLS configuration (nil for h2c on http URLs)
	Protocol        Protocol      // Wire protocol
	RequestTimeout  time.Duration // Per-call deadline (0 lets Send and Receive block)
	ReceiveCapacity int           // Default receive buffer size
	Compress        bool          // Gzip request bodies
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Server:          DefaultServer,
		Protocol:        ProtocolConnect,
		RequestTimeout:  DefaultRequestTimeout,
		ReceiveCapacity: DefaultReceiveCapacity,
	}
}

// SetServer sets the API server base URL.
func (o *Options) SetServer(server string) *Options {
	o.Server = server
	return o
}

// SetTLSConfig sets TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetProtocol sets the wire protocol.
func (o *Options) SetProtocol(p Protocol) *Options {
	o.Protocol = p
	return o
}

// SetRequestTimeout sets the per-call deadline.
func (o *Options) SetRequestTimeout(d time.Duration) *Options {
	o.RequestTimeout = d
	return o
}

// SetReceiveCapacity sets the default receive buffer size.
func (o *Options) SetReceiveCapacity(n int) *Options {
	o.ReceiveCapacity = n
	return o
}

// SetCompress enables gzip on requests.
func (o *Options) SetCompress(compress bool) *Options {
	o.Compress = compress
	return o
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Server == "" {
		return ErrNoServer
	}
	u, err := url.Parse(o.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidScheme
	}
	if o.Protocol == "" {
		o.Protocol = ProtocolConnect
	}
	if o.ReceiveCapacity <= 0 {
		o.ReceiveCapacity = DefaultReceiveCapacity
	}
	return nil
}
