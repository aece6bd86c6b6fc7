// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	queuev1 "github.com/absmach/syncmq/pkg/api/queue/v1"
	"github.com/absmach/syncmq/queue"
	"github.com/absmach/syncmq/ratelimit"
	serverqueue "github.com/absmach/syncmq/server/queue"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config holds configuration for the API server.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	TLSConfig       *tls.Config
}

// Server provides the Connect API (Connect, gRPC and gRPC-Web protocols)
// over HTTP/2, with h2c when TLS is not configured.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new API server. limiter may be nil.
func New(config Config, service *queue.Service, limiter *ratelimit.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	queueHandler := serverqueue.NewHandler(service, logger)
	path, handler := queuev1.NewQueueServiceHandler(queueHandler,
		connect.WithReadMaxBytes(queuev1.ReadMaxBytes(service.MaxMessageSize())))
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}
	mux.Handle(path, handler)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Send and Receive block until their peer shows up, so there is no
	// write timeout.
	h2s := &http2.Server{}
	httpServer := &http.Server{
		Addr:              config.Address,
		Handler:           h2c.NewHandler(mux, h2s),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		TLSConfig:         config.TLSConfig,
	}

	return &Server{
		config:     config,
		httpServer: httpServer,
		logger:     logger,
	}
}

// Handler returns the root handler, for embedding in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen starts the API server and blocks until ctx is canceled.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to bind API listener: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		var err error
		if s.config.TLSConfig != nil {
			s.logger.Info("Starting API server with TLS",
				slog.String("address", ln.Addr().String()))
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			s.logger.Info("Starting API server (h2c)",
				slog.String("address", ln.Addr().String()))
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Send and Receive calls may still be parked on their peer.
			s.logger.Warn("API server shutdown timed out, closing open connections")
			s.httpServer.Close()
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("API server error: %w", err)
	}
}
