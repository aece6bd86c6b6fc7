// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/syncmq/queue"
	"github.com/absmach/syncmq/ratelimit"
)

// MessageIDHeader carries the message id on receive responses.
const MessageIDHeader = "Syncmq-Message-Id"

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	TLSConfig       *tls.Config
}

// Server is a REST bridge over the queue service. Payloads travel as raw
// request and response bodies.
type Server struct {
	config  Config
	service *queue.Service
	logger  *slog.Logger
	server  *http.Server
}

// New creates the bridge. limiter may be nil.
func New(cfg Config, service *queue.Service, limiter *ratelimit.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		service: service,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /queues", s.handleList)
	mux.HandleFunc("PUT /queues/{id}", s.handleCreate)
	mux.HandleFunc("DELETE /queues/{id}", s.handleDelete)
	mux.HandleFunc("POST /queues/{id}/messages", s.handleSend)
	mux.HandleFunc("GET /queues/{id}/messages", s.handleReceive)
	mux.HandleFunc("POST /queues/{id}/ack", s.handleAck)
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		TLSConfig:         cfg.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("http_bridge_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if s.config.TLSConfig != nil {
			if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			return
		}
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("http_bridge_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				s.logger.Error("http_bridge_shutdown_error", slog.String("error", err.Error()))
				return err
			}
			s.logger.Warn("http_bridge_shutdown_forced")
			s.server.Close()
		}

		s.logger.Info("http_bridge_stopped")
		return nil
	}
}

type sendResponse struct {
	MessageID   string  `json:"message_id"`
	Size        int     `json:"size"`
	RoundTripMs float64 `json:"round_trip_ms"`
}

type ackResponse struct {
	MessageID string `json:"message_id"`
}

type createResponse struct {
	Queue   queue.Info `json:"queue"`
	Created bool       `json:"created"`
}

type listResponse struct {
	Queues []queue.Info `json:"queues"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	info, created, err := s.service.Create(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, createResponse{Queue: info, Created: created})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := s.service.Delete(r.Context(), r.PathValue("id"), force); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	rc, err := s.service.SendFrom(r.Context(), r.PathValue("id"), r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		MessageID:   rc.MessageID,
		Size:        rc.Size,
		RoundTripMs: float64(time.Since(rc.SentAt).Microseconds()) / 1000,
	})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	capacity := s.service.MaxMessageSize()
	if v := r.URL.Query().Get("capacity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "capacity must be an integer", Reason: "invalid_argument"})
			return
		}
		capacity = n
	}

	payload, rc, err := s.service.Receive(r.Context(), r.PathValue("id"), capacity)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(MessageIDHeader, rc.MessageID)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	rc, err := s.service.Ack(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{MessageID: rc.MessageID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	infos := s.service.List(r.Context())
	queues := make([]queue.Info, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.ID, prefix) {
			queues = append(queues, info)
		}
	}
	writeJSON(w, http.StatusOK, listResponse{Queues: queues})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("http_bridge_request_failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: queue.Reason(err)})
}

// Status maps a queue error to an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, queue.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrBusy), errors.Is(err, queue.ErrNoPending):
		return http.StatusConflict
	case errors.Is(err, queue.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, queue.ErrClosed):
		return http.StatusGone
	case errors.Is(err, queue.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrAllocationFailed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
