// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/syncmq/queue"
	"github.com/absmach/syncmq/ratelimit"
	"github.com/gorilla/websocket"
)

// AckFrame is the text frame a consumer sends to acknowledge the last
// binary frame it received.
const AckFrame = "ack"

const writeWait = 10 * time.Second

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server streams queue messages to WebSocket consumers. Each connection
// receives one message at a time and must acknowledge it before the next
// is delivered.
type Server struct {
	config   Config
	service  *queue.Service
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates the consumer server. limiter may be nil.
func New(cfg Config, service *queue.Service, limiter *ratelimit.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /queues/{id}/ws", s.handleWebSocket)

	var handler http.Handler = mux
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: handler,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("websocket_server_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("websocket_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				s.logger.Error("websocket_server_shutdown_error", slog.String("error", err.Error()))
				return err
			}
			s.logger.Warn("websocket_server_shutdown_forced")
			s.server.Close()
		}

		s.logger.Info("websocket_server_stopped")
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	capacity := s.service.MaxMessageSize()
	if v := r.URL.Query().Get("capacity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "capacity must be a non-negative integer", http.StatusBadRequest)
			return
		}
		capacity = n
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("websocket_consumer_attached",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("queue_id", id))

	sess := &session{
		ws:       ws,
		service:  s.service,
		queueID:  id,
		capacity: capacity,
		acked:    make(chan struct{}, 1),
		logger:   s.logger,
	}
	sess.run(r.Context())
}

// session pumps messages from one queue to one consumer.
type session struct {
	ws       *websocket.Conn
	service  *queue.Service
	queueID  string
	capacity int
	logger   *slog.Logger

	// acked carries at most one ack per delivered message.
	acked chan struct{}

	mu          sync.Mutex
	outstanding bool

	wmu sync.Mutex
}

type errorFrame struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.ws.Close()

	go s.readLoop(ctx, cancel)

	for {
		payload, rc, err := s.service.Receive(ctx, s.queueID, s.capacity)
		if err != nil {
			s.fail(ctx, err)
			return
		}

		s.setOutstanding(true)
		if err := s.write(websocket.BinaryMessage, payload); err != nil {
			s.logger.Warn("websocket_write_failed",
				slog.String("queue_id", s.queueID),
				slog.String("message_id", rc.MessageID),
				slog.String("error", err.Error()))
			s.release(rc.MessageID)
			return
		}

		if !s.awaitAck(ctx) {
			s.logger.Warn("websocket_consumer_left_unacked",
				slog.String("queue_id", s.queueID),
				slog.String("message_id", rc.MessageID))
			s.release(rc.MessageID)
			return
		}

		if _, err := s.service.Ack(ctx, s.queueID); err != nil {
			s.fail(ctx, err)
			return
		}
	}
}

// awaitAck reports whether the consumer acked the outstanding message. An
// ack that arrived right before the consumer left still counts.
func (s *session) awaitAck(ctx context.Context) bool {
	select {
	case <-s.acked:
		return true
	case <-ctx.Done():
		select {
		case <-s.acked:
			return true
		default:
			return false
		}
	}
}

// release hands an undelivered or unacknowledged message back to the queue
// so the next consumer receives it.
func (s *session) release(messageID string) {
	if _, err := s.service.Release(context.Background(), s.queueID, messageID); err != nil {
		s.logger.Debug("websocket_release_failed",
			slog.String("queue_id", s.queueID),
			slog.String("message_id", messageID),
			slog.String("error", err.Error()))
	}
}

func (s *session) setOutstanding(v bool) {
	s.mu.Lock()
	s.outstanding = v
	s.mu.Unlock()
}

// readLoop turns text frames into acks and cancels the session when the
// peer goes away. Frames that do not ack an outstanding message are
// answered with an invalid_frame error and dropped.
func (s *session) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	for {
		kind, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		text := string(data)
		s.mu.Lock()
		outstanding := s.outstanding
		if outstanding && text == AckFrame {
			s.outstanding = false
		}
		s.mu.Unlock()

		switch {
		case !outstanding:
			s.writeError(errorFrame{Error: "no message awaiting " + AckFrame, Reason: "invalid_frame"})
		case text != AckFrame:
			s.writeError(errorFrame{Error: "expected " + AckFrame, Reason: "invalid_frame"})
		default:
			s.acked <- struct{}{}
		}
	}
}

func (s *session) fail(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	s.writeError(errorFrame{Error: err.Error(), Reason: queue.Reason(err)})

	code := websocket.CloseInternalServerErr
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, queue.ErrClosed):
		code = websocket.CloseGoingAway
	case errors.Is(err, queue.ErrTransferFailed), errors.Is(err, queue.ErrTimedOut):
		code = websocket.ClosePolicyViolation
	}
	s.wmu.Lock()
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, queue.Reason(err)),
		time.Now().Add(writeWait))
	s.wmu.Unlock()
}

func (s *session) write(kind int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(kind, data)
}

func (s *session) writeError(f errorFrame) {
	data, _ := json.Marshal(f)
	s.write(websocket.TextMessage, data)
}
