// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/absmach/syncmq/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/syncmq/queue"

// Operation names used in logs, spans and metrics.
const (
	OpCreate  = "create"
	OpDelete  = "delete"
	OpSend    = "send"
	OpReceive = "receive"
	OpAck     = "ack"
	OpRelease = "release"
)

// Metrics records service activity.
type Metrics interface {
	RecordOperation(op string, d time.Duration, err error)
	RecordRoundTrip(sizeBytes int, latency time.Duration)
	RecordQueueCreated()
	RecordQueueDeleted()
}

// Notifier publishes lifecycle events. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, event events.Event) error
}

// SendLimiter throttles sends per queue.
type SendLimiter interface {
	AllowSend(queueID string) bool
	RemoveQueue(queueID string)
}

// ServiceConfig holds the dependencies and defaults of a Service.
type ServiceConfig struct {
	// SendTimeout bounds Send when the caller's context has no deadline.
	// Zero blocks until acknowledged.
	SendTimeout time.Duration
	// ReceiveTimeout bounds Receive when the caller's context has no
	// deadline. Zero blocks until a message arrives.
	ReceiveTimeout time.Duration
	// IncludePayload adds payload bytes to message.sent events.
	IncludePayload bool

	Logger   *slog.Logger
	Metrics  Metrics
	Notifier Notifier
	Limiter  SendLimiter
}

// Service is the operation surface over a Registry: create, delete, send,
// receive, ack and list. Payloads always cross it by copy.
type Service struct {
	registry *Registry
	cfg      ServiceConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService creates a service over reg.
func NewService(reg *Registry, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	return &Service{
		registry: reg,
		cfg:      cfg,
		logger:   cfg.Logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// MaxMessageSize returns the service-wide payload cap.
func (s *Service) MaxMessageSize() int {
	return s.registry.MaxMessageSize()
}

// Create creates the queue id if it does not exist. created reports whether
// this call allocated it.
func (s *Service) Create(ctx context.Context, id string) (info Info, created bool, err error) {
	ctx, span := s.start(ctx, OpCreate, id)
	defer s.finish(span, OpCreate, time.Now(), &err)

	q, created, err := s.registry.Create(id)
	if err != nil {
		s.logger.Warn("queue create failed",
			slog.String("queue_id", id),
			slog.String("error", err.Error()))
		return Info{}, false, err
	}

	span.SetAttributes(attribute.Bool("queue.created", created))
	if created {
		s.cfg.Metrics.RecordQueueCreated()
		s.notify(ctx, events.QueueCreated{Queue: id})
		s.logger.Info("queue created", slog.String("queue_id", id))
	} else {
		s.logger.Debug("queue already exists", slog.String("queue_id", id))
	}

	return q.Info(), created, nil
}

// Delete removes the queue id. Without force it fails with ErrBusy while a
// caller is blocked on the queue; with force those callers get ErrClosed.
func (s *Service) Delete(ctx context.Context, id string, force bool) (err error) {
	ctx, span := s.start(ctx, OpDelete, id)
	defer s.finish(span, OpDelete, time.Now(), &err)

	if err := s.registry.Remove(id, force); err != nil {
		s.logger.Debug("queue delete rejected",
			slog.String("queue_id", id),
			slog.Bool("force", force),
			slog.String("error", err.Error()))
		return err
	}

	if s.cfg.Limiter != nil {
		s.cfg.Limiter.RemoveQueue(id)
	}
	s.cfg.Metrics.RecordQueueDeleted()
	s.notify(ctx, events.QueueDeleted{Queue: id, Forced: force})
	s.logger.Info("queue deleted", slog.String("queue_id", id), slog.Bool("force", force))
	return nil
}

// Send sends payload on queue id and blocks until it is acknowledged.
func (s *Service) Send(ctx context.Context, id string, payload []byte) (r Receipt, err error) {
	ctx, span := s.start(ctx, OpSend, id)
	defer s.finish(span, OpSend, time.Now(), &err)

	return s.send(ctx, span, id, payload)
}

// SendFrom reads at most MaxMessageSize bytes from src and sends them like
// Send. A failing reader yields ErrTransferFailed.
func (s *Service) SendFrom(ctx context.Context, id string, src io.Reader) (r Receipt, err error) {
	ctx, span := s.start(ctx, OpSend, id)
	defer s.finish(span, OpSend, time.Now(), &err)

	payload, err := readIn(src, s.registry.MaxMessageSize())
	if err != nil {
		return Receipt{}, err
	}
	return s.send(ctx, span, id, payload)
}

func (s *Service) send(ctx context.Context, span trace.Span, id string, payload []byte) (Receipt, error) {
	q, err := s.registry.Find(id)
	if err != nil {
		return Receipt{}, err
	}
	// Oversized payloads must not spend a send token.
	if err := checkSize(len(payload), q.MaxMessageSize()); err != nil {
		return Receipt{}, err
	}
	if s.cfg.Limiter != nil && !s.cfg.Limiter.AllowSend(id) {
		return Receipt{}, ErrRateLimited
	}

	ctx, cancel := withDefaultTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	r, err := q.Send(ctx, payload)
	if err != nil {
		s.logger.Debug("send failed",
			slog.String("queue_id", id),
			slog.String("message_id", r.MessageID),
			slog.String("reason", Reason(err)))
		return r, err
	}

	latency := time.Since(r.SentAt)
	span.SetAttributes(
		attribute.String("message.id", r.MessageID),
		attribute.Int("message.size", r.Size))
	s.cfg.Metrics.RecordRoundTrip(r.Size, latency)

	ev := events.MessageSent{
		Queue:       id,
		MessageID:   r.MessageID,
		PayloadSize: r.Size,
		RoundTripMs: float64(latency.Microseconds()) / 1000,
	}
	if s.cfg.IncludePayload {
		ev.Payload = append([]byte(nil), payload...)
	}
	s.notify(ctx, ev)

	s.logger.Debug("message acknowledged",
		slog.String("queue_id", id),
		slog.String("message_id", r.MessageID),
		slog.Int("size", r.Size),
		slog.Duration("round_trip", latency))
	return r, nil
}

// Receive blocks until a message is available on queue id and returns a copy
// of it. capacity is the largest message the caller accepts; a longer
// message fails with ErrTransferFailed and stays queued.
func (s *Service) Receive(ctx context.Context, id string, capacity int) (payload []byte, r Receipt, err error) {
	ctx, span := s.start(ctx, OpReceive, id)
	defer s.finish(span, OpReceive, time.Now(), &err)

	if capacity < 0 {
		return nil, Receipt{}, fmt.Errorf("%w: negative capacity %d", ErrTransferFailed, capacity)
	}
	if max := s.registry.MaxMessageSize(); capacity > max {
		capacity = max
	}

	q, err := s.registry.Find(id)
	if err != nil {
		return nil, Receipt{}, err
	}

	ctx, cancel := withDefaultTimeout(ctx, s.cfg.ReceiveTimeout)
	defer cancel()

	dst := make([]byte, capacity)
	n, r, err := q.Receive(ctx, dst)
	if err != nil {
		s.logger.Debug("receive failed",
			slog.String("queue_id", id),
			slog.String("reason", Reason(err)))
		return nil, Receipt{}, err
	}

	span.SetAttributes(
		attribute.String("message.id", r.MessageID),
		attribute.Int("message.size", n))
	s.notify(ctx, events.MessageReceived{Queue: id, MessageID: r.MessageID, PayloadSize: n})
	s.logger.Debug("message received",
		slog.String("queue_id", id),
		slog.String("message_id", r.MessageID),
		slog.Int("size", n))
	return dst[:n], r, nil
}

// Ack acknowledges the message last received on queue id, releasing its
// sender.
func (s *Service) Ack(ctx context.Context, id string) (r Receipt, err error) {
	ctx, span := s.start(ctx, OpAck, id)
	defer s.finish(span, OpAck, time.Now(), &err)

	q, err := s.registry.Find(id)
	if err != nil {
		return Receipt{}, err
	}

	r, err = q.Ack()
	if err != nil {
		return Receipt{}, err
	}

	span.SetAttributes(attribute.String("message.id", r.MessageID))
	s.notify(ctx, events.MessageAcked{Queue: id, MessageID: r.MessageID})
	s.logger.Debug("message ack",
		slog.String("queue_id", id),
		slog.String("message_id", r.MessageID))
	return r, nil
}

// Release returns a received but unacknowledged message to queue id for
// redelivery. Consumers that go away before acking use it.
func (s *Service) Release(ctx context.Context, id, messageID string) (r Receipt, err error) {
	ctx, span := s.start(ctx, OpRelease, id)
	defer s.finish(span, OpRelease, time.Now(), &err)

	q, err := s.registry.Find(id)
	if err != nil {
		return Receipt{}, err
	}

	r, err = q.Release(messageID)
	if err != nil {
		return Receipt{}, err
	}

	span.SetAttributes(attribute.String("message.id", r.MessageID))
	s.logger.Debug("message released",
		slog.String("queue_id", id),
		slog.String("message_id", r.MessageID))
	return r, nil
}

// List returns a snapshot of every queue sorted by identifier.
func (s *Service) List(ctx context.Context) []Info {
	return s.registry.List()
}

// Close tears down the registry. Blocked callers return ErrClosed.
func (s *Service) Close() {
	s.registry.Close()
	s.logger.Info("queue service stopped")
}

func (s *Service) start(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "queue."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("queue.id", id)))
}

func (s *Service) finish(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
	}
	span.End()
	s.cfg.Metrics.RecordOperation(op, time.Since(start), err)
}

func (s *Service) notify(ctx context.Context, ev events.Event) {
	if s.cfg.Notifier == nil {
		return
	}
	if err := s.cfg.Notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("event notification failed",
			slog.String("event_type", ev.Type()),
			slog.String("queue_id", ev.QueueID()),
			slog.String("error", err.Error()))
	}
}

// withDefaultTimeout applies d unless d is zero or ctx already carries a
// deadline.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, time.Duration, error) {}
func (noopMetrics) RecordRoundTrip(int, time.Duration)           {}
func (noopMetrics) RecordQueueCreated()                          {}
func (noopMetrics) RecordQueueDeleted()                          {}
