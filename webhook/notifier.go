// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/syncmq/config"
	"github.com/absmach/syncmq/events"
	"github.com/absmach/syncmq/queue"
	"github.com/sony/gobreaker"
)

var _ queue.Notifier = (*Notifier)(nil)

// Notifier fans queue events out to configured endpoints through a bounded
// job queue and a worker pool. Each endpoint has its own circuit breaker.
type Notifier struct {
	cfg       config.WebhookConfig
	nodeID    string
	endpoints []endpoint
	jobs      chan job
	breakers  map[string]*gobreaker.CircuitBreaker
	sender    Sender
	logger    *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	queued    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

type endpoint struct {
	name         string
	url          string
	eventFilters map[string]bool
	queueFilters []string
	headers      map[string]string
	timeout      time.Duration
	retry        config.RetryConfig
}

type job struct {
	event    events.Event
	endpoint endpoint
	attempt  int
}

// NewNotifier creates a notifier and starts its workers.
func NewNotifier(cfg config.WebhookConfig, nodeID string, sender Sender, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	endpoints := make([]endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		filters := make(map[string]bool, len(ep.Events))
		for _, t := range ep.Events {
			filters[t] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}
		retry := cfg.Defaults.Retry
		if ep.Retry != nil {
			retry = *ep.Retry
		}

		endpoints = append(endpoints, endpoint{
			name:         ep.Name,
			url:          ep.URL,
			eventFilters: filters,
			queueFilters: ep.QueueFilters,
			headers:      ep.Headers,
			timeout:      timeout,
			retry:        retry,
		})
	}

	threshold := uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:       cfg,
		nodeID:    nodeID,
		endpoints: endpoints,
		jobs:      make(chan job, cfg.QueueSize),
		breakers:  breakers,
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

// Notify queues ev for every matching endpoint. It never blocks: when the
// job queue is full the configured drop policy decides which job is lost.
func (n *Notifier) Notify(ctx context.Context, ev events.Event) error {
	if n.ctx.Err() != nil {
		return fmt.Errorf("webhook notifier closed")
	}
	if sent, ok := ev.(events.MessageSent); ok && !n.cfg.IncludePayload {
		sent.Payload = nil
		ev = sent
	}

	for _, ep := range n.endpoints {
		if !ep.matches(ev) {
			continue
		}
		n.enqueue(job{event: ev, endpoint: ep})
	}

	return nil
}

func (n *Notifier) enqueue(j job) {
	select {
	case n.jobs <- j:
		n.queued.Add(1)
		return
	default:
	}

	if n.cfg.DropPolicy == "oldest" {
		select {
		case <-n.jobs:
			n.dropped.Add(1)
		default:
		}
		select {
		case n.jobs <- j:
			n.queued.Add(1)
			return
		default:
		}
	}

	n.dropped.Add(1)
	n.logger.Error("webhook queue full, event dropped",
		slog.String("event_type", j.event.Type()),
		slog.String("queue_id", j.event.QueueID()),
		slog.String("endpoint", j.endpoint.name))
}

func (ep endpoint) matches(ev events.Event) bool {
	if len(ep.eventFilters) > 0 && !ep.eventFilters[ev.Type()] {
		return false
	}
	if len(ep.queueFilters) == 0 {
		return true
	}
	for _, f := range ep.queueFilters {
		if queueMatches(f, ev.QueueID()) {
			return true
		}
	}
	return false
}

// queueMatches matches a queue id against a filter. A trailing "*" matches
// any suffix; "*" alone matches every queue.
func queueMatches(filter, id string) bool {
	if prefix, ok := strings.CutSuffix(filter, "*"); ok {
		return strings.HasPrefix(id, prefix)
	}
	return filter == id
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case j := <-n.jobs:
			n.process(j)
		}
	}
}

func (n *Notifier) process(j job) {
	breaker := n.breakers[j.endpoint.name]

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, n.deliver(j)
	})
	if err == nil {
		n.delivered.Add(1)
		return
	}

	if j.attempt >= j.endpoint.retry.MaxAttempts-1 {
		n.failed.Add(1)
		n.logger.Error("webhook delivery failed after max retries",
			slog.String("endpoint", j.endpoint.name),
			slog.String("event_type", j.event.Type()),
			slog.Int("attempts", j.attempt+1),
			slog.String("error", err.Error()))
		return
	}

	j.attempt++
	delay := retryDelay(j.attempt, j.endpoint.retry)
	n.logger.Debug("webhook delivery failed, retrying",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()),
		slog.Int("attempt", j.attempt),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()))

	time.AfterFunc(delay, func() {
		if n.ctx.Err() != nil {
			return
		}
		select {
		case n.jobs <- j:
		default:
			n.dropped.Add(1)
			n.logger.Error("failed to requeue event for retry",
				slog.String("endpoint", j.endpoint.name),
				slog.String("event_type", j.event.Type()))
		}
	})
}

func (n *Notifier) deliver(j job) error {
	payload, err := json.Marshal(j.event.Wrap(n.nodeID))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(n.ctx, j.endpoint.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, j.endpoint.url, j.endpoint.headers, payload, j.endpoint.timeout); err != nil {
		return err
	}

	n.logger.Debug("webhook delivered",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()),
		slog.String("queue_id", j.event.QueueID()))
	return nil
}

// retryDelay is exponential backoff capped at MaxInterval.
func retryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	delay := float64(cfg.InitialInterval) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Stats returns delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Queued:    n.queued.Load(),
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// Close stops the workers, waiting up to the configured shutdown timeout
// for in-flight deliveries.
func (n *Notifier) Close() error {
	n.logger.Info("shutting down webhook notifier")
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	timeout := n.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-done:
		n.logger.Info("webhook notifier stopped gracefully")
	case <-time.After(timeout):
		n.logger.Warn("webhook notifier shutdown timeout, some events may be lost",
			slog.Int("queue_depth", len(n.jobs)))
	}

	return nil
}
