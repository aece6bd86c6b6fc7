// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/syncmq/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "syncmq"

var _ queue.Metrics = (*Metrics)(nil)

// Metrics holds OpenTelemetry instruments for queue operations.
type Metrics struct {
	// Counters
	operationsTotal metric.Int64Counter
	errorsTotal     metric.Int64Counter
	bytesSent       metric.Int64Counter
	rateLimited     metric.Int64Counter

	// UpDownCounters (Gauges)
	queuesActive metric.Int64UpDownCounter

	// Histograms
	messageSize       metric.Int64Histogram
	operationDuration metric.Float64Histogram
	roundTripDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global meter
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.operationsTotal, err = meter.Int64Counter(
		"syncmq.operations.total",
		metric.WithDescription("Queue operations by operation and result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operationsTotal counter: %w", err)
	}

	if m.errorsTotal, err = meter.Int64Counter(
		"syncmq.errors.total",
		metric.WithDescription("Failed queue operations by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	if m.bytesSent, err = meter.Int64Counter(
		"syncmq.bytes.sent.total",
		metric.WithDescription("Payload bytes delivered and acknowledged"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bytesSent counter: %w", err)
	}

	if m.rateLimited, err = meter.Int64Counter(
		"syncmq.ratelimit.rejected.total",
		metric.WithDescription("Requests rejected by rate limiting"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rateLimited counter: %w", err)
	}

	if m.queuesActive, err = meter.Int64UpDownCounter(
		"syncmq.queues.active",
		metric.WithDescription("Number of live queues"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queuesActive gauge: %w", err)
	}

	if m.messageSize, err = meter.Int64Histogram(
		"syncmq.message.size.bytes",
		metric.WithDescription("Acknowledged payload size distribution"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	if m.operationDuration, err = meter.Float64Histogram(
		"syncmq.operation.duration.ms",
		metric.WithDescription("Queue operation duration in milliseconds, blocking included"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operationDuration histogram: %w", err)
	}

	if m.roundTripDuration, err = meter.Float64Histogram(
		"syncmq.roundtrip.duration.ms",
		metric.WithDescription("Time from send to acknowledgment in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create roundTripDuration histogram: %w", err)
	}

	return m, nil
}

// RecordOperation counts one queue operation and its duration.
func (m *Metrics) RecordOperation(op string, d time.Duration, err error) {
	ctx := context.Background()
	reason := queue.Reason(err)
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", reason),
	)

	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, ms(d), metric.WithAttributes(attribute.String("operation", op)))
	if err != nil {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("reason", reason),
		))
	}
}

// RecordRoundTrip records a completed send/receive/ack cycle.
func (m *Metrics) RecordRoundTrip(size int, latency time.Duration) {
	ctx := context.Background()
	m.bytesSent.Add(ctx, int64(size))
	m.messageSize.Record(ctx, int64(size))
	m.roundTripDuration.Record(ctx, ms(latency))
}

func (m *Metrics) RecordQueueCreated() {
	m.queuesActive.Add(context.Background(), 1)
}

func (m *Metrics) RecordQueueDeleted() {
	m.queuesActive.Add(context.Background(), -1)
}

// RecordRateLimited counts a rejected request. scope is "send" or "request".
func (m *Metrics) RecordRateLimited(scope string) {
	m.rateLimited.Add(context.Background(), 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
