package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters and histograms recorded around every
// dispatch. Construct once per process and pass into the dispatcher.
type Metrics struct {
	DispatchCount    metric.Int64Counter
	DispatchErrors   metric.Int64Counter
	DispatchDuration metric.Float64Histogram
	ActiveSubs       metric.Int64UpDownCounter
}

// NewMetrics creates the instrument set on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	dispatchCount, err := meter.Int64Counter("appcd.dispatch.count",
		metric.WithDescription("Number of Dispatch calls completed"))
	if err != nil {
		return nil, err
	}
	dispatchErrors, err := meter.Int64Counter("appcd.dispatch.errors",
		metric.WithDescription("Number of Dispatch calls that ended in an error"))
	if err != nil {
		return nil, err
	}
	dispatchDuration, err := meter.Float64Histogram("appcd.dispatch.duration_ms",
		metric.WithDescription("Dispatch call latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	activeSubs, err := meter.Int64UpDownCounter("appcd.subscriptions.active",
		metric.WithDescription("Currently open subscriptions"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		DispatchCount:    dispatchCount,
		DispatchErrors:   dispatchErrors,
		DispatchDuration: dispatchDuration,
		ActiveSubs:       activeSubs,
	}, nil
}

// RecordDispatch records one completed dispatch with the given path
// and type attached as attributes.
func (m *Metrics) RecordDispatch(ctx context.Context, path, msgType string, durationMs float64, failed bool) {
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("type", msgType),
	)
	m.DispatchCount.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, durationMs, attrs)
	if failed {
		m.DispatchErrors.Add(ctx, 1, attrs)
	}
}

// SubscriptionOpened increments the active subscription gauge.
func (m *Metrics) SubscriptionOpened(ctx context.Context) {
	m.ActiveSubs.Add(ctx, 1)
}

// SubscriptionClosed decrements the active subscription gauge.
func (m *Metrics) SubscriptionClosed(ctx context.Context) {
	m.ActiveSubs.Add(ctx, -1)
}
