package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records dispatch and heartbeat metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one processed event with its strategy,
	// latency, and error status.
	RecordDispatch(ctx context.Context, eventName, strategy string, latency time.Duration, err error)

	// RecordQueueDepth records the combined queue depth after an enqueue.
	RecordQueueDepth(ctx context.Context, depth int64)

	// RecordAccessDenied records a scope-gated emit that was dropped.
	RecordAccessDenied(ctx context.Context, eventName string)

	// RecordBeat records one heartbeat fire with its observed drift.
	RecordBeat(ctx context.Context, drift time.Duration, hz float64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatched      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	handlerErrors   metric.Int64Counter
	queueDepth      metric.Int64Histogram
	accessDenied    metric.Int64Counter
	heartbeatDrift  metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("pulse")

	dispatched, err := meter.Int64Counter("pulse.events.dispatched",
		metric.WithDescription("Number of events processed by the drain loop"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("pulse.dispatch.latency_ms",
		metric.WithDescription("Per-event processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("pulse.handler.errors",
		metric.WithDescription("Number of handler failures caught at the per-event boundary"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Histogram("pulse.queue.depth",
		metric.WithDescription("Combined priority queue depth sampled at enqueue"),
	)
	if err != nil {
		return nil, err
	}

	accessDenied, err := meter.Int64Counter("pulse.access.denied",
		metric.WithDescription("Number of emits dropped by the scope gate"),
	)
	if err != nil {
		return nil, err
	}

	heartbeatDrift, err := meter.Float64Histogram("pulse.heartbeat.drift_ms",
		metric.WithDescription("Observed heartbeat scheduling drift in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatched:      dispatched,
		dispatchLatency: dispatchLatency,
		handlerErrors:   handlerErrors,
		queueDepth:      queueDepth,
		accessDenied:    accessDenied,
		heartbeatDrift:  heartbeatDrift,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records one processed event.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventName, strategy string, latency time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_name", eventName),
		attribute.String("strategy", strategy),
	}

	m.dispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchLatency.Record(ctx, float64(latency.Microseconds())/1000.0, metric.WithAttributes(attrs...))

	if err != nil {
		m.handlerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordQueueDepth records the combined queue depth.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int64) {
	m.queueDepth.Record(ctx, depth)
}

// RecordAccessDenied records a dropped emit.
func (m *otelMetrics) RecordAccessDenied(ctx context.Context, eventName string) {
	m.accessDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", eventName),
	))
}

// RecordBeat records one heartbeat fire.
func (m *otelMetrics) RecordBeat(ctx context.Context, drift time.Duration, hz float64) {
	m.heartbeatDrift.Record(ctx, float64(drift.Microseconds())/1000.0, metric.WithAttributes(
		attribute.Float64("hz", hz),
	))
}
