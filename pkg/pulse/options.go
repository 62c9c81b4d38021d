package pulse

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/pulse/pkg/pulse/audit"
	"github.com/randalmurphal/pulse/pkg/pulse/broker"
	"github.com/randalmurphal/pulse/pkg/pulse/config"
	"github.com/randalmurphal/pulse/pkg/pulse/observability"
)

// Option configures a Dispatcher at construction. All configuration is
// explicit; nothing is read from environment variables or other ambient
// process state.
type Option func(*options)

type options struct {
	highVolume         []string
	latencyThreshold   time.Duration
	errorRateThreshold float64
	loadThreshold      float64
	idlePoll           time.Duration
	errorBuffer        int

	auditSink audit.Sink
	publisher broker.Publisher

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	onAlert func(Alert)
}

func defaultOptions() options {
	return options{
		latencyThreshold:   100 * time.Millisecond,
		errorRateThreshold: 0.05,
		loadThreshold:      0.8,
		idlePoll:           10 * time.Millisecond,
		errorBuffer:        64,
		metrics:            observability.NoopMetrics{},
		spans:              observability.NoopSpanManager{},
	}
}

// validate fails fast on misconfiguration; this is the only point where
// later silent misbehavior cannot be safely recovered.
func (o options) validate() error {
	if o.latencyThreshold <= 0 {
		return fmt.Errorf("latency alert threshold must be positive, got %v", o.latencyThreshold)
	}
	if o.errorRateThreshold <= 0 || o.errorRateThreshold > 1 {
		return fmt.Errorf("error rate alert threshold must be in (0, 1], got %v", o.errorRateThreshold)
	}
	if o.loadThreshold <= 0 || o.loadThreshold > 1 {
		return fmt.Errorf("load threshold must be in (0, 1], got %v", o.loadThreshold)
	}
	if o.idlePoll <= 0 {
		return fmt.Errorf("idle poll interval must be positive, got %v", o.idlePoll)
	}
	if o.errorBuffer <= 0 {
		return fmt.Errorf("error buffer must be positive, got %d", o.errorBuffer)
	}
	return nil
}

// WithHighVolumeEvents sets the event names the router classifies as
// distributed.
func WithHighVolumeEvents(names ...string) Option {
	return func(o *options) {
		o.highVolume = names
	}
}

// WithAlertThresholds sets the performance monitor's alert limits:
// per-name average latency and per-name error ratio.
func WithAlertThresholds(latency time.Duration, errorRate float64) Option {
	return func(o *options) {
		o.latencyThreshold = latency
		o.errorRateThreshold = errorRate
	}
}

// WithLoadThreshold sets the load above which the balancer takes a channel
// out of consideration (default 0.8).
func WithLoadThreshold(threshold float64) Option {
	return func(o *options) {
		o.loadThreshold = threshold
	}
}

// WithIdlePollInterval sets the bounded interval at which an idle
// dispatcher re-checks its queues, defending against a missed wake-up
// (default 10ms).
func WithIdlePollInterval(d time.Duration) Option {
	return func(o *options) {
		o.idlePoll = d
	}
}

// WithErrorBuffer sets the capacity of the Errors() channel (default 64).
// When the buffer is full, further processing errors are logged and
// dropped rather than blocking the drain loop.
func WithErrorBuffer(n int) Option {
	return func(o *options) {
		o.errorBuffer = n
	}
}

// WithAuditSink sets the collaborator that receives records for
// access-denied emits. Writes are best-effort; sink failures are logged,
// never propagated.
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) {
		o.auditSink = sink
	}
}

// WithBroker routes all emits to an external broker instead of the
// internal priority queues. The two modes are mutually exclusive and
// selected here, not per-event.
func WithBroker(pub broker.Publisher) Option {
	return func(o *options) {
		o.publisher = pub
	}
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder (default no-op).
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the trace span manager (default no-op).
func WithSpans(s observability.SpanManager) Option {
	return func(o *options) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithAlertFunc sets a callback invoked for each performance alert, after
// the alert has been logged.
func WithAlertFunc(fn func(Alert)) Option {
	return func(o *options) {
		o.onAlert = fn
	}
}

// FromConfig maps recognized configuration keys onto dispatcher options.
//
// Recognized keys: high_volume_events ([]string), alert_latency
// (duration, ms when numeric), alert_error_rate (float), load_threshold
// (float), idle_poll (duration), error_buffer (int). Unknown keys are
// ignored; validation still happens at construction.
func FromConfig(cfg config.Config) []Option {
	var opts []Option

	if cfg.Has("high_volume_events") {
		opts = append(opts, WithHighVolumeEvents(cfg.StringSlice("high_volume_events", nil)...))
	}
	if cfg.Has("alert_latency") || cfg.Has("alert_error_rate") {
		opts = append(opts, WithAlertThresholds(
			cfg.Duration("alert_latency", 100*time.Millisecond),
			cfg.Float("alert_error_rate", 0.05),
		))
	}
	if cfg.Has("load_threshold") {
		opts = append(opts, WithLoadThreshold(cfg.Float("load_threshold", 0.8)))
	}
	if cfg.Has("idle_poll") {
		opts = append(opts, WithIdlePollInterval(cfg.Duration("idle_poll", 10*time.Millisecond)))
	}
	if cfg.Has("error_buffer") {
		opts = append(opts, WithErrorBuffer(cfg.Int("error_buffer", 64)))
	}

	return opts
}
