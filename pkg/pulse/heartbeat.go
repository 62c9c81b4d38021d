package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/pulse/pkg/pulse/config"
	"github.com/randalmurphal/pulse/pkg/pulse/observability"
)

// Beat is the signal emitted on every heartbeat fire.
type Beat struct {
	// Drift is how late (positive) or early (negative) this fire was
	// relative to the expected fire time.
	Drift time.Duration

	// Hz is the rate in effect when the beat fired.
	Hz float64

	// At is when the beat fired.
	At time.Time
}

// BeatObserver receives heartbeat signals. Observers run in the timer
// goroutine; a panicking observer is isolated and never stops the next
// fire from being scheduled.
type BeatObserver func(Beat)

// HeartbeatOption configures a Heartbeat at construction.
type HeartbeatOption func(*heartbeatOptions)

type heartbeatOptions struct {
	baseHz         float64
	surgeHz        float64
	surgeThreshold float64
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
}

func defaultHeartbeatOptions() heartbeatOptions {
	return heartbeatOptions{
		baseHz:         10,
		surgeHz:        100,
		surgeThreshold: 0.7,
		metrics:        observability.NoopMetrics{},
	}
}

func (o heartbeatOptions) validate() error {
	if o.baseHz <= 0 {
		return fmt.Errorf("base rate must be positive, got %v", o.baseHz)
	}
	if o.surgeHz <= 0 {
		return fmt.Errorf("surge rate must be positive, got %v", o.surgeHz)
	}
	if o.surgeHz < o.baseHz {
		return fmt.Errorf("surge rate %v must not be below base rate %v", o.surgeHz, o.baseHz)
	}
	if o.surgeThreshold <= 0 || o.surgeThreshold >= 1 {
		return fmt.Errorf("surge threshold must be in (0, 1), got %v", o.surgeThreshold)
	}
	return nil
}

// WithBaseHz sets the resting tick rate (default 10).
func WithBaseHz(hz float64) HeartbeatOption {
	return func(o *heartbeatOptions) {
		o.baseHz = hz
	}
}

// WithSurgeHz sets the tick rate used under load (default 100).
func WithSurgeHz(hz float64) HeartbeatOption {
	return func(o *heartbeatOptions) {
		o.surgeHz = hz
	}
}

// WithSurgeThreshold sets the load above which UpdateLoad switches to the
// surge rate (default 0.7).
func WithSurgeThreshold(threshold float64) HeartbeatOption {
	return func(o *heartbeatOptions) {
		o.surgeThreshold = threshold
	}
}

// WithHeartbeatLogger sets the structured logger.
func WithHeartbeatLogger(logger *slog.Logger) HeartbeatOption {
	return func(o *heartbeatOptions) {
		o.logger = logger
	}
}

// WithHeartbeatMetrics sets the metrics recorder (default no-op).
func WithHeartbeatMetrics(m observability.MetricsRecorder) HeartbeatOption {
	return func(o *heartbeatOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Heartbeat is an independent periodic scheduler with drift compensation
// and a load-adaptive rate.
//
// While running, exactly one timer is pending. Each fire measures its
// drift against the expected fire time, emits a Beat, advances the
// expected time by exactly one period (drift is absorbed into the next
// scheduling delay, not into the baseline, so long-run phase error does
// not accumulate), and re-arms only if still running.
//
// Rate and beat history survive Stop/Start cycles.
type Heartbeat struct {
	opts heartbeatOptions

	mu           sync.Mutex
	running      bool
	surging      bool
	currentHz    float64
	expectedNext time.Time
	timer        *time.Timer
	observers    []BeatObserver
	beats        uint64
}

// NewHeartbeat creates a stopped heartbeat engine. Invalid rates fail
// here, at construction.
func NewHeartbeat(opts ...HeartbeatOption) (*Heartbeat, error) {
	o := defaultHeartbeatOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}

	return &Heartbeat{
		opts:      o,
		currentHz: o.baseHz,
	}, nil
}

// OnBeat registers an observer for heartbeat signals.
func (h *Heartbeat) OnBeat(fn BeatObserver) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

// period returns the tick interval for the current rate.
// Callers must hold h.mu.
func (h *Heartbeat) periodLocked() time.Duration {
	return time.Duration(float64(time.Second) / h.currentHz)
}

// Start transitions Stopped -> Running and arms the first timer.
// Calling Start while running is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true

	period := h.periodLocked()
	h.expectedNext = time.Now().Add(period)
	h.timer = time.AfterFunc(period, h.fire)

	observability.LogHeartbeatStarted(h.opts.logger, h.currentHz)
}

// Stop cancels the pending timer and transitions to Stopped. An in-flight
// tick is not aborted, but the running check at fire time guarantees it
// will not re-arm. Calling Stop while stopped is a no-op. Rate and beat
// history are preserved.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}

	observability.LogHeartbeatStopped(h.opts.logger, h.beats)
}

// fire handles one tick: measure drift, emit the beat, advance the
// expected-time baseline by one fixed period, and re-arm with the drift
// subtracted from the next delay.
func (h *Heartbeat) fire() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}

	now := time.Now()
	drift := now.Sub(h.expectedNext)
	period := h.periodLocked()
	h.expectedNext = h.expectedNext.Add(period)
	h.beats++
	hz := h.currentHz
	observers := slices.Clone(h.observers)
	h.mu.Unlock()

	beat := Beat{Drift: drift, Hz: hz, At: now}
	h.opts.metrics.RecordBeat(context.Background(), drift, hz)
	for _, fn := range observers {
		notifyObserver(fn, beat)
	}

	h.mu.Lock()
	// Re-arm only if still running: Stop during an observer reliably
	// prevents any further fire.
	if h.running {
		delay := period - drift
		if delay < 0 {
			delay = 0
		}
		h.timer = time.AfterFunc(delay, h.fire)
	}
	h.mu.Unlock()
}

// notifyObserver isolates observer panics from the tick handler.
func notifyObserver(fn BeatObserver, beat Beat) {
	defer func() {
		_ = recover()
	}()
	fn(beat)
}

// SetSurge switches the rate between the surge and base frequencies. The
// already-pending timer is not cancelled or rescheduled; the new rate
// takes effect from the next scheduling decision.
func (h *Heartbeat) SetSurge(surging bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.surging == surging {
		return
	}
	h.surging = surging
	if surging {
		h.currentHz = h.opts.surgeHz
	} else {
		h.currentHz = h.opts.baseHz
	}

	observability.LogSurgeChanged(h.opts.logger, surging, h.currentHz)
}

// UpdateLoad feeds processing pressure into rate selection: loads above
// the surge threshold switch to the surge rate, loads at or below it
// switch back to base.
func (h *Heartbeat) UpdateLoad(load float64) {
	h.SetSurge(load > h.opts.surgeThreshold)
}

// Hz returns the rate currently in effect.
func (h *Heartbeat) Hz() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentHz
}

// Running reports whether the engine is between Start and Stop.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Beats returns the total number of fires across all start/stop cycles.
func (h *Heartbeat) Beats() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

// HeartbeatFromConfig maps recognized configuration keys onto heartbeat
// options: base_hz, surge_hz, surge_threshold. Unknown keys are ignored;
// validation still happens at construction.
func HeartbeatFromConfig(cfg config.Config) []HeartbeatOption {
	var opts []HeartbeatOption
	if cfg.Has("base_hz") {
		opts = append(opts, WithBaseHz(cfg.Float("base_hz", 10)))
	}
	if cfg.Has("surge_hz") {
		opts = append(opts, WithSurgeHz(cfg.Float("surge_hz", 100)))
	}
	if cfg.Has("surge_threshold") {
		opts = append(opts, WithSurgeThreshold(cfg.Float("surge_threshold", 0.7)))
	}
	return opts
}
