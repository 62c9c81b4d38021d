package pulse

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/pulse/pkg/pulse/audit"
	"github.com/randalmurphal/pulse/pkg/pulse/broker"
	pulseerrors "github.com/randalmurphal/pulse/pkg/pulse/errors"
	"github.com/randalmurphal/pulse/pkg/pulse/observability"
)

// Handler processes a delivered payload. Handlers for direct-routed
// events run synchronously in the drain loop; a slow handler blocks the
// loop for the duration of its call. Route slow work through a
// high-volume (distributed) classification instead.
type Handler func(ctx context.Context, payload any) error

// emaAlpha is the smoothing factor for the rolling average latency.
const emaAlpha = 0.1

// MetricsSnapshot is the aggregate view returned by Metrics.
type MetricsSnapshot struct {
	TotalProcessed int64          `json:"total_processed"`
	AverageLatency time.Duration  `json:"average_latency"`
	QueueSizes     QueueSizes     `json:"queue_sizes"`
	LoadBalancer   BalancerStats  `json:"load_balancer"`
	Router         RouterStats    `json:"router"`
	Monitor        MonitorSummary `json:"monitor"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Dispatcher is a priority-aware event dispatcher. Producers Emit named
// events; a single drain loop delivers them in strict priority order,
// either directly to subscribers or through the load balancer, recording
// latency in the performance monitor.
type Dispatcher struct {
	opts options

	queues   *priorityQueues
	router   *Router
	balancer *Balancer
	monitor  *Monitor

	subMu sync.RWMutex
	subs  map[string][]Handler

	// draining guards the singleton drain loop: at most one active
	// drain goroutine per dispatcher.
	draining atomic.Bool
	drainWG  sync.WaitGroup

	errs chan ProcessingError

	statMu         sync.Mutex
	totalProcessed int64
	emaLatencyMs   float64

	baseCtx  context.Context
	cancel   context.CancelFunc
	pollDone chan struct{}
	closed   atomic.Bool
}

// New creates a dispatcher. Invalid options fail here, at construction;
// nothing at the dispatch layer is fatal after this point.
func New(opts ...Option) (*Dispatcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		opts:     o,
		queues:   newPriorityQueues(),
		router:   NewRouter(o.highVolume),
		subs:     make(map[string][]Handler),
		errs:     make(chan ProcessingError, o.errorBuffer),
		baseCtx:  baseCtx,
		cancel:   cancel,
		pollDone: make(chan struct{}),
	}
	d.balancer = newBalancer(o.loadThreshold, d.deliver)
	d.monitor = NewMonitor(o.latencyThreshold, o.errorRateThreshold, d.handleAlert)

	go d.idlePoll()

	return d, nil
}

// Subscribe registers a handler for an event name. Subscribers are
// invoked in registration order.
func (d *Dispatcher) Subscribe(name string, handler Handler) {
	if name == "" || handler == nil {
		return
	}
	d.subMu.Lock()
	d.subs[name] = append(d.subs[name], handler)
	d.subMu.Unlock()
}

// RegisterChannel adds a processing channel to the load balancer.
func (d *Dispatcher) RegisterChannel(id string, handler ChannelHandler) error {
	return d.balancer.RegisterChannel(id, handler)
}

// SetChannelAvailable marks a balancer channel in or out of rotation.
func (d *Dispatcher) SetChannelAvailable(id string, available bool) bool {
	return d.balancer.SetAvailable(id, available)
}

// SetHighVolumeEvents replaces the router's high-volume classification
// set at runtime.
func (d *Dispatcher) SetHighVolumeEvents(names ...string) {
	d.router.SetHighVolume(names)
}

// Emit queues an event for delivery and reports whether it was accepted.
//
// The scope gate runs first: when the payload declares a required scope
// the caller's context lacks, the event is dropped, an audit record is
// written best-effort, and Emit returns false. Otherwise the envelope is
// pushed onto its priority queue (or forwarded to the broker when one is
// configured) and the drain loop is started if idle.
func (d *Dispatcher) Emit(ctx context.Context, name string, payload any, opts ...EmitOption) bool {
	if d.closed.Load() || name == "" {
		return false
	}

	if required := requiredScope(payload); required != "" && !scopeGranted(ctx, required) {
		d.auditDenied(ctx, name, required)
		return false
	}

	cfg := emitConfig{priority: DefaultPriority}
	for _, opt := range opts {
		opt(&cfg)
	}

	if d.opts.publisher != nil {
		return d.publish(ctx, name, payload, cfg.priority)
	}

	env := newEnvelope(name, payload, cfg.priority)
	d.queues.push(env)
	d.opts.metrics.RecordQueueDepth(ctx, int64(d.queues.sizes().Total()))
	d.startDrain()
	return true
}

// publish forwards the event to the external broker bridge, bypassing the
// internal queues entirely. Transient broker failures are retried.
func (d *Dispatcher) publish(ctx context.Context, name string, payload any, priority Priority) bool {
	msg := broker.Message{Name: name, Payload: payload, Priority: priority.String()}
	result := pulseerrors.WithRetryContext(ctx, pulseerrors.DefaultRetry,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, d.opts.publisher.Publish(ctx, msg)
		})
	if result.Err != nil {
		observability.LogHandlerError(d.opts.logger, name, result.Err)
		return false
	}
	return true
}

// auditDenied records a scope-gate drop. The write is fire-and-forget:
// it runs on its own goroutine with a bounded deadline and a failure is
// logged, never propagated.
func (d *Dispatcher) auditDenied(ctx context.Context, name, required string) {
	observability.LogAccessDenied(d.opts.logger, name, ActorFrom(ctx), required)
	d.opts.metrics.RecordAccessDenied(ctx, name)

	if d.opts.auditSink == nil {
		return
	}

	rec := audit.Record{
		EventName:     name,
		ActorID:       ActorFrom(ctx),
		RequiredScope: required,
		GrantedScopes: ScopesFrom(ctx),
		DroppedAt:     time.Now(),
	}
	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := d.opts.auditSink.Write(wctx, rec); err != nil {
			observability.LogAuditError(d.opts.logger, name, err)
		}
	}()
}

// startDrain launches the drain goroutine if one is not already active.
func (d *Dispatcher) startDrain() {
	if d.closed.Load() {
		return
	}
	if d.draining.CompareAndSwap(false, true) {
		d.drainWG.Add(1)
		go d.drain()
	}
}

// drain pops the highest-priority pending envelope until all queues are
// empty, then exits. The next Emit (or the idle poll) restarts it.
func (d *Dispatcher) drain() {
	defer d.drainWG.Done()

	for {
		env, ok := d.queues.pop()
		if !ok {
			d.draining.Store(false)
			// A producer may have pushed between the failed pop and the
			// store above; reclaim the loop if work remains and nobody
			// else has.
			if d.queues.empty() || !d.draining.CompareAndSwap(false, true) {
				return
			}
			continue
		}

		d.process(env)

		if d.baseCtx.Err() != nil {
			d.draining.Store(false)
			return
		}
	}
}

// process delivers one envelope and records its outcome. Handler failures
// are contained here; they never abort the loop.
func (d *Dispatcher) process(env *Envelope) {
	ctx, span := d.opts.spans.StartDispatchSpan(d.baseCtx, env.Name, env.ID, env.Priority.String())
	start := time.Now()

	strategy := d.router.SelectStrategy(env)

	var err error
	if strategy == StrategyDistributed {
		err = d.balancer.Distribute(ctx, env)
	} else {
		err = d.deliver(ctx, env)
	}

	latency := time.Since(start)
	d.monitor.Record(env.Name, latency, err != nil)
	d.opts.metrics.RecordDispatch(ctx, env.Name, strategy.String(), latency, err)
	d.opts.spans.EndSpanWithError(span, err)
	d.recordProcessed(latency)

	if err != nil {
		observability.LogHandlerError(d.opts.logger, env.Name, err)
		select {
		case d.errs <- ProcessingError{EventID: env.ID, EventName: env.Name, Err: err, At: time.Now()}:
		default:
			// Error channel full; the failure is already logged.
		}
		return
	}

	observability.LogEventProcessed(d.opts.logger, env.Name, strategy.String(),
		float64(latency.Microseconds())/1000.0)
}

// deliver fans the envelope out to every subscriber of its name,
// synchronously and in registration order. One subscriber failing does
// not stop the others; failures are joined into a single error.
func (d *Dispatcher) deliver(ctx context.Context, env *Envelope) error {
	d.subMu.RLock()
	handlers := slices.Clone(d.subs[env.Name])
	d.subMu.RUnlock()

	var failures []error
	for _, handler := range handlers {
		hctx, span := d.opts.spans.StartHandlerSpan(ctx, env.Name)
		err := safeInvoke(hctx, handler, env.Payload)
		d.opts.spans.EndSpanWithError(span, err)
		if err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// safeInvoke converts a subscriber panic into an error so it is contained
// at the per-event boundary like any other handler failure.
func safeInvoke(ctx context.Context, handler Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// recordProcessed updates cumulative processing statistics.
func (d *Dispatcher) recordProcessed(latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000.0

	d.statMu.Lock()
	d.totalProcessed++
	if d.totalProcessed == 1 {
		d.emaLatencyMs = ms
	} else {
		d.emaLatencyMs = emaAlpha*ms + (1-emaAlpha)*d.emaLatencyMs
	}
	d.statMu.Unlock()
}

// handleAlert logs a monitor alert and forwards it to the configured
// callback. Alerts never alter control flow.
func (d *Dispatcher) handleAlert(a Alert) {
	observability.LogAlert(d.opts.logger, a.EventName, a.Kind.String(), a.Value, a.Threshold)
	if d.opts.onAlert != nil {
		d.opts.onAlert(a)
	}
}

// idlePoll re-checks the queues at a bounded interval while the drain
// loop is idle, defending against a missed wake-up.
func (d *Dispatcher) idlePoll() {
	defer close(d.pollDone)

	ticker := time.NewTicker(d.opts.idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-d.baseCtx.Done():
			return
		case <-ticker.C:
			if !d.queues.empty() {
				d.startDrain()
			}
		}
	}
}

// Errors returns the channel carrying structured processing errors.
// When nobody receives and the buffer fills, further errors are dropped
// after logging; the drain loop never blocks on this channel.
func (d *Dispatcher) Errors() <-chan ProcessingError {
	return d.errs
}

// Metrics returns a snapshot of dispatcher statistics.
func (d *Dispatcher) Metrics() MetricsSnapshot {
	d.statMu.Lock()
	total := d.totalProcessed
	avg := time.Duration(d.emaLatencyMs * float64(time.Millisecond))
	d.statMu.Unlock()

	return MetricsSnapshot{
		TotalProcessed: total,
		AverageLatency: avg,
		QueueSizes:     d.queues.sizes(),
		LoadBalancer:   d.balancer.Stats(),
		Router:         d.router.Stats(),
		Monitor:        d.monitor.Summary(),
		Timestamp:      time.Now(),
	}
}

// Monitor exposes the performance monitor for per-name queries.
func (d *Dispatcher) Monitor() *Monitor {
	return d.monitor
}

// ClearQueues empties all four priority queues and thereby resets the
// queue-size statistics. Administrative and test use only; this is not a
// backpressure mechanism.
func (d *Dispatcher) ClearQueues() {
	d.queues.clear()
}

// Close stops the dispatcher: the idle poll exits, the drain loop stops
// after the event in flight, and further emits return false. Queued,
// unprocessed envelopes are discarded; the dispatcher does not persist
// events across restarts.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	<-d.pollDone
	d.drainWG.Wait()
	return nil
}
