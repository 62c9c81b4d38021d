package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateChannel is returned when a channel ID is registered twice.
var ErrDuplicateChannel = errors.New("channel already registered")

// ChannelHandler processes an envelope on a registered channel.
type ChannelHandler func(ctx context.Context, env *Envelope) error

// ChannelStats is a snapshot of one channel's health.
type ChannelStats struct {
	ID        string  `json:"id"`
	Available bool    `json:"available"`
	Load      float64 `json:"load"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
}

// BalancerStats is a snapshot of the load balancer.
type BalancerStats struct {
	Channels  []ChannelStats `json:"channels"`
	Fallbacks int64          `json:"fallbacks"`
}

type channel struct {
	id        string
	handler   ChannelHandler
	available bool
	load      float64
	successes int64
	failures  int64
}

// recompute derives load from the error ratio. Load is deliberately not a
// throughput or queue-depth measure: the balancer steers traffic away from
// recently-failing channels rather than scheduling for capacity.
func (c *channel) recompute() {
	total := c.successes + c.failures
	if total == 0 {
		c.load = 0
		return
	}
	c.load = float64(c.failures) / float64(total)
}

// Balancer distributes envelopes across registered channels, preferring
// the least-loaded available channel and falling back to inline processing
// when every channel is saturated.
type Balancer struct {
	mu        sync.Mutex
	channels  []*channel // stable registration order, used for tie-breaks
	byID      map[string]*channel
	threshold float64
	fallback  func(ctx context.Context, env *Envelope) error
	fallbacks int64
}

// newBalancer creates a balancer. fallback handles envelopes inline when
// no channel is eligible; it must not be nil.
func newBalancer(threshold float64, fallback func(ctx context.Context, env *Envelope) error) *Balancer {
	return &Balancer{
		byID:      make(map[string]*channel),
		threshold: threshold,
		fallback:  fallback,
	}
}

// RegisterChannel adds a processing channel with available=true and zero
// load. Channel IDs must be unique.
func (b *Balancer) RegisterChannel(id string, handler ChannelHandler) error {
	if id == "" {
		return errors.New("channel ID is required")
	}
	if handler == nil {
		return errors.New("channel handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, id)
	}

	ch := &channel{id: id, handler: handler, available: true}
	b.channels = append(b.channels, ch)
	b.byID[id] = ch
	return nil
}

// SetAvailable marks a channel in or out of rotation. Returns false when
// the channel is unknown.
func (b *Balancer) SetAvailable(id string, available bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.byID[id]
	if !ok {
		return false
	}
	ch.available = available
	return true
}

// Distribute selects the channel with the lowest load among those that are
// available and under the load threshold, ties broken by registration
// order, and invokes its handler. When no channel qualifies the envelope
// is processed inline through the fallback; this is a documented degraded
// path, not an error. Handler failures are returned to the caller's
// per-event error boundary.
func (b *Balancer) Distribute(ctx context.Context, env *Envelope) error {
	b.mu.Lock()
	var selected *channel
	for _, ch := range b.channels {
		if !ch.available || ch.load >= b.threshold {
			continue
		}
		if selected == nil || ch.load < selected.load {
			selected = ch
		}
	}
	if selected == nil {
		b.fallbacks++
		fallback := b.fallback
		b.mu.Unlock()
		return fallback(ctx, env)
	}
	handler := selected.handler
	b.mu.Unlock()

	err := safeChannelInvoke(ctx, handler, env)

	b.mu.Lock()
	if err != nil {
		selected.failures++
	} else {
		selected.successes++
	}
	selected.recompute()
	b.mu.Unlock()

	return err
}

// safeChannelInvoke converts a handler panic into an error so a bad
// channel cannot abort the drain loop.
func safeChannelInvoke(ctx context.Context, handler ChannelHandler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	return handler(ctx, env)
}

// Stats returns a snapshot of every channel plus the fallback total.
func (b *Balancer) Stats() BalancerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BalancerStats{
		Channels:  make([]ChannelStats, 0, len(b.channels)),
		Fallbacks: b.fallbacks,
	}
	for _, ch := range b.channels {
		stats.Channels = append(stats.Channels, ChannelStats{
			ID:        ch.id,
			Available: ch.available,
			Load:      ch.load,
			Successes: ch.successes,
			Failures:  ch.failures,
		})
	}
	return stats
}
