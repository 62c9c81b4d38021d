package pulse

import (
	"sync"
	"sync/atomic"
)

// Strategy classifies how an envelope is delivered.
type Strategy int

const (
	// StrategyDirect invokes subscribers synchronously in the drain loop.
	StrategyDirect Strategy = iota

	// StrategyDistributed hands the envelope to the load balancer.
	StrategyDistributed
)

// String returns the strategy name.
func (s Strategy) String() string {
	if s == StrategyDistributed {
		return "distributed"
	}
	return "direct"
}

// RouterStats counts routing decisions by strategy.
type RouterStats struct {
	Direct      int64 `json:"direct"`
	Distributed int64 `json:"distributed"`
}

// Router classifies envelopes into a delivery strategy.
//
// Rules are evaluated in order, first match wins:
//  1. Critical priority routes direct (latency-sensitive events bypass
//     distribution).
//  2. Names in the high-volume set route distributed.
//  3. Everything else routes direct.
//
// The high-volume set is configuration, not code; operators reclassify
// event names via SetHighVolume without a rebuild.
type Router struct {
	mu         sync.RWMutex
	highVolume map[string]struct{}

	direct      atomic.Int64
	distributed atomic.Int64
}

// NewRouter creates a router with the given high-volume event names.
func NewRouter(highVolume []string) *Router {
	r := &Router{}
	r.SetHighVolume(highVolume)
	return r
}

// SetHighVolume replaces the high-volume name set.
func (r *Router) SetHighVolume(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	r.mu.Lock()
	r.highVolume = set
	r.mu.Unlock()
}

// SelectStrategy returns the delivery strategy for the envelope and
// updates the routing counters.
func (r *Router) SelectStrategy(env *Envelope) Strategy {
	if env.Priority == Critical {
		r.direct.Add(1)
		return StrategyDirect
	}

	r.mu.RLock()
	_, highVolume := r.highVolume[env.Name]
	r.mu.RUnlock()

	if highVolume {
		r.distributed.Add(1)
		return StrategyDistributed
	}

	r.direct.Add(1)
	return StrategyDirect
}

// Stats returns the routing decision totals.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Direct:      r.direct.Load(),
		Distributed: r.distributed.Load(),
	}
}
