package pulse

import "sync"

// QueueSizes is a snapshot of the four per-level queue depths.
type QueueSizes struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the combined depth across all levels.
func (q QueueSizes) Total() int {
	return q.Critical + q.High + q.Medium + q.Low
}

// priorityQueues holds one FIFO sequence per priority level.
// It is the only state shared between producers (push) and the single
// drain loop (pop), so every access goes through the mutex.
type priorityQueues struct {
	mu     sync.Mutex
	levels [numPriorities][]*Envelope
}

func newPriorityQueues() *priorityQueues {
	return &priorityQueues{}
}

// push appends the envelope to its level, preserving insertion order.
func (q *priorityQueues) push(env *Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels[env.Priority] = append(q.levels[env.Priority], env)
}

// pop removes and returns the oldest envelope from the highest-priority
// non-empty level. Returns false when all levels are empty.
func (q *priorityQueues) pop() (*Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := Critical; p >= Low; p-- {
		level := q.levels[p]
		if len(level) == 0 {
			continue
		}
		env := level[0]
		// Shift rather than re-slice so the backing array does not pin
		// processed envelopes.
		copy(level, level[1:])
		level[len(level)-1] = nil
		q.levels[p] = level[:len(level)-1]
		return env, true
	}
	return nil, false
}

// empty reports whether all four levels are drained.
func (q *priorityQueues) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.levels {
		if len(q.levels[p]) > 0 {
			return false
		}
	}
	return true
}

// sizes returns the current per-level depths.
func (q *priorityQueues) sizes() QueueSizes {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueSizes{
		Critical: len(q.levels[Critical]),
		High:     len(q.levels[High]),
		Medium:   len(q.levels[Medium]),
		Low:      len(q.levels[Low]),
	}
}

// clear empties all levels.
func (q *priorityQueues) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.levels {
		q.levels[p] = nil
	}
}
