// Package audit records access-denied emit decisions for the dispatcher's
// scope gate. Writes are fire-and-forget from the dispatcher's point of
// view: sink failures are logged by the caller, never propagated.
package audit

import (
	"context"
	"sync"
	"time"
)

// Record describes one dropped emit.
type Record struct {
	EventName     string    `json:"event_name"`
	ActorID       string    `json:"actor_id,omitempty"`
	RequiredScope string    `json:"required_scope"`
	GrantedScopes []string  `json:"granted_scopes,omitempty"`
	DroppedAt     time.Time `json:"dropped_at"`
}

// Sink consumes audit records.
type Sink interface {
	// Write persists one record.
	Write(ctx context.Context, rec Record) error
}

// MemorySink keeps records in memory. Suitable for tests and
// single-process deployments that export records elsewhere.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the record.
func (s *MemorySink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records written.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
