package pulse

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is one of four strict delivery classes. Higher values are
// delivered first.
type Priority int

// Priority levels, lowest to highest.
const (
	Low Priority = iota
	Medium
	High
	Critical

	numPriorities = 4
)

// DefaultPriority is used when an emit does not specify a priority or
// specifies one that cannot be recognized.
const DefaultPriority = Medium

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// valid reports whether p is one of the four delivery classes.
func (p Priority) valid() bool {
	return p >= Low && p <= Critical
}

// ParsePriority parses a priority name (case-insensitive). Unrecognized
// names return DefaultPriority and false; callers that want rejection
// rather than degradation must check the bool.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(s) {
	case "critical":
		return Critical, true
	case "high":
		return High, true
	case "medium":
		return Medium, true
	case "low":
		return Low, true
	default:
		return DefaultPriority, false
	}
}

// Envelope wraps a payload for queuing and delivery.
// Envelopes are immutable once created.
type Envelope struct {
	// ID uniquely identifies the envelope for the process lifetime.
	ID string

	// Name is the event name subscribers register against.
	Name string

	// Payload is the producer-supplied data.
	Payload any

	// Priority decides the delivery class.
	Priority Priority

	// EnqueuedAt is when Emit accepted the envelope.
	EnqueuedAt time.Time
}

// newEnvelope creates an envelope with a generated ID.
func newEnvelope(name string, payload any, priority Priority) *Envelope {
	if !priority.valid() {
		priority = DefaultPriority
	}
	return &Envelope{
		ID:         uuid.New().String(),
		Name:       name,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
}

// EmitOption configures a single Emit call.
type EmitOption func(*emitConfig)

type emitConfig struct {
	priority Priority
}

// WithPriority sets the delivery class for the event.
func WithPriority(p Priority) EmitOption {
	return func(cfg *emitConfig) {
		if p.valid() {
			cfg.priority = p
		}
	}
}

// WithPriorityName sets the delivery class from a string name, as supplied
// by config-driven producers. Unrecognized names degrade to the default
// class; the event is still queued normally.
func WithPriorityName(name string) EmitOption {
	return func(cfg *emitConfig) {
		p, _ := ParsePriority(name)
		cfg.priority = p
	}
}
