// Package broker defines the optional external message-broker bridge.
//
// When a Publisher is configured on the dispatcher, emits bypass the
// internal priority queues entirely and are forwarded to the broker.
// The two delivery modes are mutually exclusive and selected at
// construction, never mixed per-event.
package broker

import (
	"context"
	"log/slog"
	"sync"
)

// Message is the wire shape handed to an external broker.
type Message struct {
	// Name is the event name.
	Name string `json:"name"`

	// Payload is the producer-supplied data.
	Payload any `json:"payload"`

	// Priority is the delivery class name ("critical", "high", "medium",
	// "low"); the broker decides what, if anything, to do with it.
	Priority string `json:"priority"`
}

// Publisher forwards messages to an external broker.
type Publisher interface {
	// Publish sends one message. A nil return means the broker accepted
	// the message; delivery guarantees beyond acceptance are the
	// broker's concern.
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes messages to a structured logger. Useful as a
// development stand-in for a real broker connection.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs the message.
func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("broker publish",
		slog.String("name", msg.Name),
		slog.String("priority", msg.Priority),
	)
	return nil
}

// ChanPublisher delivers messages into a Go channel, bridging the
// dispatcher to an in-process consumer. Publish blocks until the consumer
// accepts the message or the context is done.
type ChanPublisher struct {
	once sync.Once
	ch   chan Message
}

// NewChanPublisher creates a publisher with the given buffer size.
func NewChanPublisher(buffer int) *ChanPublisher {
	if buffer < 0 {
		buffer = 0
	}
	return &ChanPublisher{ch: make(chan Message, buffer)}
}

// Publish delivers the message to the channel.
func (p *ChanPublisher) Publish(ctx context.Context, msg Message) error {
	select {
	case p.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the receive side of the bridge.
func (p *ChanPublisher) Messages() <-chan Message {
	return p.ch
}

// Close closes the message channel. Publish after Close panics, matching
// Go channel semantics; close only once the dispatcher is shut down.
func (p *ChanPublisher) Close() {
	p.once.Do(func() { close(p.ch) })
}
