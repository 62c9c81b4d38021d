package pulse

import (
	"fmt"
	"time"
)

// ProcessingError is the structured error signal surfaced on the
// dispatcher's error channel when a handler or channel fails during
// processing. Failures are caught at the per-event boundary; the drain
// loop continues with the next event and the caller of Emit never sees
// them.
type ProcessingError struct {
	// EventID is the failed envelope's ID.
	EventID string

	// EventName is the failed envelope's name.
	EventName string

	// Err is the handler or channel failure.
	Err error

	// At is when the failure was observed.
	At time.Time
}

// Error implements the error interface.
func (e ProcessingError) Error() string {
	return fmt.Sprintf("event %s (%s): %v", e.EventName, e.EventID, e.Err)
}

// Unwrap returns the underlying failure.
func (e ProcessingError) Unwrap() error {
	return e.Err
}
