// Package observability provides structured logging, metrics, and tracing
// for pulse: slog-based log helpers, OpenTelemetry metrics, and
// OpenTelemetry spans around event dispatch.
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger. Returns a new logger
// with event_id, event_name, and priority fields.
func EnrichLogger(logger *slog.Logger, eventID, eventName, priority string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_name", eventName),
		slog.String("priority", priority),
	)
}

// LogEventProcessed logs a successfully processed event.
func LogEventProcessed(logger *slog.Logger, eventName, strategy string, latencyMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event processed",
		slog.String("event_name", eventName),
		slog.String("strategy", strategy),
		slog.Float64("latency_ms", latencyMs),
	)
}

// LogHandlerError logs a handler failure caught at the per-event boundary.
func LogHandlerError(logger *slog.Logger, eventName string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("event_name", eventName),
		slog.String("error", err.Error()),
	)
}

// LogAccessDenied logs a scope-gated emit that was dropped.
func LogAccessDenied(logger *slog.Logger, eventName, actorID, requiredScope string) {
	if logger == nil {
		return
	}
	logger.Warn("emit denied",
		slog.String("event_name", eventName),
		slog.String("actor_id", actorID),
		slog.String("required_scope", requiredScope),
	)
}

// LogAuditError logs an audit sink failure (best-effort, never propagated).
func LogAuditError(logger *slog.Logger, eventName string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("audit write failed",
		slog.String("event_name", eventName),
		slog.String("error", err.Error()),
	)
}

// LogAlert logs a performance alert.
func LogAlert(logger *slog.Logger, eventName, kind string, value, threshold float64) {
	if logger == nil {
		return
	}
	logger.Warn("performance alert",
		slog.String("event_name", eventName),
		slog.String("kind", kind),
		slog.Float64("value", value),
		slog.Float64("threshold", threshold),
	)
}

// LogHeartbeatStarted logs a heartbeat engine start.
func LogHeartbeatStarted(logger *slog.Logger, hz float64) {
	if logger == nil {
		return
	}
	logger.Info("heartbeat started", slog.Float64("hz", hz))
}

// LogHeartbeatStopped logs a heartbeat engine stop.
func LogHeartbeatStopped(logger *slog.Logger, beats uint64) {
	if logger == nil {
		return
	}
	logger.Info("heartbeat stopped", slog.Uint64("beats", beats))
}

// LogSurgeChanged logs a heartbeat rate change.
func LogSurgeChanged(logger *slog.Logger, surging bool, hz float64) {
	if logger == nil {
		return
	}
	logger.Debug("heartbeat rate changed",
		slog.Bool("surging", surging),
		slog.Float64("hz", hz),
	)
}

// TimedOperation measures the duration of an operation. Returns a
// function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000.0
	}
}
