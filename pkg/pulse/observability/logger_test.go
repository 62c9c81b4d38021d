package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return h
}

// lastEntry decodes the most recent log line from the handler.
func lastEntry(t *testing.T, h *testHandler) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(h.buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestEnrichLogger(t *testing.T) {
	h := newTestHandler()
	logger := EnrichLogger(slog.New(h), "evt-1", "order.created", "high")
	require.NotNil(t, logger)

	logger.Info("processing")

	entry := lastEntry(t, h)
	assert.Equal(t, "evt-1", entry["event_id"])
	assert.Equal(t, "order.created", entry["event_name"])
	assert.Equal(t, "high", entry["priority"])

	assert.Nil(t, EnrichLogger(nil, "a", "b", "c"))
}

func TestLogEventProcessed(t *testing.T) {
	h := newTestHandler()
	LogEventProcessed(slog.New(h), "order.created", "direct", 2.5)

	entry := lastEntry(t, h)
	assert.Equal(t, "event processed", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "direct", entry["strategy"])
	assert.Equal(t, 2.5, entry["latency_ms"])

	assert.NotPanics(t, func() { LogEventProcessed(nil, "x", "direct", 1) })
}

func TestLogHandlerError(t *testing.T) {
	h := newTestHandler()
	LogHandlerError(slog.New(h), "order.created", errors.New("boom"))

	entry := lastEntry(t, h)
	assert.Equal(t, "handler failed", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "boom", entry["error"])

	assert.NotPanics(t, func() { LogHandlerError(nil, "x", errors.New("boom")) })
}

func TestLogAccessDenied(t *testing.T) {
	h := newTestHandler()
	LogAccessDenied(slog.New(h), "order.created", "svc-web", "orders:write")

	entry := lastEntry(t, h)
	assert.Equal(t, "emit denied", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "svc-web", entry["actor_id"])
	assert.Equal(t, "orders:write", entry["required_scope"])

	assert.NotPanics(t, func() { LogAccessDenied(nil, "x", "y", "z") })
}

func TestLogAuditError(t *testing.T) {
	h := newTestHandler()
	LogAuditError(slog.New(h), "order.created", errors.New("sink down"))

	entry := lastEntry(t, h)
	assert.Equal(t, "audit write failed", entry["msg"])
	assert.Equal(t, "sink down", entry["error"])

	assert.NotPanics(t, func() { LogAuditError(nil, "x", errors.New("e")) })
}

func TestLogAlert(t *testing.T) {
	h := newTestHandler()
	LogAlert(slog.New(h), "slow.event", "high_latency", 150, 100)

	entry := lastEntry(t, h)
	assert.Equal(t, "performance alert", entry["msg"])
	assert.Equal(t, "high_latency", entry["kind"])
	assert.Equal(t, float64(150), entry["value"])
	assert.Equal(t, float64(100), entry["threshold"])

	assert.NotPanics(t, func() { LogAlert(nil, "x", "k", 1, 2) })
}

func TestLogHeartbeat(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogHeartbeatStarted(logger, 10)
	entry := lastEntry(t, h)
	assert.Equal(t, "heartbeat started", entry["msg"])
	assert.Equal(t, float64(10), entry["hz"])

	LogHeartbeatStopped(logger, 42)
	entry = lastEntry(t, h)
	assert.Equal(t, "heartbeat stopped", entry["msg"])
	assert.Equal(t, float64(42), entry["beats"])

	LogSurgeChanged(logger, true, 100)
	entry = lastEntry(t, h)
	assert.Equal(t, "heartbeat rate changed", entry["msg"])
	assert.Equal(t, true, entry["surging"])

	assert.NotPanics(t, func() {
		LogHeartbeatStarted(nil, 10)
		LogHeartbeatStopped(nil, 1)
		LogSurgeChanged(nil, false, 10)
	})
}

func TestTimedOperation(t *testing.T) {
	elapsed := TimedOperation()
	time.Sleep(10 * time.Millisecond)

	ms := elapsed()
	assert.GreaterOrEqual(t, ms, 9.0)
	assert.Less(t, ms, 1000.0)
}
