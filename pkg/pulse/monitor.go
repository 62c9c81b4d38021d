package pulse

import (
	"sync"
	"time"
)

// AlertKind identifies which threshold an alert crossed.
type AlertKind int

const (
	// AlertHighLatency fires when a name's average latency exceeds the
	// configured latency threshold.
	AlertHighLatency AlertKind = iota

	// AlertHighErrorRate fires when a name's error ratio exceeds the
	// configured error-rate threshold.
	AlertHighErrorRate
)

// String returns the alert kind name.
func (k AlertKind) String() string {
	if k == AlertHighErrorRate {
		return "high_error_rate"
	}
	return "high_latency"
}

// Alert describes a crossed threshold. Alerts are observational: they are
// logged and handed to the alert callback but never alter control flow.
type Alert struct {
	EventName string
	Kind      AlertKind
	Value     float64 // observed value (ms or ratio)
	Threshold float64 // configured limit (ms or ratio)
	At        time.Time
}

// EventMetrics accumulates per-event-name performance data. Values are
// monotonic until an explicit administrative Reset.
type EventMetrics struct {
	Count          int64         `json:"count"`
	Errors         int64         `json:"errors"`
	TotalLatency   time.Duration `json:"total_latency"`
	AverageLatency time.Duration `json:"average_latency"`
	MaxLatency     time.Duration `json:"max_latency"`
}

// MonitorSummary aggregates across all event names for external reporting.
type MonitorSummary struct {
	EventNames     int           `json:"event_names"`
	TotalCount     int64         `json:"total_count"`
	TotalErrors    int64         `json:"total_errors"`
	MeanAvgLatency time.Duration `json:"mean_avg_latency"`
}

// Monitor records per-event-name latency and error metrics and evaluates
// alert thresholds after every update.
type Monitor struct {
	mu      sync.Mutex
	records map[string]*EventMetrics

	latencyThreshold   time.Duration
	errorRateThreshold float64
	onAlert            func(Alert)
}

// NewMonitor creates a monitor with the given alert thresholds. onAlert
// may be nil.
func NewMonitor(latencyThreshold time.Duration, errorRateThreshold float64, onAlert func(Alert)) *Monitor {
	return &Monitor{
		records:            make(map[string]*EventMetrics),
		latencyThreshold:   latencyThreshold,
		errorRateThreshold: errorRateThreshold,
		onAlert:            onAlert,
	}
}

// Record updates the metrics for an event name and evaluates both alert
// conditions.
func (m *Monitor) Record(name string, latency time.Duration, failed bool) {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		rec = &EventMetrics{}
		m.records[name] = rec
	}

	rec.Count++
	rec.TotalLatency += latency
	rec.AverageLatency = rec.TotalLatency / time.Duration(rec.Count)
	if latency > rec.MaxLatency {
		rec.MaxLatency = latency
	}
	if failed {
		rec.Errors++
	}

	var alerts []Alert
	if rec.AverageLatency > m.latencyThreshold {
		alerts = append(alerts, Alert{
			EventName: name,
			Kind:      AlertHighLatency,
			Value:     float64(rec.AverageLatency.Milliseconds()),
			Threshold: float64(m.latencyThreshold.Milliseconds()),
			At:        time.Now(),
		})
	}
	if rate := float64(rec.Errors) / float64(rec.Count); rate > m.errorRateThreshold {
		alerts = append(alerts, Alert{
			EventName: name,
			Kind:      AlertHighErrorRate,
			Value:     rate,
			Threshold: m.errorRateThreshold,
			At:        time.Now(),
		})
	}
	onAlert := m.onAlert
	m.mu.Unlock()

	if onAlert != nil {
		for _, a := range alerts {
			onAlert(a)
		}
	}
}

// Metrics returns a copy of the record for an event name.
func (m *Monitor) Metrics(name string) (EventMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[name]
	if !ok {
		return EventMetrics{}, false
	}
	return *rec, true
}

// Summary returns an aggregate view: summed counts and errors, and the
// mean of the per-name average latencies.
func (m *Monitor) Summary() MonitorSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MonitorSummary{EventNames: len(m.records)}
	var latencySum time.Duration
	for _, rec := range m.records {
		s.TotalCount += rec.Count
		s.TotalErrors += rec.Errors
		latencySum += rec.AverageLatency
	}
	if len(m.records) > 0 {
		s.MeanAvgLatency = latencySum / time.Duration(len(m.records))
	}
	return s
}

// Reset clears all accumulated records. Administrative use only.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*EventMetrics)
}
