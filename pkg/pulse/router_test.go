package pulse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/pulse/pkg/pulse"
)

func TestRouterRules(t *testing.T) {
	r := pulse.NewRouter([]string{"telemetry.sample", "log.line"})

	t.Run("critical bypasses distribution", func(t *testing.T) {
		// Rule 1 wins even for a high-volume name.
		s := r.SelectStrategy(&pulse.Envelope{Name: "telemetry.sample", Priority: pulse.Critical})
		assert.Equal(t, pulse.StrategyDirect, s)
	})

	t.Run("high volume distributes", func(t *testing.T) {
		s := r.SelectStrategy(&pulse.Envelope{Name: "telemetry.sample", Priority: pulse.Medium})
		assert.Equal(t, pulse.StrategyDistributed, s)
	})

	t.Run("everything else direct", func(t *testing.T) {
		s := r.SelectStrategy(&pulse.Envelope{Name: "order.created", Priority: pulse.Low})
		assert.Equal(t, pulse.StrategyDirect, s)
	})
}

func TestRouterStats(t *testing.T) {
	r := pulse.NewRouter([]string{"bulk"})

	r.SelectStrategy(&pulse.Envelope{Name: "bulk", Priority: pulse.Medium})
	r.SelectStrategy(&pulse.Envelope{Name: "bulk", Priority: pulse.Medium})
	r.SelectStrategy(&pulse.Envelope{Name: "single", Priority: pulse.Medium})

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Distributed)
	assert.Equal(t, int64(1), stats.Direct)
}

func TestRouterReclassification(t *testing.T) {
	r := pulse.NewRouter(nil)

	env := &pulse.Envelope{Name: "metrics.flush", Priority: pulse.Medium}
	assert.Equal(t, pulse.StrategyDirect, r.SelectStrategy(env))

	// Operators reclassify at runtime, no rebuild.
	r.SetHighVolume([]string{"metrics.flush"})
	assert.Equal(t, pulse.StrategyDistributed, r.SelectStrategy(env))

	r.SetHighVolume(nil)
	assert.Equal(t, pulse.StrategyDirect, r.SelectStrategy(env))
}
