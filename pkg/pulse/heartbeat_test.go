package pulse_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/pulse/pkg/pulse"
	"github.com/randalmurphal/pulse/pkg/pulse/config"
)

func TestHeartbeatValidation(t *testing.T) {
	t.Run("zero base rate", func(t *testing.T) {
		_, err := pulse.NewHeartbeat(pulse.WithBaseHz(0))
		assert.Error(t, err)
	})

	t.Run("surge below base", func(t *testing.T) {
		_, err := pulse.NewHeartbeat(pulse.WithBaseHz(50), pulse.WithSurgeHz(10))
		assert.Error(t, err)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		_, err := pulse.NewHeartbeat(pulse.WithSurgeThreshold(1.0))
		assert.Error(t, err)
	})

	t.Run("base equal to surge is valid", func(t *testing.T) {
		h, err := pulse.NewHeartbeat(pulse.WithBaseHz(100), pulse.WithSurgeHz(100))
		require.NoError(t, err)
		assert.Equal(t, 100.0, h.Hz())
	})

	t.Run("base above default surge needs a matching surge rate", func(t *testing.T) {
		_, err := pulse.NewHeartbeat(pulse.WithBaseHz(200))
		assert.Error(t, err)

		h, err := pulse.NewHeartbeat(pulse.WithBaseHz(200), pulse.WithSurgeHz(400))
		require.NoError(t, err)
		assert.Equal(t, 200.0, h.Hz())
	})
}

func TestHeartbeatStartStopIdempotent(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(100))
	require.NoError(t, err)

	assert.False(t, h.Running())
	h.Stop() // stop while stopped is a no-op
	assert.False(t, h.Running())

	h.Start()
	h.Start()
	assert.True(t, h.Running())

	h.Stop()
	h.Stop()
	assert.False(t, h.Running())
}

func TestHeartbeatEmitsBeats(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(200), pulse.WithSurgeHz(200))
	require.NoError(t, err)

	var count atomic.Int64
	var first atomic.Value
	h.OnBeat(func(b pulse.Beat) {
		if count.Add(1) == 1 {
			first.Store(b)
		}
	})

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return count.Load() >= 10 },
		2*time.Second, time.Millisecond)

	b := first.Load().(pulse.Beat)
	assert.Equal(t, 200.0, b.Hz)
	assert.False(t, b.At.IsZero())
}

func TestHeartbeatDriftCompensation(t *testing.T) {
	// A slow observer adds a fixed delay to every tick. Without
	// compensation the achieved rate would sag well below nominal; with
	// the late time subtracted from the next delay the average rate stays
	// close to the configured one.
	const hz = 50.0
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(hz), pulse.WithSurgeHz(hz))
	require.NoError(t, err)

	var count atomic.Int64
	h.OnBeat(func(pulse.Beat) {
		time.Sleep(5 * time.Millisecond) // a quarter of the 20ms period
		count.Add(1)
	})

	start := time.Now()
	h.Start()
	time.Sleep(time.Second)
	h.Stop()
	elapsed := time.Since(start)

	achieved := float64(count.Load()) / elapsed.Seconds()
	// Uncompensated, the 5ms stall caps the rate at 1/(20ms+5ms) = 40 Hz.
	assert.Greater(t, achieved, 44.0, "rate sagged: drift not being compensated")
	assert.Less(t, achieved, hz*1.15)
}

func TestHeartbeatObserverSlowerThanPeriod(t *testing.T) {
	// The observer stalls for more than a full period on every tick, so
	// the measured drift exceeds the period and the compensated delay
	// bottoms out at zero. The engine must keep ticking back-to-back
	// rather than computing a negative delay.
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(100), pulse.WithSurgeHz(100))
	require.NoError(t, err)

	var count atomic.Int64
	var maxDrift atomic.Int64
	h.OnBeat(func(b pulse.Beat) {
		if d := b.Drift.Nanoseconds(); d > maxDrift.Load() {
			maxDrift.Store(d)
		}
		time.Sleep(25 * time.Millisecond) // 2.5x the 10ms period
		count.Add(1)
	})

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool { return count.Load() >= 5 },
		3*time.Second, time.Millisecond)
	assert.Greater(t, maxDrift.Load(), (10 * time.Millisecond).Nanoseconds(),
		"stalled observer should drive drift past one period")
}

func TestHeartbeatStopDuringTick(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(500), pulse.WithSurgeHz(500))
	require.NoError(t, err)

	var fires atomic.Int64
	h.OnBeat(func(pulse.Beat) {
		fires.Add(1)
		h.Stop()
	})

	h.Start()

	require.Eventually(t, func() bool { return fires.Load() >= 1 },
		2*time.Second, time.Millisecond)
	assert.False(t, h.Running())

	// No re-arm after a stop issued inside the tick.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), fires.Load())
	assert.Equal(t, uint64(1), h.Beats())
}

func TestHeartbeatSurgeSwitching(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(10), pulse.WithSurgeHz(100))
	require.NoError(t, err)

	assert.Equal(t, 10.0, h.Hz())

	h.SetSurge(true)
	assert.Equal(t, 100.0, h.Hz())

	h.SetSurge(true) // already surging, no change
	assert.Equal(t, 100.0, h.Hz())

	h.SetSurge(false)
	assert.Equal(t, 10.0, h.Hz())
}

func TestHeartbeatUpdateLoad(t *testing.T) {
	h, err := pulse.NewHeartbeat(
		pulse.WithBaseHz(10),
		pulse.WithSurgeHz(100),
		pulse.WithSurgeThreshold(0.7),
	)
	require.NoError(t, err)

	h.UpdateLoad(0.5)
	assert.Equal(t, 10.0, h.Hz())

	h.UpdateLoad(0.7) // at the threshold, not above it
	assert.Equal(t, 10.0, h.Hz())

	h.UpdateLoad(0.71)
	assert.Equal(t, 100.0, h.Hz())

	h.UpdateLoad(0.2)
	assert.Equal(t, 10.0, h.Hz())
}

func TestHeartbeatSurgeRateApplies(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(5), pulse.WithSurgeHz(200))
	require.NoError(t, err)

	var count atomic.Int64
	h.OnBeat(func(pulse.Beat) { count.Add(1) })

	h.SetSurge(true)
	h.Start()
	defer h.Stop()

	// At the 5 Hz base rate 20 beats would take four seconds.
	require.Eventually(t, func() bool { return count.Load() >= 20 },
		2*time.Second, time.Millisecond)
}

func TestHeartbeatStateSurvivesStop(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(200), pulse.WithSurgeHz(400))
	require.NoError(t, err)

	var count atomic.Int64
	h.OnBeat(func(pulse.Beat) { count.Add(1) })

	h.SetSurge(true)
	h.Start()
	require.Eventually(t, func() bool { return count.Load() >= 3 },
		2*time.Second, time.Millisecond)
	h.Stop()

	beatsAfterFirstRun := h.Beats()
	assert.Equal(t, 400.0, h.Hz(), "surge rate survives a stop")
	assert.GreaterOrEqual(t, beatsAfterFirstRun, uint64(3))

	h.Start()
	require.Eventually(t, func() bool { return h.Beats() > beatsAfterFirstRun },
		2*time.Second, time.Millisecond)
	h.Stop()
}

func TestHeartbeatObserverPanicIsolated(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(200), pulse.WithSurgeHz(200))
	require.NoError(t, err)

	var healthy atomic.Int64
	h.OnBeat(func(pulse.Beat) { panic("observer bug") })
	h.OnBeat(func(pulse.Beat) { healthy.Add(1) })

	h.Start()
	defer h.Stop()

	// The panicking observer neither starves its peer nor kills the timer.
	require.Eventually(t, func() bool { return healthy.Load() >= 3 },
		2*time.Second, time.Millisecond)
}

func TestHeartbeatFromConfig(t *testing.T) {
	cfg := config.New(map[string]any{
		"base_hz":         20,
		"surge_hz":        80,
		"surge_threshold": 0.5,
	})

	h, err := pulse.NewHeartbeat(pulse.HeartbeatFromConfig(cfg)...)
	require.NoError(t, err)

	assert.Equal(t, 20.0, h.Hz())
	h.UpdateLoad(0.6)
	assert.Equal(t, 80.0, h.Hz())
}

func TestHeartbeatConcurrentControl(t *testing.T) {
	h, err := pulse.NewHeartbeat(pulse.WithBaseHz(100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch n % 4 {
				case 0:
					h.Start()
				case 1:
					h.UpdateLoad(float64(j%10) / 10.0)
				case 2:
					_ = h.Hz()
					_ = h.Beats()
				case 3:
					h.Stop()
				}
			}
		}(i)
	}
	wg.Wait()
	h.Stop()
	assert.False(t, h.Running())
}
