package doa

import (
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestProperty_CalibrateStaysInRange checks the universal invariant that
// Calibrate never returns a value outside [0,180], for any finite input.
func TestProperty_CalibrateStaysInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.Float64Range(-1000, 1000).Draw(rt, "raw")
		c := NewConditioner()
		got := c.Calibrate(raw)
		if got < 0 || got > 180 {
			rt.Fatalf("Calibrate(%v) = %v, want within [0,180]", raw, got)
		}
	})
}

// TestProperty_CalibrateBroadsideFixedPoint checks Calibrate(90) == 90
// regardless of how many prior calls were made against the same
// Conditioner (Calibrate is stateless; only smooth carries history).
func TestProperty_CalibrateBroadsideFixedPoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := NewConditioner()
		n := rapid.IntRange(0, 20).Draw(rt, "warmup")
		for i := 0; i < n; i++ {
			c.Calibrate(rapid.Float64Range(0, 180).Draw(rt, "warmup_angle"))
		}
		got := c.Calibrate(90)
		if math.Abs(got-90) > 1e-9 {
			rt.Fatalf("Calibrate(90) = %v, want 90", got)
		}
	})
}

// TestProperty_QuantizeHasBinForm checks every quantized angle takes the
// form k*20+10 for k in [0,8].
func TestProperty_QuantizeHasBinForm(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		angle := rapid.Float64Range(-50, 250).Draw(rt, "angle")
		q := quantize(angle)

		k := (q - 10) / quantStep
		if math.Abs(k-math.Round(k)) > 1e-9 {
			rt.Fatalf("quantize(%v) = %v, not of form k*20+10", angle, q)
		}
		if k < 0 || k > 8 {
			rt.Fatalf("quantize(%v) = %v, bin %v out of [0,8]", angle, q, k)
		}
	})
}

// TestProperty_TrackerEmitsAtMostOnceOnEachFeed checks the invariant that
// a single Feed call invokes the result callback at most once.
func TestProperty_TrackerEmitsAtMostOnceOnEachFeed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(TrackerConfig{OutputIntervalMs: 0})
		tr.Enable(true)

		calls := 0
		tr.OnResult(func(float64) { calls++ })

		now := time.Now()
		n := rapid.IntRange(1, 30).Draw(rt, "feeds")
		for i := 0; i < n; i++ {
			calls = 0
			angle := rapid.Float64Range(0, 180).Draw(rt, "angle")
			tr.Feed(angle, now)
			if calls > 1 {
				rt.Fatalf("Feed invoked result callback %d times in one call", calls)
			}
			now = now.Add(time.Millisecond)
		}
	})
}

// TestProperty_DisabledTrackerNeverEmits checks that a disabled tracker's
// Feed never invokes the result callback, for any sequence of angles.
func TestProperty_DisabledTrackerNeverEmits(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(DefaultTrackerConfig())

		calls := 0
		tr.OnResult(func(float64) { calls++ })

		now := time.Now()
		n := rapid.IntRange(1, 20).Draw(rt, "feeds")
		for i := 0; i < n; i++ {
			angle := rapid.Float64Range(0, 180).Draw(rt, "angle")
			tr.Feed(angle, now)
			now = now.Add(time.Millisecond)
		}
		if calls != 0 {
			rt.Fatalf("disabled tracker emitted %d results", calls)
		}
	})
}

// TestProperty_GaussianPassthroughOnConstantInput checks that feeding the
// same angle conditionerHistory times reproduces it exactly, for any angle
// in range.
func TestProperty_GaussianPassthroughOnConstantInput(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		angle := rapid.Float64Range(0, 180).Draw(rt, "angle")
		c := NewConditioner()

		var last float64
		for i := 0; i < conditionerHistory; i++ {
			last = c.smooth(angle)
		}
		if math.Abs(last-angle) > 1e-9 {
			rt.Fatalf("smooth repeated %v: got %v", angle, last)
		}
	})
}
