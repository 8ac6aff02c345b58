package track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 0.05 // 50 ms frame interval

func TestComputeAttributesDegenerate(t *testing.T) {
	t.Parallel()

	t.Run("empty track is all NaN", func(t *testing.T) {
		t.Parallel()
		a := ComputeAttributes(nil, dt)
		assert.Equal(t, 0, a.SampleCount)
		assert.True(t, math.IsNaN(a.TotalDistance))
		assert.True(t, math.IsNaN(a.Displacement))
		assert.True(t, math.IsNaN(a.ConfinementRatio))
		assert.True(t, math.IsNaN(a.Diffusion))
		assert.True(t, math.IsNaN(a.DiffusionExt))
		assert.True(t, math.IsNaN(a.DurationSeconds))
		assert.True(t, math.IsNaN(a.MaxSpeed))
		assert.True(t, math.IsNaN(a.MedianSpeed))
	})

	t.Run("single sample keeps location but no kinetics", func(t *testing.T) {
		t.Parallel()
		a := ComputeAttributes([]Sample{{Frame: 3, X: 1.5, Y: 2.5}}, dt)
		assert.Equal(t, 1, a.SampleCount)
		assert.Equal(t, 1.5, a.X)
		assert.Equal(t, 2.5, a.Y)
		assert.True(t, math.IsNaN(a.Diffusion))
		assert.True(t, math.IsNaN(a.TotalDistance))
	})

	t.Run("two identical positions distinguish no-motion from not-computed", func(t *testing.T) {
		t.Parallel()
		a := ComputeAttributes([]Sample{
			{Frame: 0, X: 4, Y: 4},
			{Frame: 1, X: 4, Y: 4},
		}, dt)
		assert.Equal(t, 2, a.SampleCount)
		assert.True(t, math.IsNaN(a.TotalDistance), "zero path length must be NaN, not 0")
		assert.True(t, math.IsNaN(a.ConfinementRatio))
		assert.Equal(t, 0.0, a.Displacement)
	})

	t.Run("non-positive dt yields NaN diffusion", func(t *testing.T) {
		t.Parallel()
		samples := []Sample{{Frame: 0, X: 0, Y: 0}, {Frame: 1, X: 1, Y: 0}}
		for _, badDt := range []float64{0, -0.05} {
			a := ComputeAttributes(samples, badDt)
			assert.True(t, math.IsNaN(a.Diffusion))
			assert.True(t, math.IsNaN(a.DiffusionExt))
			assert.True(t, math.IsNaN(a.DurationSeconds))
		}
	})
}

func TestComputeAttributesStraightLine(t *testing.T) {
	t.Parallel()

	// 10 equal steps of 0.5 µm along x: length 5, perfectly straight.
	const steps = 10
	const stepLen = 0.5
	samples := make([]Sample, steps+1)
	for i := range samples {
		samples[i] = Sample{Frame: i, X: stepLen * float64(i), Y: 0}
	}

	a := ComputeAttributes(samples, dt)
	require.Equal(t, steps+1, a.SampleCount)
	assert.InDelta(t, steps*stepLen, a.TotalDistance, 1e-12)
	assert.InDelta(t, 1.0, a.ConfinementRatio, 1e-12)
	assert.InDelta(t, steps*stepLen, a.Displacement, 1e-12)
	assert.InDelta(t, float64(steps)*dt, a.DurationSeconds, 1e-12)

	// Every step covers stepLen in one frame.
	assert.InDelta(t, stepLen/dt, a.MaxSpeed, 1e-12)
	assert.InDelta(t, stepLen/dt, a.MedianSpeed, 1e-12)
}

func TestComputeAttributesDiffusion(t *testing.T) {
	t.Parallel()

	t.Run("matches hand-computed MSD sums", func(t *testing.T) {
		t.Parallel()
		samples := []Sample{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 1, Y: 0},
			{Frame: 2, X: 1, Y: 1},
		}
		// Step MSD: 1² + 1² = 2, over 2 steps → mean 1.
		// First-point MSD: (1)² + (√2)² = 1 + 2 = 3, over 2 steps → 1.5.
		a := ComputeAttributes(samples, 0.05)
		assert.InDelta(t, roundTo2(1.5/(4*0.05)), a.Diffusion, 1e-12)  // 7.5
		assert.InDelta(t, roundTo2(1.0/(4*0.05)), a.DiffusionExt, 1e-12) // 5.0
	})

	t.Run("values are rounded to 2 decimals", func(t *testing.T) {
		t.Parallel()
		samples := []Sample{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 0.123, Y: 0},
		}
		a := ComputeAttributes(samples, 0.05)
		assert.Equal(t, a.Diffusion, roundTo2(a.Diffusion))
		assert.Equal(t, a.DiffusionExt, roundTo2(a.DiffusionExt))
	})
}

func TestComputeAttributesGapsAndSorting(t *testing.T) {
	t.Parallel()

	t.Run("counts gaps and the longest gap", func(t *testing.T) {
		t.Parallel()
		samples := []Sample{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 1, Y: 0},
			{Frame: 4, X: 2, Y: 0}, // 2 missing frames
			{Frame: 5, X: 3, Y: 0},
			{Frame: 7, X: 4, Y: 0}, // 1 missing frame
		}
		a := ComputeAttributes(samples, dt)
		assert.Equal(t, 2, a.GapCount)
		assert.Equal(t, 2, a.LongestGap)
	})

	t.Run("unsorted input is sorted defensively", func(t *testing.T) {
		t.Parallel()
		sorted := ComputeAttributes([]Sample{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 1, Y: 0},
			{Frame: 2, X: 2, Y: 0},
		}, dt)
		shuffled := ComputeAttributes([]Sample{
			{Frame: 2, X: 2, Y: 0},
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 1, Y: 0},
		}, dt)
		assert.Equal(t, sorted, shuffled)
	})

	t.Run("gap steps use the elapsed frames for speed", func(t *testing.T) {
		t.Parallel()
		// 1 µm over 2 frames → 1/(2·dt) µm/s.
		a := ComputeAttributes([]Sample{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 2, X: 1, Y: 0},
		}, dt)
		assert.InDelta(t, 1/(2*dt), a.MaxSpeed, 1e-12)
	})
}

func TestLocation(t *testing.T) {
	t.Parallel()

	t.Run("uses the earliest frame", func(t *testing.T) {
		t.Parallel()
		tr := Track{Samples: []Sample{
			{Frame: 5, X: 9, Y: 9},
			{Frame: 1, X: 2, Y: 3},
		}}
		x, y, ok := tr.Location()
		require.True(t, ok)
		assert.Equal(t, 2.0, x)
		assert.Equal(t, 3.0, y)
	})

	t.Run("empty track has no location", func(t *testing.T) {
		t.Parallel()
		var tr Track
		_, _, ok := tr.Location()
		assert.False(t, ok)
	})
}
