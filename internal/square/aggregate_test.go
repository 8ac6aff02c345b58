package square

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklab/sptgrid/internal/fit"
	"github.com/tracklab/sptgrid/internal/grid"
	"github.com/tracklab/sptgrid/internal/track"
)

func testBBox() grid.BBox {
	return grid.BBox{X0: 0, Y0: 0, X1: 2, Y1: 2}
}

func testParams() AggregateParams {
	return AggregateParams{
		Area:              4,
		RecordingSeconds:  100,
		MinTracks:         2,
		VariabilityBins:   2,
		BackgroundDensity: math.NaN(),
	}
}

// makeAttrs builds a minimal valid attribute set for aggregation tests.
func makeAttrs(duration, diffusion, speed, displacement float64) track.Attributes {
	return track.Attributes{
		SampleCount:     int(duration/0.05) + 1,
		DurationSeconds: duration,
		Diffusion:       diffusion,
		DiffusionExt:    diffusion * 0.8,
		MaxSpeed:        speed,
		MedianSpeed:     speed * 0.9,
		Displacement:    displacement,
		TotalDistance:   displacement * 1.5,
	}
}

func TestAggregateEmptySquare(t *testing.T) {
	t.Parallel()

	// A square with zero tracks must aggregate to count=0 and NaN
	// everywhere else, never panic.
	stats, err := Aggregate(nil, nil, testBBox(), testParams())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.TrackCount)
	if diff := cmp.Diff(nanStats(0), stats, cmp.Comparer(func(a, b float64) bool {
		return (math.IsNaN(a) && math.IsNaN(b)) || a == b
	})); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateBelowThreshold(t *testing.T) {
	t.Parallel()

	attrs := []track.Attributes{makeAttrs(0.5, 1.0, 2.0, 0.3)}
	positions := []grid.Point{{X: 1, Y: 1}}
	p := testParams()
	p.MinTracks = 5

	stats, err := Aggregate(attrs, positions, testBBox(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TrackCount)
	assert.True(t, math.IsNaN(stats.Density), "too few tracks: density must be NaN, not 0")
	assert.True(t, math.IsNaN(stats.Tau))
	assert.True(t, math.IsNaN(stats.Variability))
}

func TestAggregateDensity(t *testing.T) {
	t.Parallel()

	// 20 tracks with a cleanly decaying duration histogram, so the fit
	// converges and Aggregate returns a clean error.
	var attrs []track.Attributes
	var positions []grid.Point
	add := func(duration float64, n int) {
		for i := 0; i < n; i++ {
			attrs = append(attrs, makeAttrs(duration, 1.0, 2.0, 0.3))
			positions = append(positions, grid.Point{
				X: float64(len(positions)%4) * 0.5,
				Y: float64(len(positions)/4%4) * 0.5,
			})
		}
	}
	add(0.25, 10)
	add(0.50, 6)
	add(0.75, 3)
	add(1.00, 1)

	t.Run("density is count per area per second", func(t *testing.T) {
		t.Parallel()
		stats, err := Aggregate(attrs, positions, testBBox(), testParams())
		require.NoError(t, err)
		assert.InDelta(t, 20.0/(4*100), stats.Density, 1e-12)
		assert.True(t, math.IsNaN(stats.DensityRatio), "ratio undefined without a background estimate")
	})

	t.Run("ratio normalizes against the background", func(t *testing.T) {
		t.Parallel()
		p := testParams()
		p.BackgroundDensity = 0.005
		stats, err := Aggregate(attrs, positions, testBBox(), p)
		require.NoError(t, err)
		assert.InDelta(t, stats.Density/0.005, stats.DensityRatio, 1e-12)
	})

	t.Run("zero background yields NaN ratio", func(t *testing.T) {
		t.Parallel()
		p := testParams()
		p.BackgroundDensity = 0
		stats, err := Aggregate(attrs, positions, testBBox(), p)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(stats.DensityRatio))
	})
}

func TestAggregateVariability(t *testing.T) {
	t.Parallel()

	// Four tracks, one per 2×2 sub-cell: perfectly uniform.
	uniform := []grid.Point{
		{X: 0.5, Y: 0.5}, {X: 1.5, Y: 0.5},
		{X: 0.5, Y: 1.5}, {X: 1.5, Y: 1.5},
	}
	// Four tracks in the same sub-cell: maximally clustered.
	clustered := []grid.Point{
		{X: 0.2, Y: 0.2}, {X: 0.3, Y: 0.3},
		{X: 0.4, Y: 0.2}, {X: 0.25, Y: 0.35},
	}

	attrs := make([]track.Attributes, 4)
	for i := range attrs {
		attrs[i] = makeAttrs(0.25*float64(1+i), 1.0, 2.0, 0.3)
	}

	// Four single-count durations cannot support a decay fit; only the
	// spatial spread matters here, and τ stays NaN.
	uniformStats, err := Aggregate(attrs, uniform, testBBox(), testParams())
	require.ErrorIs(t, err, fit.ErrDegenerateInput)
	clusteredStats, err := Aggregate(attrs, clustered, testBBox(), testParams())
	require.ErrorIs(t, err, fit.ErrDegenerateInput)

	assert.True(t, math.IsNaN(uniformStats.Tau))
	assert.InDelta(t, 0.0, uniformStats.Variability, 1e-12)
	assert.Greater(t, clusteredStats.Variability, uniformStats.Variability)
}

func TestAggregateKinetics(t *testing.T) {
	t.Parallel()

	attrs := []track.Attributes{
		makeAttrs(0.25, 1.0, 4.0, 0.2),
		makeAttrs(0.50, 2.0, 5.0, 0.4),
		makeAttrs(0.75, 3.0, 6.0, 0.6),
	}
	positions := []grid.Point{{X: 0.5, Y: 0.5}, {X: 1.5, Y: 0.5}, {X: 0.5, Y: 1.5}}

	// Three distinct durations make a flat histogram, so the fit fails and
	// only τ/R² stay NaN; the kinetic aggregates are unaffected.
	stats, err := Aggregate(attrs, positions, testBBox(), testParams())
	require.ErrorIs(t, err, fit.ErrDegenerateInput)
	assert.True(t, math.IsNaN(stats.Tau))

	assert.InDelta(t, 0.50, stats.MedianDuration, 1e-12)
	assert.InDelta(t, 0.75, stats.MaxDuration, 1e-12)
	assert.InDelta(t, 1.50, stats.TotalDuration, 1e-12)
	assert.InDelta(t, 2.0, stats.MedianDiffusion, 1e-12)
	assert.InDelta(t, 6.0, stats.MaxSpeed, 1e-12)
	assert.InDelta(t, 0.4, stats.MedianDisplacement, 1e-12)
	assert.InDelta(t, 0.6, stats.MaxDisplacement, 1e-12)
	assert.InDelta(t, 1.2, stats.TotalDisplacement, 1e-12)
}

func TestAggregateDecayFit(t *testing.T) {
	t.Parallel()

	t.Run("decaying histogram yields a finite tau", func(t *testing.T) {
		t.Parallel()
		var attrs []track.Attributes
		var positions []grid.Point
		add := func(duration float64, n int) {
			for i := 0; i < n; i++ {
				attrs = append(attrs, makeAttrs(duration, 1.0, 2.0, 0.3))
				positions = append(positions, grid.Point{
					X: float64(len(positions)%4) * 0.5,
					Y: float64(len(positions)/4%4) * 0.5,
				})
			}
		}
		add(0.25, 10)
		add(0.50, 6)
		add(0.75, 3)
		add(1.00, 1)

		stats, err := Aggregate(attrs, positions, testBBox(), testParams())
		require.NoError(t, err)
		assert.Greater(t, stats.Tau, 0.0)
		assert.False(t, math.IsNaN(stats.RSquared))
		assert.LessOrEqual(t, stats.RSquared, 1.0)
	})

	t.Run("unfittable histogram fails only the fit", func(t *testing.T) {
		t.Parallel()
		// All tracks share one duration: a single histogram point.
		var attrs []track.Attributes
		var positions []grid.Point
		for i := 0; i < 6; i++ {
			attrs = append(attrs, makeAttrs(0.5, 1.0, 2.0, 0.3))
			positions = append(positions, grid.Point{X: float64(i) * 0.3, Y: 0.5})
		}

		stats, err := Aggregate(attrs, positions, testBBox(), testParams())
		require.Error(t, err, "the fit error is surfaced for logging")
		assert.True(t, math.IsNaN(stats.Tau))
		assert.True(t, math.IsNaN(stats.RSquared))
		// Everything else still computed.
		assert.False(t, math.IsNaN(stats.Density))
		assert.InDelta(t, 0.5, stats.MedianDuration, 1e-12)
	})
}

func TestDurationHistogram(t *testing.T) {
	t.Parallel()

	values, freqs := DurationHistogram([]float64{0.5, 0.25, 0.5, 0.25, 0.25, 1.0})
	assert.Equal(t, []float64{0.25, 0.5, 1.0}, values)
	assert.Equal(t, []float64{3, 2, 1}, freqs)
}
