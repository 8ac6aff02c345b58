package square

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tracklab/sptgrid/internal/fit"
	"github.com/tracklab/sptgrid/internal/grid"
	"github.com/tracklab/sptgrid/internal/track"
)

// AggregateParams carries everything Aggregate needs beyond the square's
// own track set.
type AggregateParams struct {
	Area             float64 // square area, physical units²
	RecordingSeconds float64
	MinTracks        int // below this, statistics are meaningless
	VariabilityBins  int // K for the K×K sub-binning

	// BackgroundDensity is the recording-wide noise estimate. NaN disables
	// ratio normalization (phase 1).
	BackgroundDensity float64

	Solver fit.Solver
}

// Aggregate computes one square's statistics from the attributes and
// representative positions of its assigned tracks. attrs and positions are
// parallel slices covering exactly the square's tracks.
//
// A square below the minimum track count gets NaN for everything except the
// count. A failed decay fit yields NaN τ/R² and the fit error is returned so
// the caller can log it with context; the rest of the statistics are still
// valid.
func Aggregate(attrs []track.Attributes, positions []grid.Point, bbox grid.BBox, p AggregateParams) (Stats, error) {
	count := len(attrs)
	if count < p.MinTracks || count == 0 {
		return nanStats(count), nil
	}

	stats := nanStats(count)

	if p.Area > 0 && p.RecordingSeconds > 0 {
		stats.Density = float64(count) / (p.Area * p.RecordingSeconds)
	}
	if !math.IsNaN(p.BackgroundDensity) && p.BackgroundDensity > 0 && !math.IsNaN(stats.Density) {
		stats.DensityRatio = stats.Density / p.BackgroundDensity
	}

	stats.Variability = variability(positions, bbox, p.VariabilityBins)

	durations := finite(collect(attrs, func(a track.Attributes) float64 { return a.DurationSeconds }))
	stats.MedianDuration = median(durations)
	stats.MaxDuration = maxOf(durations)
	stats.TotalDuration = sum(durations)

	diffusion := finite(collect(attrs, func(a track.Attributes) float64 { return a.Diffusion }))
	stats.MedianDiffusion = median(diffusion)

	diffusionExt := finite(collect(attrs, func(a track.Attributes) float64 { return a.DiffusionExt }))
	stats.MedianDiffusionExt = median(diffusionExt)

	maxSpeeds := finite(collect(attrs, func(a track.Attributes) float64 { return a.MaxSpeed }))
	stats.MaxSpeed = maxOf(maxSpeeds)
	medianSpeeds := finite(collect(attrs, func(a track.Attributes) float64 { return a.MedianSpeed }))
	stats.MedianSpeed = median(medianSpeeds)

	displacements := finite(collect(attrs, func(a track.Attributes) float64 { return a.Displacement }))
	stats.MedianDisplacement = median(displacements)
	stats.MaxDisplacement = maxOf(displacements)
	stats.TotalDisplacement = sum(displacements)

	// Decay fit over the square's track-duration histogram. One bad square
	// must not abort the batch: τ/R² stay NaN on failure.
	var fitErr error
	if len(durations) > 0 {
		x, y := DurationHistogram(durations)
		solver := p.Solver
		if solver == nil {
			solver = &fit.LevenbergMarquardt{}
		}
		result, err := solver.Fit(x, y)
		if err != nil {
			fitErr = err
		} else {
			stats.Tau = result.Tau
			stats.RSquared = result.RSquared
		}
	}

	return stats, fitErr
}

// DurationHistogram reduces raw track durations to (value, frequency) pairs
// sorted by value. Durations are frame counts times Δt, so identical
// durations compare exactly.
func DurationHistogram(durations []float64) (values, freqs []float64) {
	counts := make(map[float64]int, len(durations))
	for _, d := range durations {
		counts[d]++
	}
	values = make([]float64, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Float64s(values)
	freqs = make([]float64, len(values))
	for i, v := range values {
		freqs[i] = float64(counts[v])
	}
	return values, freqs
}

// variability sub-partitions the square into a bins×bins grid, computes the
// local track density of each sub-cell, and reports the coefficient of
// variation (stddev/mean) of those densities. Uniformly spread tracks score
// near zero; clustered tracks score high.
func variability(positions []grid.Point, bbox grid.BBox, bins int) float64 {
	if bins < 1 || len(positions) == 0 {
		return math.NaN()
	}

	w := bbox.X1 - bbox.X0
	h := bbox.Y1 - bbox.Y0
	if w <= 0 || h <= 0 {
		return math.NaN()
	}

	counts := make([]float64, bins*bins)
	for _, pt := range positions {
		col := subIndex(pt.X-bbox.X0, w, bins)
		row := subIndex(pt.Y-bbox.Y0, h, bins)
		counts[row*bins+col]++
	}

	// Sub-cell areas are identical, so the CoV of densities equals the CoV
	// of raw counts.
	mean, std := stat.MeanStdDev(counts, nil)
	if mean == 0 {
		return math.NaN()
	}
	return std / mean
}

func subIndex(v, extent float64, bins int) int {
	idx := int(math.Floor(v / (extent / float64(bins))))
	if idx < 0 {
		idx = 0
	}
	if idx >= bins {
		idx = bins - 1 // outer edge belongs to the last sub-cell
	}
	return idx
}

func collect(attrs []track.Attributes, f func(track.Attributes) float64) []float64 {
	out := make([]float64, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, f(a))
	}
	return out
}

// finite drops NaN and Inf values so partial per-track data does not poison
// the aggregates.
func finite(vals []float64) []float64 {
	out := vals[:0]
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func maxOf(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	m := vals[0]
	for _, v := range vals[1:] {
		m = math.Max(m, v)
	}
	return m
}

func sum(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}
