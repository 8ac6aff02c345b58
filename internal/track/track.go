package track

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Sample is one localization of a particle: the frame it was detected in and
// its position in physical units (µm).
type Sample struct {
	Frame int
	X     float64
	Y     float64
}

// Track is a single particle trajectory produced by the upstream
// detection/tracking stage. Samples are immutable once loaded.
type Track struct {
	RecordingName string
	ID            int
	Samples       []Sample

	// Assigned during spatial bucketing; -1 when the track falls outside
	// the field of view.
	SquareNumber int
	LabelNumber  int
}

// Attributes holds the kinetic attributes derived from one track's geometry.
// Every float field uses NaN as the "undefined" sentinel, never zero: a
// track with fewer than 2 samples has no measurable motion, and downstream
// filtering relies on being able to tell "not computed" from "zero".
type Attributes struct {
	SampleCount      int
	GapCount         int     // steps with missing frames between samples
	LongestGap       int     // largest number of consecutive missing frames
	DurationSeconds  float64 // (lastFrame - firstFrame) × Δt
	X                float64 // representative location: first sample
	Y                float64
	Displacement     float64 // straight-line first→last distance
	TotalDistance    float64 // summed step distances; NaN when exactly zero
	ConfinementRatio float64 // displacement / total distance
	MaxSpeed         float64 // fastest single step (µm/s)
	MedianSpeed      float64
	Diffusion        float64 // from first-point MSD, µm²/s, 2 decimals
	DiffusionExt     float64 // from step MSD, µm²/s, 2 decimals
}

// nanAttributes returns an attribute set with every derived value undefined.
func nanAttributes(n int) Attributes {
	nan := math.NaN()
	return Attributes{
		SampleCount:      n,
		DurationSeconds:  nan,
		X:                nan,
		Y:                nan,
		Displacement:     nan,
		TotalDistance:    nan,
		ConfinementRatio: nan,
		MaxSpeed:         nan,
		MedianSpeed:      nan,
		Diffusion:        nan,
		DiffusionExt:     nan,
	}
}

// ComputeAttributes derives the kinetic attributes for one track given the
// frame-to-time interval dt (seconds). Samples are sorted by frame index
// defensively; upstream output is expected sorted already.
func ComputeAttributes(samples []Sample, dt float64) Attributes {
	if len(samples) < 2 {
		attrs := nanAttributes(len(samples))
		if len(samples) == 1 {
			attrs.X = samples[0].X
			attrs.Y = samples[0].Y
		}
		return attrs
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Frame < sorted[j].Frame })

	first := sorted[0]
	last := sorted[len(sorted)-1]

	var (
		totalDistance float64
		sumStepMSD    float64 // squared displacement per step
		sumFirstMSD   float64 // squared displacement relative to the first sample
		gapCount      int
		longestGap    int
		speeds        []float64
	)

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		dx := cur.X - prev.X
		dy := cur.Y - prev.Y
		stepSq := dx*dx + dy*dy
		stepDist := math.Sqrt(stepSq)

		totalDistance += stepDist
		sumStepMSD += stepSq

		fx := cur.X - first.X
		fy := cur.Y - first.Y
		sumFirstMSD += fx*fx + fy*fy

		frameGap := cur.Frame - prev.Frame
		if frameGap > 1 {
			gapCount++
			if missing := frameGap - 1; missing > longestGap {
				longestGap = missing
			}
		}
		if dt > 0 && frameGap > 0 {
			speeds = append(speeds, stepDist/(float64(frameGap)*dt))
		}
	}

	steps := float64(len(sorted) - 1)
	dx := last.X - first.X
	dy := last.Y - first.Y
	displacement := math.Sqrt(dx*dx + dy*dy)

	attrs := Attributes{
		SampleCount:  len(sorted),
		GapCount:     gapCount,
		LongestGap:   longestGap,
		X:            first.X,
		Y:            first.Y,
		Displacement: displacement,
	}

	if dt > 0 {
		attrs.DurationSeconds = float64(last.Frame-first.Frame) * dt
		attrs.Diffusion = roundTo2((sumFirstMSD / steps) / (4 * dt))
		attrs.DiffusionExt = roundTo2((sumStepMSD / steps) / (4 * dt))
	} else {
		attrs.DurationSeconds = math.NaN()
		attrs.Diffusion = math.NaN()
		attrs.DiffusionExt = math.NaN()
	}

	// Zero path length means no motion was measured; report NaN so it is
	// distinguishable from an uncomputed value downstream.
	if totalDistance > 0 {
		attrs.TotalDistance = totalDistance
		attrs.ConfinementRatio = displacement / totalDistance
	} else {
		attrs.TotalDistance = math.NaN()
		attrs.ConfinementRatio = math.NaN()
	}

	if len(speeds) > 0 {
		sort.Float64s(speeds)
		attrs.MaxSpeed = speeds[len(speeds)-1]
		attrs.MedianSpeed = stat.Quantile(0.5, stat.Empirical, speeds, nil)
	} else {
		attrs.MaxSpeed = math.NaN()
		attrs.MedianSpeed = math.NaN()
	}

	return attrs
}

// Location returns the representative position used for spatial assignment:
// the first sample by frame order. ok is false for empty tracks.
func (t *Track) Location() (x, y float64, ok bool) {
	if len(t.Samples) == 0 {
		return 0, 0, false
	}
	best := t.Samples[0]
	for _, s := range t.Samples[1:] {
		if s.Frame < best.Frame {
			best = s
		}
	}
	return best.X, best.Y, true
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
