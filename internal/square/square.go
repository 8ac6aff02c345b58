// Package square owns per-square statistics for single-particle-tracking
// recordings: aggregation of per-track kinetic attributes, background
// density estimation, and the two-phase per-recording pipeline that ties
// grid partitioning, spatial assignment, and decay fitting together.
package square

import (
	"math"

	"github.com/tracklab/sptgrid/internal/grid"
	"github.com/tracklab/sptgrid/internal/track"
)

// CellIDUnset marks a square that no reviewer has grouped into a cell yet.
// The cell id is only ever written by the manual assignment feature outside
// this engine; the pipeline preserves it and never computes it.
const CellIDUnset = -1

// Stats holds one square's aggregate statistics. All float fields use NaN
// for "undefined" — a square below the minimum track count, or a failed
// decay fit, reports NaN rather than zero. Stats are populated exactly once
// per computation pass and frozen afterwards.
type Stats struct {
	TrackCount int

	Density      float64 // tracks per unit area per second
	DensityRatio float64 // density / estimated background density
	Variability  float64 // CoV of sub-binned local densities

	Tau      float64 // fitted decay constant, milliseconds
	RSquared float64 // decay fit quality, 0..1

	MedianDiffusion    float64 // µm²/s, first-point MSD variant
	MedianDiffusionExt float64 // µm²/s, step MSD variant

	MedianDuration float64 // seconds
	MaxDuration    float64
	TotalDuration  float64

	MedianSpeed float64 // µm/s
	MaxSpeed    float64

	MedianDisplacement float64 // µm
	MaxDisplacement    float64
	TotalDisplacement  float64
}

// nanStats returns a Stats with the given count and every derived value
// undefined. Used for squares with too few tracks to aggregate meaningfully.
func nanStats(count int) Stats {
	nan := math.NaN()
	return Stats{
		TrackCount:         count,
		Density:            nan,
		DensityRatio:       nan,
		Variability:        nan,
		Tau:                nan,
		RSquared:           nan,
		MedianDiffusion:    nan,
		MedianDiffusionExt: nan,
		MedianDuration:     nan,
		MaxDuration:        nan,
		TotalDuration:      nan,
		MedianSpeed:        nan,
		MaxSpeed:           nan,
		MedianDisplacement: nan,
		MaxDisplacement:    nan,
		TotalDisplacement:  nan,
	}
}

// Square is one cell of the N×N grid overlaid on a recording, together with
// the tracks assigned to it and its aggregate statistics. Track references
// are non-owning: tracks live in the recording's master list and squares
// hold indices into it.
type Square struct {
	RecordingName string
	Number        int // row-major index, Row*N + Col
	Row           int
	Col           int
	BBox          grid.BBox

	// TrackIndexes are positions in the owning Recording's Tracks slice.
	TrackIndexes []int

	// CellID is the manual grouping tag assigned by a human reviewer
	// downstream. Preserved across recomputation, never derived here.
	CellID      int
	LabelNumber int

	// Review flags, owned by downstream tooling.
	Selected         bool
	ManuallyExcluded bool
	ImageExcluded    bool

	Stats Stats
}

// Recording owns the full track list and the square list for one grid
// resolution of a single multi-frame recording.
type Recording struct {
	Name string

	// Field-of-view dimensions in physical units (µm).
	Width  float64
	Height float64

	// Timing.
	FrameInterval   float64 // Δt, seconds per frame
	DurationSeconds float64

	GridN   int
	Tracks  []track.Track
	Squares []Square

	// Attributes are the per-track kinetic attributes, parallel to Tracks.
	Attributes []track.Attributes

	// BackgroundDensity is the estimated noise track density used to
	// normalize density ratios. NaN until phase 2 has run.
	BackgroundDensity float64

	// SkippedTracks counts tracks excluded from spatial assignment
	// (out-of-range or empty). Reported, never fatal.
	SkippedTracks int
}
