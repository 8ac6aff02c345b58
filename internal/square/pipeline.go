package square

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tracklab/sptgrid/internal/config"
	"github.com/tracklab/sptgrid/internal/fit"
	"github.com/tracklab/sptgrid/internal/grid"
	"github.com/tracklab/sptgrid/internal/monitoring"
	"github.com/tracklab/sptgrid/internal/track"
)

// ErrInvalidTimeStep is returned when the frame interval is not positive.
// Like an invalid grid resolution, this fails the whole recording: no square
// statistics are meaningful without it.
var ErrInvalidTimeStep = errors.New("frame interval must be positive")

// NewRecording builds a Recording for one grid resolution from upstream
// track data and the tuning configuration. The field of view is square,
// derived from the sensor pixel pitch and pixel count.
func NewRecording(name string, tracks []track.Track, cfg *config.TuningConfig) *Recording {
	field := cfg.GetFieldSizeUm()
	return &Recording{
		Name:              name,
		Width:             field,
		Height:            field,
		FrameInterval:     cfg.GetFrameIntervalSeconds(),
		DurationSeconds:   cfg.GetRecordingDurationSeconds(),
		GridN:             cfg.GetGridResolution(),
		Tracks:            tracks,
		BackgroundDensity: math.NaN(),
	}
}

// ComputeRecording runs the full two-phase pipeline for one recording:
//
//	phase 1: grid partition, spatial assignment, per-track attributes,
//	         raw per-square counts;
//	barrier: background density estimate over all squares;
//	phase 2: per-square finalization (density ratio, variability, τ/R²,
//	         aggregated kinetics).
//
// Configuration errors (bad resolution, non-positive Δt) fail the recording
// immediately. Per-track and per-square problems are recovered locally,
// logged, and counted.
func ComputeRecording(rec *Recording, cfg *config.TuningConfig) error {
	if rec.FrameInterval <= 0 {
		return fmt.Errorf("recording %s: %w (got %g)", rec.Name, ErrInvalidTimeStep, rec.FrameInterval)
	}

	g, err := grid.Partition(rec.Width, rec.Height, rec.GridN)
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.Name, err)
	}

	// Per-track kinetic attributes. Tracks with fewer than 2 samples keep
	// NaN attributes but still occupy their slot so indices stay parallel.
	rec.Attributes = make([]track.Attributes, len(rec.Tracks))
	for i := range rec.Tracks {
		rec.Attributes[i] = track.ComputeAttributes(rec.Tracks[i].Samples, rec.FrameInterval)
	}

	// Representative positions for spatial assignment.
	points := make([]grid.Point, len(rec.Tracks))
	assignable := make([]bool, len(rec.Tracks))
	for i := range rec.Tracks {
		x, y, ok := rec.Tracks[i].Location()
		if !ok {
			monitoring.Logf("recording %s: track %d has no samples, excluded from assignment", rec.Name, rec.Tracks[i].ID)
			continue
		}
		points[i] = grid.Point{X: x, Y: y}
		assignable[i] = true
	}

	// Preserve manual cell ids and review flags when recomputing at the
	// same resolution. A resolution change discards them with the squares.
	prev := rec.Squares
	preserve := len(prev) == g.N*g.N

	squares := make([]Square, len(g.Cells))
	for i, c := range g.Cells {
		squares[i] = Square{
			RecordingName: rec.Name,
			Number:        i,
			Row:           c.Row,
			Col:           c.Col,
			BBox:          c.BBox,
			CellID:        CellIDUnset,
		}
		if preserve {
			squares[i].CellID = prev[i].CellID
			squares[i].LabelNumber = prev[i].LabelNumber
			squares[i].Selected = prev[i].Selected
			squares[i].ManuallyExcluded = prev[i].ManuallyExcluded
			squares[i].ImageExcluded = prev[i].ImageExcluded
		}
	}

	// Phase 1: assignment and raw counts.
	rec.SkippedTracks = 0
	for i := range rec.Tracks {
		rec.Tracks[i].SquareNumber = -1
		if !assignable[i] {
			rec.SkippedTracks++
			continue
		}
		row, col, ok := g.Locate(points[i].X, points[i].Y)
		if !ok {
			rec.SkippedTracks++
			monitoring.Logf("recording %s: track %d at (%.3f, %.3f) outside field of view, excluded",
				rec.Name, rec.Tracks[i].ID, points[i].X, points[i].Y)
			continue
		}
		idx := g.Index(row, col)
		rec.Tracks[i].SquareNumber = idx
		squares[idx].TrackIndexes = append(squares[idx].TrackIndexes, i)
		squares[idx].Stats.TrackCount++
	}

	// Barrier: the background estimate needs every square's raw count.
	rec.BackgroundDensity = EstimateBackground(
		squares, g.CellArea(), rec.DurationSeconds,
		cfg.GetBackgroundSampleCount(), cfg.GetBackgroundSeed(),
	)

	// Phase 2: finalize each square.
	params := AggregateParams{
		Area:              g.CellArea(),
		RecordingSeconds:  rec.DurationSeconds,
		MinTracks:         cfg.GetMinTracksForFit(),
		VariabilityBins:   cfg.GetVariabilityBins(),
		BackgroundDensity: rec.BackgroundDensity,
		Solver:            &fit.LevenbergMarquardt{},
	}
	for i := range squares {
		sq := &squares[i]
		attrs := make([]track.Attributes, 0, len(sq.TrackIndexes))
		positions := make([]grid.Point, 0, len(sq.TrackIndexes))
		for _, ti := range sq.TrackIndexes {
			attrs = append(attrs, rec.Attributes[ti])
			positions = append(positions, points[ti])
		}

		stats, fitErr := Aggregate(attrs, positions, sq.BBox, params)
		if fitErr != nil {
			monitoring.Logf("recording %s: square %d (row %d, col %d): decay fit failed: %v",
				rec.Name, sq.Number, sq.Row, sq.Col, fitErr)
		}
		sq.Stats = stats
	}

	rec.Squares = squares
	if rec.SkippedTracks > 0 {
		monitoring.Logf("recording %s: %d of %d tracks excluded from assignment",
			rec.Name, rec.SkippedTracks, len(rec.Tracks))
	}
	return nil
}

// Result is the outcome of processing one recording in a batch.
type Result struct {
	Recording *Recording
	Err       error
}

// Processor runs recordings through ComputeRecording on a bounded worker
// pool. Recordings are fully independent, so the only coordination is the
// pool itself. Cancellation is checked between recordings, not mid-square:
// per-square work is short.
type Processor struct {
	Config  *config.TuningConfig
	Workers int // 0 means the configured default
}

// Run processes the given recordings concurrently and returns one Result
// per recording, in input order. A cancelled context marks the remaining
// recordings with the context error.
func (p *Processor) Run(ctx context.Context, recordings []*Recording) []Result {
	workers := p.Workers
	if workers <= 0 {
		workers = p.Config.GetMaxConcurrentRecordings()
	}
	if workers > len(recordings) {
		workers = len(recordings)
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(recordings))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					results[i] = Result{Recording: recordings[i], Err: err}
					continue
				}
				err := ComputeRecording(recordings[i], p.Config)
				results[i] = Result{Recording: recordings[i], Err: err}
			}
		}()
	}

	for i := range recordings {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
