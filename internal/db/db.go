// Package db persists track and square records in SQLite. Column order and
// types follow the fixed tabular schemas consumed by the surrounding
// pipeline; undefined statistics are stored as NULL and rehydrated as NaN,
// never as zero.
package db

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tracklab/sptgrid/internal/grid"
	"github.com/tracklab/sptgrid/internal/square"
	"github.com/tracklab/sptgrid/internal/track"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the SQLite database at path and brings the
// schema up to date.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// InsertSamples stores the raw localizations of the given tracks. This is
// the input side of the store, normally written by the upstream
// detection/tracking stage.
func (db *DB) InsertSamples(recording string, tracks []track.Track) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO samples (recording, track_id, frame, x, y) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tracks {
		for _, s := range t.Samples {
			if _, err := stmt.Exec(recording, t.ID, s.Frame, s.X, s.Y); err != nil {
				return fmt.Errorf("insert sample for track %d: %w", t.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadTracks reads the raw localizations for one recording and groups them
// into tracks ordered by frame.
func (db *DB) LoadTracks(recording string) ([]track.Track, error) {
	rows, err := db.Query(
		`SELECT track_id, frame, x, y FROM samples WHERE recording = ? ORDER BY track_id, frame`,
		recording,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []track.Track
	var cur *track.Track
	for rows.Next() {
		var id, frame int
		var x, y float64
		if err := rows.Scan(&id, &frame, &x, &y); err != nil {
			return nil, err
		}
		if cur == nil || cur.ID != id {
			tracks = append(tracks, track.Track{
				RecordingName: recording,
				ID:            id,
				SquareNumber:  -1,
			})
			cur = &tracks[len(tracks)-1]
		}
		cur.Samples = append(cur.Samples, track.Sample{Frame: frame, X: x, Y: y})
	}
	return tracks, rows.Err()
}

// SaveTrackRecords replaces the derived track records for a recording.
func (db *DB) SaveTrackRecords(rec *square.Recording) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tracks WHERE recording = ?`, rec.Name); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO tracks (
		unique_key, recording, track_id, nr_spots, nr_gaps, longest_gap,
		duration, x, y, displacement, max_speed, median_speed,
		diffusion_coefficient, diffusion_coefficient_ext, total_distance,
		confinement_ratio, square_nr, label_nr
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range rec.Tracks {
		t := &rec.Tracks[i]
		a := rec.Attributes[i]
		_, err := stmt.Exec(
			uuid.NewString(), rec.Name, t.ID, a.SampleCount, a.GapCount, a.LongestGap,
			nullIfNaN(a.DurationSeconds), nullIfNaN(a.X), nullIfNaN(a.Y),
			nullIfNaN(a.Displacement), nullIfNaN(a.MaxSpeed), nullIfNaN(a.MedianSpeed),
			nullIfNaN(a.Diffusion), nullIfNaN(a.DiffusionExt), nullIfNaN(a.TotalDistance),
			nullIfNaN(a.ConfinementRatio), t.SquareNumber, t.LabelNumber,
		)
		if err != nil {
			return fmt.Errorf("insert track record %d: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// SaveSquareRecords replaces the square records for a recording.
func (db *DB) SaveSquareRecords(rec *square.Recording) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM squares WHERE recording = ?`, rec.Name); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO squares (
		unique_key, recording, square_nr, row, col, label_nr, cell_id,
		selected, manually_excluded, image_excluded,
		x0, y0, x1, y1, nr_tracks,
		variability, density, density_ratio, tau, r_squared,
		median_diffusion_coefficient, median_diffusion_coefficient_ext,
		median_duration, max_duration, total_duration,
		median_speed, max_speed,
		median_displacement, max_displacement, total_displacement
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range rec.Squares {
		sq := &rec.Squares[i]
		s := sq.Stats
		_, err := stmt.Exec(
			uuid.NewString(), rec.Name, sq.Number, sq.Row, sq.Col, sq.LabelNumber, sq.CellID,
			sq.Selected, sq.ManuallyExcluded, sq.ImageExcluded,
			sq.BBox.X0, sq.BBox.Y0, sq.BBox.X1, sq.BBox.Y1, s.TrackCount,
			nullIfNaN(s.Variability), nullIfNaN(s.Density), nullIfNaN(s.DensityRatio),
			nullIfNaN(s.Tau), nullIfNaN(s.RSquared),
			nullIfNaN(s.MedianDiffusion), nullIfNaN(s.MedianDiffusionExt),
			nullIfNaN(s.MedianDuration), nullIfNaN(s.MaxDuration), nullIfNaN(s.TotalDuration),
			nullIfNaN(s.MedianSpeed), nullIfNaN(s.MaxSpeed),
			nullIfNaN(s.MedianDisplacement), nullIfNaN(s.MaxDisplacement), nullIfNaN(s.TotalDisplacement),
		)
		if err != nil {
			return fmt.Errorf("insert square record %d: %w", sq.Number, err)
		}
	}

	return tx.Commit()
}

// LoadSquareRecords reads the square records for one recording, ordered by
// square number. NULL statistics come back as NaN.
func (db *DB) LoadSquareRecords(recording string) ([]square.Square, error) {
	rows, err := db.Query(`SELECT
		square_nr, row, col, label_nr, cell_id,
		selected, manually_excluded, image_excluded,
		x0, y0, x1, y1, nr_tracks,
		variability, density, density_ratio, tau, r_squared,
		median_diffusion_coefficient, median_diffusion_coefficient_ext,
		median_duration, max_duration, total_duration,
		median_speed, max_speed,
		median_displacement, max_displacement, total_displacement
	FROM squares WHERE recording = ? ORDER BY square_nr`, recording)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var squares []square.Square
	for rows.Next() {
		var sq square.Square
		var s square.Stats
		var bbox grid.BBox
		var variability, density, densityRatio, tau, rSquared sql.NullFloat64
		var medianDiff, medianDiffExt sql.NullFloat64
		var medianDur, maxDur, totalDur sql.NullFloat64
		var medianSpeed, maxSpeed sql.NullFloat64
		var medianDisp, maxDisp, totalDisp sql.NullFloat64

		err := rows.Scan(
			&sq.Number, &sq.Row, &sq.Col, &sq.LabelNumber, &sq.CellID,
			&sq.Selected, &sq.ManuallyExcluded, &sq.ImageExcluded,
			&bbox.X0, &bbox.Y0, &bbox.X1, &bbox.Y1, &s.TrackCount,
			&variability, &density, &densityRatio, &tau, &rSquared,
			&medianDiff, &medianDiffExt,
			&medianDur, &maxDur, &totalDur,
			&medianSpeed, &maxSpeed,
			&medianDisp, &maxDisp, &totalDisp,
		)
		if err != nil {
			return nil, err
		}

		s.Variability = floatOrNaN(variability)
		s.Density = floatOrNaN(density)
		s.DensityRatio = floatOrNaN(densityRatio)
		s.Tau = floatOrNaN(tau)
		s.RSquared = floatOrNaN(rSquared)
		s.MedianDiffusion = floatOrNaN(medianDiff)
		s.MedianDiffusionExt = floatOrNaN(medianDiffExt)
		s.MedianDuration = floatOrNaN(medianDur)
		s.MaxDuration = floatOrNaN(maxDur)
		s.TotalDuration = floatOrNaN(totalDur)
		s.MedianSpeed = floatOrNaN(medianSpeed)
		s.MaxSpeed = floatOrNaN(maxSpeed)
		s.MedianDisplacement = floatOrNaN(medianDisp)
		s.MaxDisplacement = floatOrNaN(maxDisp)
		s.TotalDisplacement = floatOrNaN(totalDisp)

		sq.RecordingName = recording
		sq.BBox = bbox
		sq.Stats = s
		squares = append(squares, sq)
	}
	return squares, rows.Err()
}

// UpdateCellID writes the manual cell-id tag for one square. This is the
// only statistic-adjacent field downstream tooling is allowed to mutate.
func (db *DB) UpdateCellID(recording string, squareNr, cellID int) error {
	res, err := db.Exec(
		`UPDATE squares SET cell_id = ? WHERE recording = ? AND square_nr = ?`,
		cellID, recording, squareNr,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no square %d for recording %s", squareNr, recording)
	}
	return nil
}

// Recordings lists the distinct recording names present in the samples table.
func (db *DB) Recordings() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT recording FROM samples ORDER BY recording`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// nullIfNaN maps NaN to SQL NULL. Undefined statistics must never be stored
// as zero.
func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}
