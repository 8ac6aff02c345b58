package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tracklab/sptgrid/internal/fit"
	"github.com/tracklab/sptgrid/internal/square"
)

// SaveDecayFitPlot writes a PNG showing one square's track-duration
// histogram together with the fitted exponential decay curve.
func SaveDecayFitPlot(path string, title string, durations, freqs []float64, f fit.DecayFit) error {
	if len(durations) == 0 || len(durations) != len(freqs) {
		return fmt.Errorf("fit plot: invalid histogram (%d values, %d freqs)", len(durations), len(freqs))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Track duration (s)"
	p.Y.Label.Text = "Frequency"

	pts := make(plotter.XYs, len(durations))
	for i := range durations {
		pts[i] = plotter.XY{X: durations[i], Y: freqs[i]}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(scatter)
	p.Legend.Add("observed", scatter)

	if f.Converged && !math.IsNaN(f.Tau) {
		rate := 1000 / f.Tau
		minX, maxX := durations[0], durations[len(durations)-1]
		const curveSamples = 200
		curve := make(plotter.XYs, 0, curveSamples)
		for i := 0; i <= curveSamples; i++ {
			x := minX + (maxX-minX)*float64(i)/curveSamples
			curve = append(curve, plotter.XY{X: x, Y: f.Amplitude*math.Exp(-rate*x) + f.Offset})
		}
		line, err := plotter.NewLine(curve)
		if err != nil {
			return err
		}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("fit τ=%.1f ms R²=%.4f", f.Tau, f.RSquared), line)
	}

	p.Legend.Top = true
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// SaveFitPlots writes one decay-fit PNG per square that has a converged τ.
// Returns the number of plots generated.
func SaveFitPlots(outputDir string, rec *square.Recording) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	count := 0
	for i := range rec.Squares {
		sq := &rec.Squares[i]
		if math.IsNaN(sq.Stats.Tau) {
			continue
		}

		durations := make([]float64, 0, len(sq.TrackIndexes))
		for _, ti := range sq.TrackIndexes {
			d := rec.Attributes[ti].DurationSeconds
			if !math.IsNaN(d) {
				durations = append(durations, d)
			}
		}
		if len(durations) == 0 {
			continue
		}

		x, y := square.DurationHistogram(durations)
		f := fit.DecayFit{
			Tau:       sq.Stats.Tau,
			RSquared:  sq.Stats.RSquared,
			Converged: true,
		}
		// Re-derive amplitude/offset for the overlay curve; the stored
		// stats only carry τ and R².
		if refit, err := fit.FitDecay(x, y); err == nil {
			f = refit
		}

		name := filepath.Join(outputDir, fmt.Sprintf("square_%03d_decay.png", sq.Number))
		title := fmt.Sprintf("%s square %d (row %d, col %d)", rec.Name, sq.Number, sq.Row, sq.Col)
		if err := SaveDecayFitPlot(name, title, x, y, f); err != nil {
			return count, fmt.Errorf("square %d: %w", sq.Number, err)
		}
		count++
	}
	return count, nil
}
