// Package report renders offline visualizations of computed square
// statistics: HTML heatmaps of the grid and PNG plots of per-square decay
// fits. Rendering is for inspection only and never feeds back into the
// statistics.
package report

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tracklab/sptgrid/internal/square"
)

// Metric selects which square statistic a heatmap shows.
type Metric string

const (
	MetricDensity      Metric = "density"
	MetricDensityRatio Metric = "density_ratio"
	MetricTau          Metric = "tau"
	MetricVariability  Metric = "variability"
	MetricTrackCount   Metric = "track_count"
)

func metricValue(s square.Stats, m Metric) float64 {
	switch m {
	case MetricDensity:
		return s.Density
	case MetricDensityRatio:
		return s.DensityRatio
	case MetricTau:
		return s.Tau
	case MetricVariability:
		return s.Variability
	case MetricTrackCount:
		return float64(s.TrackCount)
	default:
		return math.NaN()
	}
}

// viridis-style palette, matching the grid debugging charts we use elsewhere.
var heatmapColors = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// RenderHeatmap writes an HTML heatmap of one metric across the recording's
// grid. Squares with an undefined (NaN) value are omitted, which echarts
// renders as blank cells.
func RenderHeatmap(w io.Writer, rec *square.Recording, metric Metric) error {
	if rec.GridN < 1 || len(rec.Squares) == 0 {
		return fmt.Errorf("heatmap: recording %s has no computed squares", rec.Name)
	}

	data := make([]opts.HeatMapData, 0, len(rec.Squares))
	maxVal := 0.0
	for i := range rec.Squares {
		sq := &rec.Squares[i]
		v := metricValue(sq.Stats, metric)
		if math.IsNaN(v) {
			continue
		}
		if v > maxVal {
			maxVal = v
		}
		// Row 0 is the top of the field; echarts y-axis grows upward.
		data = append(data, opts.HeatMapData{Value: [3]interface{}{sq.Col, rec.GridN - 1 - sq.Row, v}})
	}
	if maxVal == 0 {
		maxVal = 1
	}

	axis := make([]string, rec.GridN)
	for i := range axis {
		axis[i] = fmt.Sprintf("%d", i)
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("%s — %s", rec.Name, metric),
			Width:     "820px",
			Height:    "820px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s per square", metric),
			Subtitle: fmt.Sprintf("recording=%s grid=%dx%d", rec.Name, rec.GridN, rec.GridN),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: axis, Name: "col"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: axis, Name: "row"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVal),
			InRange:    &opts.VisualMapInRange{Color: heatmapColors},
		}),
	)
	hm.AddSeries(string(metric), data)

	return hm.Render(w)
}

// SaveHeatmap renders a heatmap to an HTML file.
func SaveHeatmap(path string, rec *square.Recording, metric Metric) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heatmap file: %w", err)
	}
	defer f.Close()
	return RenderHeatmap(f, rec, metric)
}
