// Command sptgrid runs the square-generation and statistics engine over
// single-particle-tracking recordings stored in a SQLite database.
//
// For each requested recording it loads the raw track localizations, runs
// the two-phase square pipeline, and writes track and square records back.
// Optional flags render heatmaps and per-square decay-fit plots.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tracklab/sptgrid/internal/config"
	"github.com/tracklab/sptgrid/internal/db"
	"github.com/tracklab/sptgrid/internal/report"
	"github.com/tracklab/sptgrid/internal/security"
	"github.com/tracklab/sptgrid/internal/square"
	"github.com/tracklab/sptgrid/internal/track"
	"github.com/tracklab/sptgrid/internal/units"
	"github.com/tracklab/sptgrid/internal/version"
)

var (
	dbPath      = flag.String("db", "sptgrid.db", "Path to the SQLite database")
	configPath  = flag.String("config", "", "Path to a tuning JSON file (defaults apply when empty)")
	recordings  = flag.String("recordings", "", "Comma-separated recording names (empty = all in the database)")
	sampleUnits = flag.String("units", units.UM, "Units of stored sample coordinates: um or px")
	reportsDir  = flag.String("reports", "", "Directory for heatmap/fit-plot output (disabled when empty)")
	fitPlots    = flag.Bool("fit-plots", false, "Also render per-square decay-fit PNGs (needs -reports)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sptgrid %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if !units.IsValid(*sampleUnits) {
		log.Fatalf("invalid -units %q, valid values: %s", *sampleUnits, units.ValidUnitsString())
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbPath, err)
	}
	defer store.Close()

	names, err := recordingNames(store)
	if err != nil {
		log.Fatalf("failed to list recordings: %v", err)
	}
	if len(names) == 0 {
		log.Fatal("no recordings to process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recs := make([]*square.Recording, 0, len(names))
	for _, name := range names {
		tracks, err := store.LoadTracks(name)
		if err != nil {
			log.Fatalf("failed to load tracks for %s: %v", name, err)
		}
		convertSamples(tracks, cfg)
		recs = append(recs, square.NewRecording(name, tracks, cfg))
	}

	processor := &square.Processor{Config: cfg}
	results := processor.Run(ctx, recs)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			log.Printf("recording %s failed: %v", res.Recording.Name, res.Err)
			continue
		}
		if err := store.SaveTrackRecords(res.Recording); err != nil {
			log.Fatalf("failed to save track records for %s: %v", res.Recording.Name, err)
		}
		if err := store.SaveSquareRecords(res.Recording); err != nil {
			log.Fatalf("failed to save square records for %s: %v", res.Recording.Name, err)
		}
		log.Printf("recording %s: %d squares, %d tracks (%d skipped), background density %.6g",
			res.Recording.Name, len(res.Recording.Squares), len(res.Recording.Tracks),
			res.Recording.SkippedTracks, res.Recording.BackgroundDensity)

		if *reportsDir != "" {
			if err := writeReports(res.Recording); err != nil {
				log.Printf("recording %s: report generation failed: %v", res.Recording.Name, err)
			}
		}
	}

	if failed > 0 {
		log.Fatalf("%d of %d recordings failed", failed, len(results))
	}
}

func recordingNames(store *db.DB) ([]string, error) {
	if *recordings != "" {
		var names []string
		for _, name := range strings.Split(*recordings, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		return names, nil
	}
	return store.Recordings()
}

// convertSamples rescales pixel-unit localizations into µm. The engine works
// in physical units throughout.
func convertSamples(tracks []track.Track, cfg *config.TuningConfig) {
	if *sampleUnits != units.PX {
		return
	}
	pitch := cfg.GetPixelSizeUm()
	for i := range tracks {
		for j := range tracks[i].Samples {
			s := &tracks[i].Samples[j]
			s.X = units.ConvertLength(s.X, units.PX, units.UM, pitch)
			s.Y = units.ConvertLength(s.Y, units.PX, units.UM, pitch)
		}
	}
}

func writeReports(rec *square.Recording) error {
	dir := filepath.Join(*reportsDir, security.SanitizeFilename(rec.Name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create reports dir: %w", err)
	}

	for _, metric := range []report.Metric{
		report.MetricDensity, report.MetricDensityRatio,
		report.MetricTau, report.MetricVariability,
	} {
		path := filepath.Join(dir, fmt.Sprintf("heatmap_%s.html", metric))
		if err := report.SaveHeatmap(path, rec, metric); err != nil {
			return err
		}
	}

	if *fitPlots {
		n, err := report.SaveFitPlots(filepath.Join(dir, "fits"), rec)
		if err != nil {
			return err
		}
		log.Printf("recording %s: wrote %d decay-fit plots", rec.Name, n)
	}
	return nil
}
