package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the square-generation
// engine. All fields are optional pointers so a partial JSON file can
// override only the parameters it names; the Get* accessors supply defaults
// for everything else.
type TuningConfig struct {
	// Grid params
	GridResolution  *int     `json:"grid_resolution,omitempty"` // N for the N×N grid
	PixelSizeUm     *float64 `json:"pixel_size_um,omitempty"`   // sensor pixel pitch (µm)
	PixelCount      *int     `json:"pixel_count,omitempty"`     // sensor pixels per axis
	MinTracksForFit *int     `json:"min_tracks_for_fit,omitempty"`

	// Timing params
	FrameIntervalSeconds     *float64 `json:"frame_interval_seconds,omitempty"`
	RecordingDurationSeconds *float64 `json:"recording_duration_seconds,omitempty"`

	// Variability sub-binning: each square is subdivided into a
	// VariabilityBins×VariabilityBins sub-grid.
	VariabilityBins *int `json:"variability_bins,omitempty"`

	// Background estimator params
	BackgroundSampleCount *int   `json:"background_sample_count,omitempty"`
	BackgroundSeed        *int64 `json:"background_seed,omitempty"`

	// Batch params
	MaxConcurrentRecordings *int `json:"max_concurrent_recordings,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.GridResolution != nil && *c.GridResolution < 1 {
		return fmt.Errorf("grid_resolution must be at least 1, got %d", *c.GridResolution)
	}
	if c.PixelSizeUm != nil && *c.PixelSizeUm <= 0 {
		return fmt.Errorf("pixel_size_um must be positive, got %f", *c.PixelSizeUm)
	}
	if c.PixelCount != nil && *c.PixelCount < 1 {
		return fmt.Errorf("pixel_count must be at least 1, got %d", *c.PixelCount)
	}
	if c.FrameIntervalSeconds != nil && *c.FrameIntervalSeconds <= 0 {
		return fmt.Errorf("frame_interval_seconds must be positive, got %f", *c.FrameIntervalSeconds)
	}
	if c.RecordingDurationSeconds != nil && *c.RecordingDurationSeconds <= 0 {
		return fmt.Errorf("recording_duration_seconds must be positive, got %f", *c.RecordingDurationSeconds)
	}
	if c.VariabilityBins != nil && *c.VariabilityBins < 1 {
		return fmt.Errorf("variability_bins must be at least 1, got %d", *c.VariabilityBins)
	}
	if c.BackgroundSampleCount != nil && *c.BackgroundSampleCount < 1 {
		return fmt.Errorf("background_sample_count must be at least 1, got %d", *c.BackgroundSampleCount)
	}
	if c.MaxConcurrentRecordings != nil && *c.MaxConcurrentRecordings < 1 {
		return fmt.Errorf("max_concurrent_recordings must be at least 1, got %d", *c.MaxConcurrentRecordings)
	}
	return nil
}

// GetGridResolution returns the grid_resolution value or the default.
func (c *TuningConfig) GetGridResolution() int {
	if c.GridResolution == nil {
		return 20 // 400 squares
	}
	return *c.GridResolution
}

// GetPixelSizeUm returns the pixel_size_um value or the default.
func (c *TuningConfig) GetPixelSizeUm() float64 {
	if c.PixelSizeUm == nil {
		return 0.1602804 // µm per pixel for the supported sensor format
	}
	return *c.PixelSizeUm
}

// GetPixelCount returns the pixel_count value or the default.
func (c *TuningConfig) GetPixelCount() int {
	if c.PixelCount == nil {
		return 512
	}
	return *c.PixelCount
}

// GetFieldSizeUm returns the physical field-of-view edge length in µm,
// derived from the sensor pixel pitch and pixel count.
func (c *TuningConfig) GetFieldSizeUm() float64 {
	return c.GetPixelSizeUm() * float64(c.GetPixelCount())
}

// GetMinTracksForFit returns the min_tracks_for_fit value or the default.
func (c *TuningConfig) GetMinTracksForFit() int {
	if c.MinTracksForFit == nil {
		return 20
	}
	return *c.MinTracksForFit
}

// GetFrameIntervalSeconds returns the frame_interval_seconds value or the default.
func (c *TuningConfig) GetFrameIntervalSeconds() float64 {
	if c.FrameIntervalSeconds == nil {
		return 0.05 // 50 ms exposure
	}
	return *c.FrameIntervalSeconds
}

// GetRecordingDurationSeconds returns the recording_duration_seconds value or the default.
func (c *TuningConfig) GetRecordingDurationSeconds() float64 {
	if c.RecordingDurationSeconds == nil {
		return 100.0 // 2000 frames at 50 ms
	}
	return *c.RecordingDurationSeconds
}

// GetVariabilityBins returns the variability_bins value or the default.
// The default of 10 matches the historical sub-binning constant; it is not
// derived from first principles.
func (c *TuningConfig) GetVariabilityBins() int {
	if c.VariabilityBins == nil {
		return 10
	}
	return *c.VariabilityBins
}

// GetBackgroundSampleCount returns the background_sample_count value or the default.
func (c *TuningConfig) GetBackgroundSampleCount() int {
	if c.BackgroundSampleCount == nil {
		return 60
	}
	return *c.BackgroundSampleCount
}

// GetBackgroundSeed returns the background_seed value or the default.
// The seed is fixed so background estimates are reproducible across runs.
func (c *TuningConfig) GetBackgroundSeed() int64 {
	if c.BackgroundSeed == nil {
		return 42
	}
	return *c.BackgroundSeed
}

// GetMaxConcurrentRecordings returns the max_concurrent_recordings value or the default.
func (c *TuningConfig) GetMaxConcurrentRecordings() int {
	if c.MaxConcurrentRecordings == nil {
		return 4
	}
	return *c.MaxConcurrentRecordings
}
