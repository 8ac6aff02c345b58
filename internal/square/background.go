package square

import (
	"math"
	"math/rand"
)

// EstimateBackground estimates the expected "noise" track density of a
// recording by sampling a pseudo-random subset of its squares and averaging
// their raw densities. The generator is seeded explicitly so the estimate is
// reproducible byte-for-byte across runs.
//
// Squares must already carry their raw track counts (phase 1); the estimate
// is consumed by density-ratio normalization (phase 2).
func EstimateBackground(squares []Square, area, recordingSeconds float64, sampleCount int, seed int64) float64 {
	if len(squares) == 0 || sampleCount < 1 || area <= 0 || recordingSeconds <= 0 {
		return math.NaN()
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(squares))
	if sampleCount > len(perm) {
		sampleCount = len(perm)
	}

	var total float64
	for _, idx := range perm[:sampleCount] {
		total += float64(squares[idx].Stats.TrackCount) / (area * recordingSeconds)
	}
	return total / float64(sampleCount)
}
