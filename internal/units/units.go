// Package units provides shared constants and conversion for the length
// units used by track localizations.
package units

import "strings"

// Unit constants. The engine works in µm internally; upstream trackers
// sometimes emit pixel coordinates.
const (
	UM = "um"
	PX = "px"
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{UM, PX}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, valid := range ValidUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// ValidUnitsString returns a comma-separated string of valid units for
// error messages.
func ValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertLength converts a coordinate between pixel and µm units given the
// sensor pixel pitch (µm per pixel). Unknown units pass through unchanged.
func ConvertLength(v float64, from, to string, pixelPitchUm float64) float64 {
	if from == to {
		return v
	}
	switch {
	case from == PX && to == UM:
		return v * pixelPitchUm
	case from == UM && to == PX:
		if pixelPitchUm == 0 {
			return v
		}
		return v / pixelPitchUm
	default:
		return v
	}
}
