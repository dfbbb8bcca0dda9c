// Package units converts the units found on FITS spectral axes.
package units

import (
	"fmt"
	"strings"
)

// Velocity units.
const (
	MPS  = "m/s"
	KMPS = "km/s"
)

// Frequency units.
const (
	Hz  = "Hz"
	KHz = "kHz"
	MHz = "MHz"
	GHz = "GHz"
)

// ValidVelocityUnits contains the velocity units a spectral axis may carry.
var ValidVelocityUnits = []string{MPS, KMPS}

// ValidFrequencyUnits contains the frequency units a spectral axis may carry.
var ValidFrequencyUnits = []string{Hz, KHz, MHz, GHz}

// normalize maps FITS spellings onto the constants above. An empty unit is
// returned unchanged.
func normalize(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "m/s", "m s-1", "m.s-1":
		return MPS
	case "km/s", "km s-1", "km.s-1":
		return KMPS
	case "hz":
		return Hz
	case "khz":
		return KHz
	case "mhz":
		return MHz
	case "ghz":
		return GHz
	}
	return u
}

// IsVelocity reports whether unit is a known velocity unit.
func IsVelocity(unit string) bool {
	n := normalize(unit)
	return n == MPS || n == KMPS
}

// KmsPerUnit returns the factor converting a velocity in unit to km/s.
// FITS velocities without a unit are in m/s.
func KmsPerUnit(unit string) (float64, error) {
	switch normalize(unit) {
	case "", MPS:
		return 1e-3, nil
	case KMPS:
		return 1, nil
	}
	return 0, fmt.Errorf("unsupported velocity unit %q (valid: %s)", unit, strings.Join(ValidVelocityUnits, ", "))
}

// HzPerUnit returns the factor converting a frequency in unit to Hz.
// FITS frequencies without a unit are in Hz.
func HzPerUnit(unit string) (float64, error) {
	switch normalize(unit) {
	case "", Hz:
		return 1, nil
	case KHz:
		return 1e3, nil
	case MHz:
		return 1e6, nil
	case GHz:
		return 1e9, nil
	}
	return 0, fmt.Errorf("unsupported frequency unit %q (valid: %s)", unit, strings.Join(ValidFrequencyUnits, ", "))
}
