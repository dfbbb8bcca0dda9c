// Package pipeline turns a cube configuration into an ordered sequence of
// imaging tasks and runs it.
package pipeline

import (
	"math"
	"strconv"
	"strings"
)

// Threshold returns the CLEAN threshold for sigmaCut times the RMS noise in
// mJy/beam, e.g. "0.6mJy" for 3.0 and 0.2.
func Threshold(sigmaCut, rmsmJy float64) string {
	return FormatFloat(sigmaCut*rmsmJy) + "mJy"
}

// ChannelCount returns the number of spectral channels. A symmetric cube
// spans blueEdge to -blueEdge inclusive at resolution res; otherwise the
// manual count is used as given.
func ChannelCount(symmetric bool, blueEdge, res float64, manual int) int {
	if !symmetric {
		return manual
	}
	return 1 + int(math.Floor(math.Abs(2*blueEdge)/res))
}

// Stem returns the base name shared by every artifact of a run:
// {res}kms_{weighting}_{sigma}sigma_{tag}.
func Stem(res float64, weighting string, sigmaCut float64, tag string) string {
	return FormatNumber(res) + "kms_" + weighting + "_" + FormatFloat(sigmaCut) + "sigma_" + tag
}

// FormatFloat prints v with 12 significant digits and always marks it as a
// float, so 3 prints as "3.0" and 0.6000000000000001 as "0.6".
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'g', 12, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FormatNumber prints integral values without a decimal point and
// everything else like FormatFloat.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return FormatFloat(v)
}

// Velocity formats a velocity in km/s as CASA expects it, e.g. "-500km/s".
func Velocity(v float64) string {
	return FormatNumber(v) + "km/s"
}
