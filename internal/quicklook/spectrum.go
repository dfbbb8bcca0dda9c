// Package quicklook renders a first look at an imaging run: the integrated
// spectrum of the cube and the pixel distribution of the moment-0 map.
package quicklook

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
	"github.com/banshee-data/aurora.cubes/internal/units"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 299792.458

// ErrNoSpectralAxis is returned when axis 3 is neither velocity nor frequency.
var ErrNoSpectralAxis = errors.New("no spectral axis")

// Spectrum is the per-channel sum of finite pixels of a cube.
type Spectrum struct {
	Velocity []float64 // km/s
	Flux     []float64
	Unit     string
}

// SpectrumOf integrates a cube over its spatial axes. Only the first stokes
// plane is used.
func SpectrumOf(cube *fitsprod.Image) (*Spectrum, error) {
	axes := cube.Header.Axes
	if len(axes) < 3 {
		return nil, fmt.Errorf("%w: image has %d axes", ErrNoSpectralAxis, len(axes))
	}
	nx, ny, nchan := axes[0], axes[1], axes[2]
	plane := nx * ny
	if len(cube.Data) < plane*nchan {
		return nil, fmt.Errorf("cube holds %d pixels, want at least %d", len(cube.Data), plane*nchan)
	}

	vel, err := ChannelVelocities(cube.Header, nchan)
	if err != nil {
		return nil, err
	}

	flux := make([]float64, nchan)
	for z := 0; z < nchan; z++ {
		flux[z] = floats.Sum(fitsprod.Finite(cube.Data[z*plane : (z+1)*plane]))
	}
	unit := cube.Header.BUnit
	if unit == "" {
		unit = "arbitrary"
	}
	return &Spectrum{Velocity: vel, Flux: flux, Unit: unit}, nil
}

// ChannelVelocities returns the velocity in km/s of each of n channels.
// Frequency axes are converted with the optical convention against RESTFRQ.
func ChannelVelocities(h fitsprod.Header, n int) ([]float64, error) {
	coords := make([]float64, n)
	for i := range coords {
		coords[i] = h.CRVal3 + (float64(i+1)-h.CRPix3)*h.CDelt3
	}

	ctype := strings.ToUpper(strings.TrimSpace(h.CType3))
	switch {
	case fitsprod.IsVelocityAxis(ctype):
		scale, err := units.KmsPerUnit(h.CUnit3)
		if err != nil {
			return nil, err
		}
		floats.Scale(scale, coords)
		return coords, nil

	case strings.HasPrefix(ctype, "FREQ"):
		if h.RestFreq <= 0 {
			return nil, errors.New("frequency axis without RESTFRQ")
		}
		scale, err := units.HzPerUnit(h.CUnit3)
		if err != nil {
			return nil, err
		}
		for i, f := range coords {
			hz := f * scale
			if hz <= 0 {
				return nil, fmt.Errorf("channel %d has non-positive frequency %g", i, hz)
			}
			coords[i] = SpeedOfLight * (h.RestFreq/hz - 1)
		}
		return coords, nil
	}
	return nil, fmt.Errorf("%w: CTYPE3=%q", ErrNoSpectralAxis, h.CType3)
}

// Peak returns the velocity and flux of the brightest channel.
func (s *Spectrum) Peak() (velocity, flux float64) {
	if len(s.Flux) == 0 {
		return math.NaN(), math.NaN()
	}
	i := floats.MaxIdx(s.Flux)
	return s.Velocity[i], s.Flux[i]
}

// Histogram is a binned distribution; len(Edges) == len(Counts)+1.
type Histogram struct {
	Edges  []float64
	Counts []float64
}

// NewHistogram bins the finite values into equal-width bins spanning their
// range.
func NewHistogram(values []float64, bins int) Histogram {
	data := fitsprod.Finite(values)
	if len(data) == 0 || bins <= 0 {
		return Histogram{}
	}
	sort.Float64s(data)

	lo, hi := data[0], data[len(data)-1]
	if hi == lo {
		hi = lo + 1
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)
	// stat.Histogram wants every value strictly below the last divider.
	edges[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, edges, data, nil)
	return Histogram{Edges: edges, Counts: counts}
}
