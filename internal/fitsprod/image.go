// Package fitsprod reads the exported FITS products and checks them against
// what the imaging run asked for.
package fitsprod

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNotImage is returned when the primary HDU holds no image.
	ErrNotImage = errors.New("primary HDU is not an image")
	// ErrMissing is returned when a product file does not exist.
	ErrMissing = errors.New("product missing")
)

// Header is the subset of the primary header the pipeline cares about.
// Axis 3 is the spectral axis of a CASA cube.
type Header struct {
	Axes     []int
	Bitpix   int
	BUnit    string
	CType3   string
	CUnit3   string
	CRVal3   float64
	CDelt3   float64
	CRPix3   float64
	RestFreq float64 // Hz, 0 when absent
}

// Image is a decoded primary HDU with pixels widened to float64.
type Image struct {
	Path   string
	Header Header
	Data   []float64
}

// Open reads the FITS file at path.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// Decode reads the primary HDU of a FITS stream.
func Decode(r io.Reader) (*Image, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FITS: %w", err)
	}
	defer fits.Close()

	if len(fits.HDUs()) == 0 {
		return nil, ErrNotImage
	}
	primary, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, ErrNotImage
	}

	hdr := primary.Header()
	h := Header{
		Axes:     append([]int(nil), hdr.Axes()...),
		Bitpix:   hdr.Bitpix(),
		BUnit:    cardString(hdr, "BUNIT"),
		CType3:   cardString(hdr, "CTYPE3"),
		CUnit3:   cardString(hdr, "CUNIT3"),
		CRVal3:   cardFloat(hdr, "CRVAL3", 0),
		CDelt3:   cardFloat(hdr, "CDELT3", 1),
		CRPix3:   cardFloat(hdr, "CRPIX3", 1),
		RestFreq: cardFloat(hdr, "RESTFRQ", cardFloat(hdr, "RESTFREQ", 0)),
	}

	data, err := readPixels(primary, h.Bitpix)
	if err != nil {
		return nil, err
	}
	if h.Bitpix > 0 {
		bscale := cardFloat(hdr, "BSCALE", 1)
		bzero := cardFloat(hdr, "BZERO", 0)
		if bscale != 1 || bzero != 0 {
			for i := range data {
				data[i] = data[i]*bscale + bzero
			}
		}
	}
	return &Image{Header: h, Data: data}, nil
}

// readPixels reads the image into the slice type matching bitpix and widens
// it to float64.
func readPixels(img fitsio.Image, bitpix int) ([]float64, error) {
	axes := img.Header().Axes()
	if len(axes) == 0 {
		return nil, nil
	}
	n := 1
	for _, a := range axes {
		n *= a
	}
	switch bitpix {
	case 8:
		return readAs[byte](img, n)
	case 16:
		return readAs[int16](img, n)
	case 32:
		return readAs[int32](img, n)
	case 64:
		return readAs[int64](img, n)
	case -32:
		return readAs[float32](img, n)
	case -64:
		return readAs[float64](img, n)
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
}

// readAs reads n pixels of type T. fitsio resizes the destination within
// its capacity, so it must be allocated up front.
func readAs[T byte | int16 | int32 | int64 | float32 | float64](img fitsio.Image, n int) ([]float64, error) {
	raw := make([]T, n)
	if err := img.Read(&raw); err != nil {
		return nil, fmt.Errorf("failed to read pixels: %w", err)
	}
	return widen(raw), nil
}

func widen[T byte | int16 | int32 | int64 | float32 | float64](raw []T) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out
}

func cardString(hdr *fitsio.Header, key string) string {
	card := hdr.Get(key)
	if card == nil {
		return ""
	}
	s, _ := card.Value.(string)
	return strings.TrimSpace(s)
}

func cardFloat(hdr *fitsio.Header, key string, def float64) float64 {
	card := hdr.Get(key)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Stats summarises the finite pixels of an image. NaN counts blanked and
// non-finite pixels, which CASA writes outside the includepix range.
type Stats struct {
	Count  int
	NaN    int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// ComputeStats returns statistics over the finite values of data.
func ComputeStats(data []float64) Stats {
	finite := Finite(data)
	s := Stats{Count: len(finite), NaN: len(data) - len(finite)}
	if len(finite) == 0 {
		return s
	}
	s.Min = floats.Min(finite)
	s.Max = floats.Max(finite)
	if len(finite) == 1 {
		s.Mean = finite[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(finite, nil)
	return s
}

// Finite returns the finite values of data in order.
func Finite(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Stats computes statistics over the image pixels.
func (img *Image) Stats() Stats {
	return ComputeStats(img.Data)
}

// AxesString formats axes as 250x250x51x1.
func (h Header) AxesString() string {
	parts := make([]string, len(h.Axes))
	for i, n := range h.Axes {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, "x")
}
