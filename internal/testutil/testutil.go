// Package testutil provides shared test helpers and FITS fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/astrogo/fitsio"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// Image describes a float32 FITS fixture. A nil Pixel fills every pixel
// with 1.
type Image struct {
	Axes  []int
	Cards []fitsio.Card
	Pixel func(x, y, z int) float32
}

// WriteFITS writes img to path as a single primary HDU with BITPIX -32.
func WriteFITS(t testing.TB, path string, img Image) {
	t.Helper()
	if err := writeFITS(path, img); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}

func writeFITS(path string, img Image) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(-32, img.Axes)
	defer im.Close()
	if err := im.Header().Append(img.Cards...); err != nil {
		return err
	}

	nx, ny, nz := 1, 1, 1
	total := 1
	for i, n := range img.Axes {
		switch i {
		case 0:
			nx = n
		case 1:
			ny = n
		case 2:
			nz = n
		}
		total *= n
	}
	data := make([]float32, total)
	for i := range data {
		plane := i % (nx * ny * nz)
		x := plane % nx
		y := (plane / nx) % ny
		z := plane / (nx * ny)
		if img.Pixel == nil {
			data[i] = 1
			continue
		}
		data[i] = img.Pixel(x, y, z)
	}
	if err := im.Write(data); err != nil {
		return err
	}
	return fits.Write(im)
}

// VelocityCube returns a CASA-shaped cube fixture (x, y, velocity, stokes)
// with channels starting at startKms and spaced by widthKms.
func VelocityCube(nx, ny, nchan int, startKms, widthKms float64) Image {
	return Image{
		Axes: []int{nx, ny, nchan, 1},
		Cards: []fitsio.Card{
			{Name: "BUNIT", Value: "Jy/beam"},
			{Name: "CTYPE3", Value: "VOPT"},
			{Name: "CUNIT3", Value: "m/s"},
			{Name: "CRVAL3", Value: startKms * 1000},
			{Name: "CDELT3", Value: widthKms * 1000},
			{Name: "CRPIX3", Value: 1.0},
			{Name: "RESTFRQ", Value: 229.537e9},
		},
	}
}

// MomentMap returns a moment map fixture with degenerate spectral and
// stokes axes, as exported by immoments.
func MomentMap(nx, ny int, bunit string) Image {
	return Image{
		Axes: []int{nx, ny, 1, 1},
		Cards: []fitsio.Card{
			{Name: "BUNIT", Value: bunit},
			{Name: "CTYPE3", Value: "VOPT"},
			{Name: "CUNIT3", Value: "m/s"},
		},
	}
}
