package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertHelpers_PassingPaths(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	AssertNoError(fakeT, nil)
	assert.False(t, fakeT.Failed())
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodGet, "/debug/runs")
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/debug/runs", req.URL.Path)
}

func TestWriteFITS_VelocityCube(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.fits")
	img := VelocityCube(4, 3, 5, -40, 20)
	img.Pixel = func(x, y, z int) float32 { return float32(z) }
	WriteFITS(t, path, img)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	fits, err := fitsio.Open(f)
	require.NoError(t, err)
	defer fits.Close()

	hdu, ok := fits.HDU(0).(fitsio.Image)
	require.True(t, ok)
	assert.Equal(t, []int{4, 3, 5, 1}, hdu.Header().Axes())
	assert.Equal(t, -32, hdu.Header().Bitpix())
	ctype, _ := hdu.Header().Get("CTYPE3").Value.(string)
	assert.Equal(t, "VOPT", strings.TrimSpace(ctype))

	data := make([]float32, 4*3*5)
	require.NoError(t, hdu.Read(&data))
	require.Len(t, data, 4*3*5)
	assert.Equal(t, float32(0), data[0])
	assert.Equal(t, float32(4), data[len(data)-1])
}
