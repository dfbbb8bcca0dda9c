package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aurora.cubes/internal/casa"
	"github.com/banshee-data/aurora.cubes/internal/config"
	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
	"github.com/banshee-data/aurora.cubes/internal/fsutil"
	"github.com/banshee-data/aurora.cubes/internal/ledger"
	"github.com/banshee-data/aurora.cubes/internal/testutil"
)

var wantOrder = []string{"clean", "immoments", "immoments", "exportfits", "exportfits", "exportfits", "exportfits"}

func summary(p *Plan) string {
	var buf bytes.Buffer
	_ = p.WriteSummary(&buf)
	return buf.String()
}

func TestDriver_RemovesStaleArtifactsThenRunsTasksInOrder(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	p := NewPlan(config.EmptyCubeConfig())
	stale := []string{
		"/work/" + p.CleanImage + ".image/table.dat",
		"/work/" + p.CleanImage + ".residual/table.dat",
		"/work/" + p.Mom0Image + "/table.dat",
		"/work/" + p.VelocityImage + "/table.dat",
	}
	for _, f := range stale {
		require.NoError(t, mem.WriteFile(f, []byte("x"), 0644))
	}
	require.NoError(t, mem.WriteFile("/work/other.fits", []byte("keep"), 0644))
	require.NoError(t, mem.WriteFile("/work/"+p.Products[0].FITS, []byte("old"), 0644))

	rec := casa.NewRecorder()
	var out bytes.Buffer
	d := &Driver{Plan: p, Imager: rec, Cleaner: fsutil.DirCleaner{FS: mem, Dir: "/work"}, Out: &out}

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/work/" + p.CleanImage + ".image",
		"/work/" + p.CleanImage + ".residual",
		"/work/" + p.MomImage + ".weighted_coord",
		"/work/" + p.Mom0Image,
	}, res.Removed)
	for _, f := range stale {
		assert.False(t, mem.Exists(f), f)
	}
	assert.True(t, mem.Exists("/work/other.fits"))
	// Exported FITS files are overwritten by exportfits, not removed.
	assert.True(t, mem.Exists("/work/"+p.Products[0].FITS))

	assert.Equal(t, wantOrder, rec.Names())
	assert.Equal(t, p.Tasks(), rec.Calls)
	assert.Equal(t, summary(p), out.String())
	assert.Empty(t, res.RunID)
	assert.Nil(t, res.Report)
}

func TestDriver_RerunIsIdempotent(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	p := NewPlan(config.EmptyCubeConfig())

	run := func() (*Result, *casa.Recorder, string) {
		rec := casa.NewRecorder()
		// Stand in for CASA: each run leaves images and FITS behind.
		rec.AfterExport = func(e casa.ExportParams) error {
			if err := mem.WriteFile("/work/"+e.ImageName+"/table.dat", []byte("img"), 0644); err != nil {
				return err
			}
			return mem.WriteFile("/work/"+e.FITSImage, []byte("fits"), 0644)
		}
		var out bytes.Buffer
		d := &Driver{Plan: p, Imager: rec, Cleaner: fsutil.DirCleaner{FS: mem, Dir: "/work"}, Out: &out}
		res, err := d.Run(context.Background())
		require.NoError(t, err)
		return res, rec, out.String()
	}

	first, rec1, out1 := run()
	second, rec2, out2 := run()

	assert.Empty(t, first.Removed)
	assert.NotEmpty(t, second.Removed)
	assert.Equal(t, rec1.Calls, rec2.Calls)
	assert.Equal(t, out1, out2)
	for _, name := range p.FITSFiles() {
		assert.True(t, mem.Exists("/work/"+name), name)
	}
}

func TestDriver_TaskFailureAborts(t *testing.T) {
	rec := casa.NewRecorder()
	boom := errors.New("exit status 1")
	rec.Fail[casa.TaskImmoments] = boom

	var out bytes.Buffer
	p := NewPlan(config.EmptyCubeConfig())
	d := &Driver{Plan: p, Imager: rec, Cleaner: fsutil.DirCleaner{FS: fsutil.NewMemoryFileSystem(), Dir: "/w"}, Out: &out}

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	var taskErr *casa.TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, casa.TaskImmoments, taskErr.Task)
	assert.Contains(t, err.Error(), p.Mom0Image)

	assert.Equal(t, []string{"clean", "immoments"}, rec.Names())
	assert.Empty(t, out.String())
}

func TestDriver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := casa.NewRecorder()
	d := &Driver{
		Plan:    NewPlan(config.EmptyCubeConfig()),
		Imager:  rec,
		Cleaner: fsutil.DirCleaner{FS: fsutil.NewMemoryFileSystem(), Dir: "/w"},
		Out:     &bytes.Buffer{},
	}
	_, err := d.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, rec.Calls)
}

type failingCleaner struct{}

func (failingCleaner) RemoveMatching(context.Context, ...string) ([]string, error) {
	return nil, os.ErrPermission
}

func TestDriver_CleanerFailure(t *testing.T) {
	rec := casa.NewRecorder()
	d := &Driver{Plan: NewPlan(config.EmptyCubeConfig()), Imager: rec, Cleaner: failingCleaner{}, Out: &bytes.Buffer{}}
	_, err := d.Run(context.Background())
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Empty(t, rec.Calls)
}

// fixtureImager writes FITS products the way exportfits would, with the
// cube carrying nchan planes.
func fixtureImager(t *testing.T, dir string, p *Plan, nchan int) *casa.Recorder {
	rec := casa.NewRecorder()
	rec.AfterExport = func(e casa.ExportParams) error {
		path := filepath.Join(dir, e.FITSImage)
		if e.Velocity {
			cube := testutil.VelocityCube(p.ImSize[0], p.ImSize[1], nchan, -500, 20)
			cube.Pixel = func(x, y, z int) float32 { return float32(z%7) * 0.001 }
			testutil.WriteFITS(t, path, cube)
			return nil
		}
		testutil.WriteFITS(t, path, testutil.MomentMap(p.ImSize[0], p.ImSize[1], "Jy/beam.km/s"))
		return nil
	}
	return rec
}

func smallConfig() *config.CubeConfig {
	cfg := config.EmptyCubeConfig()
	cfg.ImSize = []int{8, 6}
	return cfg
}

func TestDriver_VerifyQuicklookAndLedger(t *testing.T) {
	dir := t.TempDir()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "aurora.db"))
	require.NoError(t, err)
	defer db.Close()

	p := NewPlan(smallConfig())
	var out bytes.Buffer
	d := &Driver{
		Plan:       p,
		Imager:     fixtureImager(t, dir, p, p.NChan),
		Cleaner:    fsutil.DirCleaner{FS: fsutil.OSFileSystem{}, Dir: dir},
		Out:        &out,
		ProductDir: dir,
		Verify:     true,
		Quicklook:  true,
		Ledger:     db,
		ConfigJSON: []byte(`{}`),
	}

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.OK())
	require.NotNil(t, res.Quicklook)
	assert.FileExists(t, res.Quicklook.PNG)
	assert.FileExists(t, res.Quicklook.HTML)
	assert.Equal(t, summary(p), out.String())

	ctx := context.Background()
	run, err := db.Run(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)
	assert.Equal(t, p.Stem, run.Stem)
	assert.Equal(t, 51, run.NChan)

	products, err := db.Products(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, products, 4)
	assert.Equal(t, fitsprod.KindCube, products[0].Kind)
	assert.Equal(t, "8x6x51x1", products[0].Axes)
	for _, prod := range products {
		assert.True(t, prod.Verified, prod.Kind)
	}
}

func TestDriver_VerificationFailureMarksRunFailed(t *testing.T) {
	dir := t.TempDir()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "aurora.db"))
	require.NoError(t, err)
	defer db.Close()

	p := NewPlan(smallConfig())
	var out bytes.Buffer
	d := &Driver{
		Plan:       p,
		Imager:     fixtureImager(t, dir, p, 40),
		Cleaner:    fsutil.DirCleaner{FS: fsutil.OSFileSystem{}, Dir: dir},
		Out:        &out,
		ProductDir: dir,
		Verify:     true,
		Ledger:     db,
	}

	res, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NAXIS3=40, want 51 channels")
	assert.Empty(t, out.String())

	run, err := db.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "product verification failed")

	products, err := db.Products(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, products, 4)
	assert.False(t, products[0].Verified)
	assert.True(t, products[1].Verified)
}
