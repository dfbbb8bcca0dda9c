package casa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommandRunner struct {
	files  map[string]string
	runs   [][]string
	output string
	err    error
}

func newFakeCommandRunner() *fakeCommandRunner {
	return &fakeCommandRunner{files: make(map[string]string)}
}

func (f *fakeCommandRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.runs = append(f.runs, append([]string{name}, args...))
	return f.output, f.err
}

func (f *fakeCommandRunner) WriteFile(ctx context.Context, name string, content []byte) error {
	f.files[name] = string(content)
	return nil
}

func TestRunner_NumbersScripts(t *testing.T) {
	fake := newFakeCommandRunner()
	r := NewRunner(fake, "/opt/casa/bin/casa")
	ctx := context.Background()

	require.NoError(t, r.Clean(ctx, sampleClean()))
	require.NoError(t, r.Moments(ctx, MomentParams{ImageName: "s.clean.image", Moments: []int{0}, OutFile: "s.mom0", IncludePix: []float64{-1, 100}}))
	require.NoError(t, r.ExportFITS(ctx, ExportParams{ImageName: "s.mom0", FITSImage: "s_IntensityMap.fits"}))

	require.Len(t, fake.runs, 3)
	assert.Equal(t, []string{"/opt/casa/bin/casa", "--nogui", "--nologger", "--log2term", "-c", ".aurora/01_clean.py"}, fake.runs[0])
	assert.Equal(t, ".aurora/02_immoments.py", fake.runs[1][len(fake.runs[1])-1])
	assert.Equal(t, ".aurora/03_exportfits.py", fake.runs[2][len(fake.runs[2])-1])

	assert.Contains(t, fake.files[".aurora/01_clean.py"], "nchan=51,")
	assert.Contains(t, fake.files[".aurora/03_exportfits.py"], "fitsimage='s_IntensityMap.fits',")
}

func TestRunner_DefaultExecutable(t *testing.T) {
	r := NewRunner(newFakeCommandRunner(), "")
	assert.Equal(t, "casa", r.Casa)
}

func TestRunner_CommandFailure(t *testing.T) {
	fake := newFakeCommandRunner()
	fake.output = strings.Repeat("line\n", 30) + "aurora-cubes: clean raised bad vis\n"
	fake.err = errors.New("exit status 1")
	r := NewRunner(fake, "casa")

	err := r.Clean(context.Background(), sampleClean())
	require.Error(t, err)

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, TaskClean, taskErr.Task)
	assert.Equal(t, ".aurora/01_clean.py", taskErr.Script)
	assert.Equal(t, 20, strings.Count(taskErr.Output, "\n")+1, "output should be trimmed to the last 20 lines")
	assert.Contains(t, taskErr.Error(), "clean raised bad vis")
	assert.Equal(t, fake.err, errors.Unwrap(err))
}

func TestRunner_SevereLogFails(t *testing.T) {
	fake := newFakeCommandRunner()
	fake.output = "2024-05-01 10:00:00\tSEVERE\timmoments::::\tNo such image\n"
	r := NewRunner(fake, "casa")

	err := r.Moments(context.Background(), MomentParams{ImageName: "missing.image", Moments: []int{0}, OutFile: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEVERE")
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	var exported []string
	rec.AfterExport = func(p ExportParams) error {
		exported = append(exported, p.FITSImage)
		return nil
	}

	require.NoError(t, rec.Clean(ctx, sampleClean()))
	require.NoError(t, rec.ExportFITS(ctx, ExportParams{ImageName: "a", FITSImage: "a.fits"}))
	assert.Equal(t, []string{TaskClean, TaskExportFITS}, rec.Names())
	assert.Equal(t, []string{"a.fits"}, exported)

	rec.Fail[TaskImmoments] = errors.New("boom")
	err := rec.Moments(ctx, MomentParams{})
	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, TaskImmoments, taskErr.Task)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, rec.Clean(cancelled, sampleClean()), context.Canceled)
}
