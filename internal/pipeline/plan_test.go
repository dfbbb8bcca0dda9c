package pipeline

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aurora.cubes/internal/casa"
	"github.com/banshee-data/aurora.cubes/internal/config"
	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
)

func ptr[T any](v T) *T { return &v }

const defaultStem = "20kms_briggs_3.0sigma_20kms_cube"

func TestNewPlan_Defaults(t *testing.T) {
	p := NewPlan(config.EmptyCubeConfig())

	assert.Equal(t, defaultStem, p.Stem)
	assert.Equal(t, "0.6mJy", p.Threshold)
	assert.Equal(t, 51, p.NChan)
	assert.Equal(t, defaultStem+".clean", p.CleanImage)
	assert.Equal(t, defaultStem+".clean.image", p.CubeImage)
	assert.Equal(t, defaultStem+".mom0", p.Mom0Image)
	assert.Equal(t, defaultStem+".mom", p.MomImage)
	assert.Equal(t, defaultStem+".mom.weighted_coord", p.VelocityImage)
	assert.Equal(t, defaultStem+".mom.weighted_dispersion_coord", p.DispersionImage)

	want := casa.CleanParams{
		Vis:        "../calibrated/calibrated.ms.contsub",
		ImageName:  defaultStem + ".clean",
		Field:      "0",
		SPW:        "0,3,6,9",
		OutFrame:   "lsrk",
		VelType:    "optical",
		Start:      "-500km/s",
		Width:      "20km/s",
		NChan:      51,
		RestFreq:   "229.537GHz",
		ImSize:     []int{250, 250},
		Cell:       "0.2arcsec",
		Weighting:  "briggs",
		Robust:     0,
		UVTaper:    true,
		OuterTaper: []string{"0.5arcsec"},
		Threshold:  "0.6mJy",
		NIter:      1000,
		PBCor:      true,
	}
	if diff := cmp.Diff(want, p.Clean); diff != "" {
		t.Errorf("clean params mismatch (-want +got):\n%s", diff)
	}

	wantMoments := []casa.MomentParams{
		{ImageName: defaultStem + ".clean.image", Moments: []int{0}, OutFile: defaultStem + ".mom0", IncludePix: []float64{-1, 100}},
		{ImageName: defaultStem + ".clean.image", Moments: []int{1, 2}, OutFile: defaultStem + ".mom", IncludePix: []float64{-1, 100}},
	}
	if diff := cmp.Diff(wantMoments, p.Moments); diff != "" {
		t.Errorf("moment params mismatch (-want +got):\n%s", diff)
	}

	wantExports := []casa.ExportParams{
		{ImageName: defaultStem + ".clean.image", FITSImage: defaultStem + ".fits", Velocity: true, Overwrite: true},
		{ImageName: defaultStem + ".mom0", FITSImage: defaultStem + "_IntensityMap.fits", Overwrite: true},
		{ImageName: defaultStem + ".mom.weighted_coord", FITSImage: defaultStem + "_VelocityMap.fits", Overwrite: true},
		{ImageName: defaultStem + ".mom.weighted_dispersion_coord", FITSImage: defaultStem + "_VelocityDispersion.fits", Overwrite: true},
	}
	if diff := cmp.Diff(wantExports, p.Exports); diff != "" {
		t.Errorf("export params mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPlan_ManualChannels(t *testing.T) {
	cfg := config.EmptyCubeConfig()
	cfg.Symmetric = ptr(false)
	cfg.ManualNChannels = ptr(40)

	p := NewPlan(cfg)
	assert.Equal(t, 40, p.NChan)
	assert.Equal(t, 40, p.Clean.NChan)
}

func TestNewPlan_Overrides(t *testing.T) {
	cfg := config.EmptyCubeConfig()
	cfg.VelocityResolution = ptr(12.5)
	cfg.Weighting = ptr("natural")
	cfg.SigmaCut = ptr(4.0)
	cfg.RunName = ptr("co21")
	cfg.PixelCut = ptr(0.002)
	cfg.PrimaryBeamCorr = ptr(false)

	p := NewPlan(cfg)
	assert.Equal(t, "12.5kms_natural_4.0sigma_co21", p.Stem)
	assert.Equal(t, "0.8mJy", p.Threshold)
	assert.Equal(t, 81, p.NChan)
	assert.Equal(t, "12.5km/s", p.Clean.Width)
	assert.False(t, p.Clean.PBCor)
	assert.Equal(t, []float64{0.002, 100}, p.Moments[0].IncludePix)
}

func TestPlan_EveryArtifactSharesStem(t *testing.T) {
	p := NewPlan(config.EmptyCubeConfig())
	names := []string{p.CleanImage, p.CubeImage, p.Mom0Image, p.MomImage, p.VelocityImage, p.DispersionImage}
	names = append(names, p.FITSFiles()...)
	for _, task := range p.Tasks() {
		for _, key := range []string{"imagename", "outfile", "fitsimage"} {
			if v, ok := task.Get(key); ok {
				names = append(names, v.(string))
			}
		}
	}
	for _, n := range names {
		assert.True(t, strings.HasPrefix(n, p.Stem), "%s does not start with %s", n, p.Stem)
	}
	for _, pattern := range p.StalePatterns() {
		assert.True(t, strings.HasPrefix(pattern, p.Stem))
	}
}

func TestPlan_Tasks(t *testing.T) {
	p := NewPlan(config.EmptyCubeConfig())
	var names []string
	for _, task := range p.Tasks() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"clean", "immoments", "immoments", "exportfits", "exportfits", "exportfits", "exportfits"}, names)
}

func TestPlan_StalePatterns(t *testing.T) {
	p := NewPlan(config.EmptyCubeConfig())
	assert.Equal(t, []string{defaultStem + ".clean*", defaultStem + ".mom*"}, p.StalePatterns())
}

func TestPlan_StalePatternsStayWithinRun(t *testing.T) {
	cfg := config.EmptyCubeConfig()
	cfg.RunName = ptr("cube")
	p := NewPlan(cfg)

	neighbours := []string{"cube_mom", "cube2", "cubemom", "cube-clean"}
	for _, tag := range neighbours {
		other := config.EmptyCubeConfig()
		other.RunName = ptr(tag)
		require.NoError(t, other.Validate())
		op := NewPlan(other)
		for _, name := range []string{op.CleanImage, op.Mom0Image, op.VelocityImage, op.DispersionImage} {
			for _, pattern := range p.StalePatterns() {
				matched, err := filepath.Match(pattern, name)
				require.NoError(t, err)
				assert.False(t, matched, "%s from run %q matches %s", name, tag, pattern)
			}
		}
	}

	dotted := config.EmptyCubeConfig()
	dotted.RunName = ptr("cube.mom")
	assert.Error(t, dotted.Validate())
}

func TestPlan_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPlan(config.EmptyCubeConfig()).WriteSummary(&buf))
	want := "Made the following maps:\n" +
		defaultStem + ".fits (the full data cube)\n" +
		defaultStem + "_IntensityMap.fits\n" +
		defaultStem + "_VelocityMap.fits\n" +
		defaultStem + "_VelocityDispersion.fits\n"
	assert.Equal(t, want, buf.String())
}

func TestPlan_Expectations(t *testing.T) {
	cfg := config.EmptyCubeConfig()
	cfg.ImSize = []int{128, 96}
	p := NewPlan(cfg)

	exps := p.Expectations("/data")
	require.Len(t, exps, 4)
	assert.Equal(t, fitsprod.Expectation{
		Kind: fitsprod.KindCube, Path: filepath.Join("/data", defaultStem+".fits"), NX: 128, NY: 96, NChan: 51,
	}, exps[0])
	assert.Equal(t, fitsprod.KindDispersion, exps[3].Kind)
	assert.Zero(t, exps[3].NChan)
}

func TestPlan_Describe(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPlan(config.EmptyCubeConfig()).Describe(&buf))
	out := buf.String()
	assert.Contains(t, out, "threshold:  0.6mJy")
	assert.Contains(t, out, "nchan:      51")
	assert.Contains(t, out, defaultStem+".mom.weighted_coord -> "+defaultStem+"_VelocityMap.fits")
}
