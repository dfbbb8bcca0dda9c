package pipeline

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/aurora.cubes/internal/casa"
	"github.com/banshee-data/aurora.cubes/internal/config"
	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
)

// Product pairs a CASA image with the FITS file it is exported to.
type Product struct {
	Kind  string
	Image string
	FITS  string
}

// Plan holds every derived parameter and artifact name of a run. It is a
// pure function of the configuration.
type Plan struct {
	Stem      string
	Threshold string
	NChan     int
	ImSize    []int

	CleanImage      string
	CubeImage       string
	Mom0Image       string
	MomImage        string
	VelocityImage   string
	DispersionImage string

	Products []Product

	Clean   casa.CleanParams
	Moments []casa.MomentParams
	Exports []casa.ExportParams
}

// NewPlan derives a plan from cfg. Unset fields take their defaults.
func NewPlan(cfg *config.CubeConfig) *Plan {
	res := cfg.GetVelocityResolution()
	sigma := cfg.GetSigmaCut()
	stem := Stem(res, cfg.GetWeighting(), sigma, cfg.GetRunName())

	p := &Plan{
		Stem:      stem,
		Threshold: Threshold(sigma, cfg.GetRMSmJy()),
		NChan:     ChannelCount(cfg.GetSymmetric(), cfg.GetBlueEdge(), res, cfg.GetManualNChannels()),
		ImSize:    cfg.GetImSize(),

		CleanImage:      stem + ".clean",
		CubeImage:       stem + ".clean.image",
		Mom0Image:       stem + ".mom0",
		MomImage:        stem + ".mom",
		VelocityImage:   stem + ".mom.weighted_coord",
		DispersionImage: stem + ".mom.weighted_dispersion_coord",
	}

	p.Products = []Product{
		{Kind: fitsprod.KindCube, Image: p.CubeImage, FITS: stem + ".fits"},
		{Kind: fitsprod.KindIntensity, Image: p.Mom0Image, FITS: stem + "_IntensityMap.fits"},
		{Kind: fitsprod.KindVelocity, Image: p.VelocityImage, FITS: stem + "_VelocityMap.fits"},
		{Kind: fitsprod.KindDispersion, Image: p.DispersionImage, FITS: stem + "_VelocityDispersion.fits"},
	}

	p.Clean = casa.CleanParams{
		Vis:        cfg.GetVis(),
		ImageName:  p.CleanImage,
		Field:      cfg.GetField(),
		SPW:        cfg.GetSPW(),
		OutFrame:   cfg.GetOutFrame(),
		VelType:    cfg.GetVelType(),
		Start:      Velocity(cfg.GetBlueEdge()),
		Width:      Velocity(res),
		NChan:      p.NChan,
		RestFreq:   cfg.GetRestFreq(),
		ImSize:     p.ImSize,
		Cell:       cfg.GetCell(),
		Weighting:  cfg.GetWeighting(),
		Robust:     cfg.GetRobust(),
		UVTaper:    cfg.GetTaper(),
		OuterTaper: cfg.GetOuterTaper(),
		Threshold:  p.Threshold,
		NIter:      cfg.GetNIter(),
		PBCor:      cfg.GetPrimaryBeamCorr(),
	}

	include := []float64{cfg.GetPixelCut(), cfg.GetIncludeMax()}
	p.Moments = []casa.MomentParams{
		{ImageName: p.CubeImage, Moments: []int{0}, OutFile: p.Mom0Image, IncludePix: include},
		{ImageName: p.CubeImage, Moments: []int{1, 2}, OutFile: p.MomImage, IncludePix: include},
	}

	for _, prod := range p.Products {
		p.Exports = append(p.Exports, casa.ExportParams{
			ImageName: prod.Image,
			FITSImage: prod.FITS,
			Velocity:  prod.Kind == fitsprod.KindCube,
			Overwrite: true,
		})
	}
	return p
}

// StalePatterns are the globs of artifacts a previous run with the same
// stem may have left behind.
func (p *Plan) StalePatterns() []string {
	return []string{p.Stem + ".clean*", p.Stem + ".mom*"}
}

// Tasks returns every task of the run in execution order.
func (p *Plan) Tasks() []casa.Task {
	tasks := []casa.Task{p.Clean.Task()}
	for _, m := range p.Moments {
		tasks = append(tasks, m.Task())
	}
	for _, e := range p.Exports {
		tasks = append(tasks, e.Task())
	}
	return tasks
}

// FITSFiles returns the exported file names in summary order.
func (p *Plan) FITSFiles() []string {
	names := make([]string, len(p.Products))
	for i, prod := range p.Products {
		names[i] = prod.FITS
	}
	return names
}

// Product returns the product of the given kind.
func (p *Plan) Product(kind string) (Product, bool) {
	for _, prod := range p.Products {
		if prod.Kind == kind {
			return prod, true
		}
	}
	return Product{}, false
}

// Expectations describes the exported products found in dir.
func (p *Plan) Expectations(dir string) []fitsprod.Expectation {
	nx, ny := 0, 0
	if len(p.ImSize) > 0 {
		nx, ny = p.ImSize[0], p.ImSize[0]
	}
	if len(p.ImSize) > 1 {
		ny = p.ImSize[1]
	}
	exps := make([]fitsprod.Expectation, len(p.Products))
	for i, prod := range p.Products {
		exps[i] = fitsprod.Expectation{
			Kind: prod.Kind,
			Path: filepath.Join(dir, prod.FITS),
			NX:   nx,
			NY:   ny,
		}
		if prod.Kind == fitsprod.KindCube {
			exps[i].NChan = p.NChan
		}
	}
	return exps
}

// Verify checks the exported products in dir.
func (p *Plan) Verify(dir string) *fitsprod.Report {
	return fitsprod.Verify(p.Expectations(dir))
}

// WriteSummary prints the list of maps made by the run.
func (p *Plan) WriteSummary(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Made the following maps:\n%s (the full data cube)\n%s\n%s\n%s\n",
		p.Products[0].FITS, p.Products[1].FITS, p.Products[2].FITS, p.Products[3].FITS)
	return err
}

// Describe prints the derived parameters and artifact names.
func (p *Plan) Describe(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("stem:       %s", p.Stem),
		fmt.Sprintf("threshold:  %s", p.Threshold),
		fmt.Sprintf("nchan:      %d", p.NChan),
		fmt.Sprintf("start:      %s", p.Clean.Start),
		fmt.Sprintf("width:      %s", p.Clean.Width),
		fmt.Sprintf("clean:      %s", p.CleanImage),
		fmt.Sprintf("moments:    %s, %s", p.Mom0Image, p.MomImage),
		fmt.Sprintf("stale:      %v", p.StalePatterns()),
	}
	for _, prod := range p.Products {
		lines = append(lines, fmt.Sprintf("%-11s %s -> %s", prod.Kind+":", prod.Image, prod.FITS))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
