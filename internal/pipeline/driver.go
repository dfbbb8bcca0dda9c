package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/aurora.cubes/internal/casa"
	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
	"github.com/banshee-data/aurora.cubes/internal/ledger"
	"github.com/banshee-data/aurora.cubes/internal/monitoring"
	"github.com/banshee-data/aurora.cubes/internal/quicklook"
)

// Imager runs the external imaging tasks.
type Imager interface {
	Clean(ctx context.Context, p casa.CleanParams) error
	Moments(ctx context.Context, p casa.MomentParams) error
	ExportFITS(ctx context.Context, p casa.ExportParams) error
}

// Cleaner removes artifacts matching glob patterns in the working
// directory.
type Cleaner interface {
	RemoveMatching(ctx context.Context, patterns ...string) ([]string, error)
}

// Ledger records runs and their products.
type Ledger interface {
	StartRun(ctx context.Context, r ledger.NewRun) (string, error)
	FinishRun(ctx context.Context, id string, runErr error) error
	RecordProduct(ctx context.Context, runID string, p ledger.Product) error
}

// Driver runs a plan end to end.
type Driver struct {
	Plan    *Plan
	Imager  Imager
	Cleaner Cleaner
	Out     io.Writer

	// ProductDir is where the exported FITS files can be read. Verification
	// and quicklook are skipped when it is empty.
	ProductDir string
	Verify     bool
	Quicklook  bool

	// Ledger is optional.
	Ledger     Ledger
	Target     string
	DryRun     bool
	ConfigJSON []byte
}

// Result describes a finished run.
type Result struct {
	RunID     string
	Removed   []string
	Report    *fitsprod.Report
	Quicklook *quicklook.Outputs
}

// Run executes the plan: stale artifact removal, CLEAN, moments, FITS
// export, optional verification and quicklook, then the summary. The first
// failure aborts the run.
func (d *Driver) Run(ctx context.Context) (res *Result, err error) {
	p := d.Plan
	res = &Result{}

	if d.Ledger != nil {
		id, startErr := d.Ledger.StartRun(ctx, ledger.NewRun{
			Stem:       p.Stem,
			Threshold:  p.Threshold,
			NChan:      p.NChan,
			Target:     d.Target,
			DryRun:     d.DryRun,
			ConfigJSON: d.ConfigJSON,
		})
		if startErr != nil {
			return nil, startErr
		}
		res.RunID = id
		defer func() {
			// Record the outcome even when ctx was cancelled.
			if finishErr := d.Ledger.FinishRun(context.WithoutCancel(ctx), id, err); finishErr != nil {
				monitoring.Logf("failed to finish run %s in ledger: %v", id, finishErr)
			}
		}()
	}

	monitoring.Logf("run %s: threshold=%s nchan=%d", p.Stem, p.Threshold, p.NChan)

	removed, err := d.Cleaner.RemoveMatching(ctx, p.StalePatterns()...)
	if err != nil {
		return res, fmt.Errorf("failed to remove stale artifacts: %w", err)
	}
	res.Removed = removed
	if len(removed) > 0 {
		monitoring.Logf("removed %d stale artifacts", len(removed))
	}

	if err = d.image(ctx); err != nil {
		return res, err
	}

	if d.Verify && d.ProductDir != "" {
		res.Report = p.Verify(d.ProductDir)
		if err = d.record(ctx, res); err != nil {
			return res, err
		}
		if err = res.Report.Err(); err != nil {
			return res, fmt.Errorf("product verification failed: %w", err)
		}
	}

	if d.Quicklook && d.ProductDir != "" {
		res.Quicklook, err = RenderQuicklook(p, d.ProductDir)
		if err != nil {
			return res, err
		}
	}

	if err = p.WriteSummary(d.Out); err != nil {
		return res, err
	}
	return res, nil
}

func (d *Driver) image(ctx context.Context) error {
	p := d.Plan
	if err := d.Imager.Clean(ctx, p.Clean); err != nil {
		return fmt.Errorf("clean %s: %w", p.CleanImage, err)
	}
	for _, m := range p.Moments {
		if err := d.Imager.Moments(ctx, m); err != nil {
			return fmt.Errorf("immoments %s: %w", m.OutFile, err)
		}
	}
	for _, e := range p.Exports {
		if err := d.Imager.ExportFITS(ctx, e); err != nil {
			return fmt.Errorf("exportfits %s: %w", e.FITSImage, err)
		}
	}
	return nil
}

func (d *Driver) record(ctx context.Context, res *Result) error {
	if d.Ledger == nil || res.RunID == "" {
		return nil
	}
	for _, r := range res.Report.Results {
		if err := d.Ledger.RecordProduct(ctx, res.RunID, ledger.ProductFromResult(r)); err != nil {
			return err
		}
	}
	return nil
}

// RenderQuicklook reads the cube and moment-0 map from dir and writes the
// quicklook outputs next to them.
func RenderQuicklook(p *Plan, dir string) (*quicklook.Outputs, error) {
	cubeProd, _ := p.Product(fitsprod.KindCube)
	mom0Prod, _ := p.Product(fitsprod.KindIntensity)

	cube, err := fitsprod.Open(filepath.Join(dir, cubeProd.FITS))
	if err != nil {
		return nil, fmt.Errorf("quicklook: %w", err)
	}
	mom0, err := fitsprod.Open(filepath.Join(dir, mom0Prod.FITS))
	if err != nil {
		return nil, fmt.Errorf("quicklook: %w", err)
	}
	out, err := quicklook.Render(dir, p.Stem, cube, mom0)
	if err != nil {
		return nil, fmt.Errorf("quicklook: %w", err)
	}
	return out, nil
}
