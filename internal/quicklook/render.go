package quicklook

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
	"github.com/banshee-data/aurora.cubes/internal/monitoring"
)

// HistogramBins is the number of bins in the moment-0 histogram.
const HistogramBins = 40

// Outputs lists the files written by Render.
type Outputs struct {
	PNG  string
	HTML string
}

// Files returns the output paths.
func (o *Outputs) Files() []string {
	return []string{o.PNG, o.HTML}
}

// Render writes {stem}_spectrum.png and {stem}_quicklook.html into dir.
// mom0 may be nil, in which case the page carries only the spectrum.
func Render(dir, stem string, cube, mom0 *fitsprod.Image) (*Outputs, error) {
	sp, err := SpectrumOf(cube)
	if err != nil {
		return nil, fmt.Errorf("spectrum: %w", err)
	}

	out := &Outputs{
		PNG:  filepath.Join(dir, stem+"_spectrum.png"),
		HTML: filepath.Join(dir, stem+"_quicklook.html"),
	}
	if err := RenderPNG(sp, stem, out.PNG); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := RenderHTML(&buf, stem, sp, mom0); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out.HTML, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", out.HTML, err)
	}

	v, f := sp.Peak()
	monitoring.Logf("quicklook: peak %.4g %s at %.1f km/s", f, sp.Unit, v)
	return out, nil
}

// RenderPNG plots the spectrum to path.
func RenderPNG(sp *Spectrum, title, path string) error {
	p := plot.New()
	p.Title.Text = title + " - integrated spectrum"
	p.X.Label.Text = "Velocity (km/s)"
	p.Y.Label.Text = fmt.Sprintf("Sum (%s)", sp.Unit)

	pts := make(plotter.XYs, len(sp.Flux))
	for i := range sp.Flux {
		pts[i].X = sp.Velocity[i]
		pts[i].Y = sp.Flux[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build spectrum line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.StepStyle = plotter.MidStep
	p.Add(plotter.NewGrid(), line)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// RenderHTML writes a page with the spectrum and, when mom0 is non-nil, the
// moment-0 pixel histogram.
func RenderHTML(w io.Writer, title string, sp *Spectrum, mom0 *fitsprod.Image) error {
	x := make([]string, len(sp.Velocity))
	y := make([]opts.LineData, len(sp.Flux))
	for i := range sp.Flux {
		x[i] = fmt.Sprintf("%.1f", sp.Velocity[i])
		y[i] = opts.LineData{Value: sp.Flux[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Integrated spectrum", Subtitle: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "km/s", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: sp.Unit}),
	)
	line.SetXAxis(x).AddSeries("spectrum", y)

	page := components.NewPage()
	page.AddCharts(line)

	if mom0 != nil {
		hist := NewHistogram(mom0.Data, HistogramBins)
		labels := make([]string, len(hist.Counts))
		bars := make([]opts.BarData, len(hist.Counts))
		for i, c := range hist.Counts {
			labels[i] = fmt.Sprintf("%.3g", (hist.Edges[i]+hist.Edges[i+1])/2)
			bars[i] = opts.BarData{Value: c}
		}
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "360px"}),
			charts.WithTitleOpts(opts.Title{Title: "Moment 0 pixels", Subtitle: mom0.Header.BUnit}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(labels).AddSeries("pixels", bars)
		page.AddCharts(bar)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render quicklook page: %w", err)
	}
	return nil
}
