// Package casa describes calls into the CASA imaging tasks (clean,
// immoments, exportfits), renders them as CASA scripts and runs them.
package casa

import (
	"fmt"
	"strings"
)

// Task names.
const (
	TaskClean      = "clean"
	TaskImmoments  = "immoments"
	TaskExportFITS = "exportfits"
)

// Param is one keyword argument of a task call.
type Param struct {
	Name  string
	Value interface{}
}

// Task is a single CASA task call with its keyword arguments in call order.
type Task struct {
	Name   string
	Params []Param
}

// Get returns the value of the named parameter.
func (t Task) Get(name string) (interface{}, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Call renders the task as a Python call expression, one keyword per line.
func (t Task) Call() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteString("(\n")
	for _, p := range t.Params {
		fmt.Fprintf(&b, "    %s=%s,\n", p.Name, Literal(p.Value))
	}
	b.WriteString(")")
	return b.String()
}

// CleanParams are the inputs of the CLEAN deconvolution in velocity mode.
type CleanParams struct {
	Vis        string
	ImageName  string
	Field      string
	SPW        string
	OutFrame   string
	VelType    string
	Start      string // e.g. "-500km/s"
	Width      string // e.g. "20km/s"
	NChan      int
	RestFreq   string
	ImSize     []int
	Cell       string
	Weighting  string
	Robust     float64
	UVTaper    bool
	OuterTaper []string
	Threshold  string
	NIter      int
	PBCor      bool
}

// Task converts the parameters into a clean call.
func (p CleanParams) Task() Task {
	return Task{Name: TaskClean, Params: []Param{
		{"vis", p.Vis},
		{"imagename", p.ImageName},
		{"field", p.Field},
		{"spw", p.SPW},
		{"mode", "velocity"},
		{"outframe", p.OutFrame},
		{"veltype", p.VelType},
		{"start", p.Start},
		{"width", p.Width},
		{"nchan", p.NChan},
		{"restfreq", p.RestFreq},
		{"interactive", false},
		{"imsize", p.ImSize},
		{"cell", p.Cell},
		{"weighting", p.Weighting},
		{"robust", p.Robust},
		{"uvtaper", p.UVTaper},
		{"outertaper", p.OuterTaper},
		{"threshold", p.Threshold},
		{"niter", p.NIter},
		{"pbcor", p.PBCor},
	}}
}

// MomentParams are the inputs of one immoments call.
type MomentParams struct {
	ImageName  string
	Moments    []int
	OutFile    string
	IncludePix []float64 // [low, high]
}

// Task converts the parameters into an immoments call.
func (p MomentParams) Task() Task {
	return Task{Name: TaskImmoments, Params: []Param{
		{"imagename", p.ImageName},
		{"moments", p.Moments},
		{"outfile", p.OutFile},
		{"includepix", p.IncludePix},
	}}
}

// ExportParams are the inputs of one exportfits call.
type ExportParams struct {
	ImageName string
	FITSImage string
	Velocity  bool
	Overwrite bool
}

// Task converts the parameters into an exportfits call. The velocity flag
// is only passed when set, matching how the cube export is the only call
// that labels its spectral axis in velocity.
func (p ExportParams) Task() Task {
	params := []Param{
		{"imagename", p.ImageName},
		{"fitsimage", p.FITSImage},
	}
	if p.Velocity {
		params = append(params, Param{"velocity", true})
	}
	params = append(params, Param{"overwrite", p.Overwrite})
	return Task{Name: TaskExportFITS, Params: params}
}

// Script renders tasks as a CASA script. Each call is guarded so that a task
// raising or returning False stops the script with a non-zero exit status.
func Script(tasks ...Task) string {
	var b strings.Builder
	b.WriteString("# Generated by aurora-cubes. Run with: casa --nogui -c <this file>\n")
	b.WriteString("import sys\n")
	for _, t := range tasks {
		b.WriteString("\n")
		b.WriteString("try:\n")
		b.WriteString("    result = ")
		b.WriteString(strings.ReplaceAll(t.Call(), "\n", "\n    "))
		b.WriteString("\n")
		b.WriteString("except Exception as exc:\n")
		fmt.Fprintf(&b, "    print('aurora-cubes: %s raised %%s' %% exc)\n", t.Name)
		b.WriteString("    sys.exit(1)\n")
		b.WriteString("if result is False:\n")
		fmt.Fprintf(&b, "    print('aurora-cubes: %s failed')\n", t.Name)
		b.WriteString("    sys.exit(1)\n")
	}
	return b.String()
}
