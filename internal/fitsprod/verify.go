package fitsprod

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/aurora.cubes/internal/units"
)

// Product kinds.
const (
	KindCube       = "cube"
	KindIntensity  = "intensity"
	KindVelocity   = "velocity"
	KindDispersion = "dispersion"
)

// Expectation describes one exported product and the shape it must have.
// NChan is only checked for cubes.
type Expectation struct {
	Kind  string
	Path  string
	NX    int
	NY    int
	NChan int
}

// Result is the outcome of checking one product.
type Result struct {
	Expectation Expectation
	Header      Header
	Stats       Stats
	Problems    []string
	Err         error
}

// OK reports whether the product was read and passed every check.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Problems) == 0
}

// Report collects the results of a verification pass in product order.
type Report struct {
	Results []Result
}

// OK reports whether every product passed.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Err joins every read error and failed check, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		exp := res.Expectation
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", exp.Kind, res.Err))
			continue
		}
		if len(res.Problems) > 0 {
			errs = append(errs, fmt.Errorf("%s (%s): %s", exp.Kind, exp.Path, strings.Join(res.Problems, "; ")))
		}
	}
	return errors.Join(errs...)
}

// Inspect reads a product and returns its header and pixel statistics.
func Inspect(path string) (Header, Stats, error) {
	img, err := Open(path)
	if err != nil {
		return Header{}, Stats{}, err
	}
	return img.Header, img.Stats(), nil
}

// Verify opens every expected product and checks it.
func Verify(exps []Expectation) *Report {
	report := &Report{Results: make([]Result, 0, len(exps))}
	for _, exp := range exps {
		res := Result{Expectation: exp}
		h, s, err := Inspect(exp.Path)
		if err != nil {
			res.Err = err
		} else {
			res.Header, res.Stats = h, s
			res.Problems = Check(h, s, exp)
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// Check compares a product header against its expectation.
func Check(h Header, s Stats, exp Expectation) []string {
	var problems []string
	if len(h.Axes) < 2 {
		return append(problems, fmt.Sprintf("expected at least 2 axes, got %d", len(h.Axes)))
	}
	if h.Axes[0] != exp.NX || h.Axes[1] != exp.NY {
		problems = append(problems, fmt.Sprintf("spatial axes %dx%d, want %dx%d", h.Axes[0], h.Axes[1], exp.NX, exp.NY))
	}

	if exp.Kind == KindCube {
		switch {
		case len(h.Axes) < 3:
			problems = append(problems, "cube has no spectral axis")
		default:
			if h.Axes[2] != exp.NChan {
				problems = append(problems, fmt.Sprintf("NAXIS3=%d, want %d channels", h.Axes[2], exp.NChan))
			}
			if !IsVelocityAxis(h.CType3) {
				problems = append(problems, fmt.Sprintf("CTYPE3=%q is not a velocity axis", h.CType3))
			} else if h.CUnit3 != "" && !units.IsVelocity(h.CUnit3) {
				problems = append(problems, fmt.Sprintf("CUNIT3=%q is not a velocity unit", h.CUnit3))
			}
		}
	} else if len(h.Axes) >= 3 && h.Axes[2] != 1 {
		problems = append(problems, fmt.Sprintf("moment map has %d spectral planes", h.Axes[2]))
	}

	if s.Count == 0 {
		problems = append(problems, "no finite pixels")
	}
	return problems
}

// IsVelocityAxis reports whether ctype names a velocity spectral axis.
func IsVelocityAxis(ctype string) bool {
	c := strings.ToUpper(strings.TrimSpace(ctype))
	return strings.HasPrefix(c, "V") || strings.HasPrefix(c, "FELO")
}
