package casa

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// CommandRunner executes programs and writes files in the imaging working
// directory. *shell.Executor satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	WriteFile(ctx context.Context, name string, content []byte) error
}

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}

// DefaultArgs start CASA headless with its log on the terminal, so task
// errors appear in the captured output.
var DefaultArgs = []string{"--nogui", "--nologger", "--log2term"}

// ScriptDir is where per-task scripts are written, relative to the working
// directory.
const ScriptDir = ".aurora"

// severeMarker is the level column of a CASA log line reporting an error.
const severeMarker = "\tSEVERE\t"

// TaskError reports a failed CASA task together with the tail of its output.
type TaskError struct {
	Task   string
	Script string
	Output string
	Err    error
}

func (e *TaskError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("casa task %s failed: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("casa task %s failed: %v\n%s", e.Task, e.Err, e.Output)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Runner executes each task in its own CASA session through a
// CommandRunner. Scripts are kept under ScriptDir for inspection.
type Runner struct {
	Exec   CommandRunner
	Casa   string
	Args   []string
	Logger Logger

	seq int
}

// NewRunner creates a Runner invoking the casa executable at casaPath.
func NewRunner(exec CommandRunner, casaPath string) *Runner {
	if casaPath == "" {
		casaPath = "casa"
	}
	return &Runner{
		Exec:   exec,
		Casa:   casaPath,
		Args:   append([]string(nil), DefaultArgs...),
		Logger: nopLogger{},
	}
}

// Clean runs the CLEAN deconvolution.
func (r *Runner) Clean(ctx context.Context, p CleanParams) error {
	return r.Run(ctx, p.Task())
}

// Moments runs one immoments call.
func (r *Runner) Moments(ctx context.Context, p MomentParams) error {
	return r.Run(ctx, p.Task())
}

// ExportFITS runs one exportfits call.
func (r *Runner) ExportFITS(ctx context.Context, p ExportParams) error {
	return r.Run(ctx, p.Task())
}

// Run writes t to a numbered script and executes it with CASA.
func (r *Runner) Run(ctx context.Context, t Task) error {
	r.seq++
	script := path.Join(ScriptDir, fmt.Sprintf("%02d_%s.py", r.seq, t.Name))
	if err := r.Exec.WriteFile(ctx, script, []byte(Script(t))); err != nil {
		return fmt.Errorf("failed to write %s: %w", script, err)
	}

	args := append(append([]string(nil), r.Args...), "-c", script)
	r.Logger.Debugf("casa %s: %s %s", t.Name, r.Casa, strings.Join(args, " "))

	output, err := r.Exec.Run(ctx, r.Casa, args...)
	if err == nil && strings.Contains(output, severeMarker) {
		err = fmt.Errorf("SEVERE message in CASA log")
	}
	if err != nil {
		return &TaskError{Task: t.Name, Script: script, Output: tail(output, 20), Err: err}
	}
	return nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
