package casa

import (
	"context"
	"sync"
)

// Recorder is an in-memory imager that records task calls instead of
// running CASA. Fail injects an error for a task name; the After hooks run
// after a call is recorded so tests can fake the files CASA would write.
type Recorder struct {
	mu    sync.Mutex
	Calls []Task
	Fail  map[string]error

	AfterExport func(ExportParams) error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{Fail: make(map[string]error)}
}

// Clean records a clean call.
func (r *Recorder) Clean(ctx context.Context, p CleanParams) error {
	return r.record(ctx, p.Task())
}

// Moments records an immoments call.
func (r *Recorder) Moments(ctx context.Context, p MomentParams) error {
	return r.record(ctx, p.Task())
}

// ExportFITS records an exportfits call and runs AfterExport.
func (r *Recorder) ExportFITS(ctx context.Context, p ExportParams) error {
	if err := r.record(ctx, p.Task()); err != nil {
		return err
	}
	if r.AfterExport != nil {
		return r.AfterExport(p)
	}
	return nil
}

// Names returns the recorded task names in call order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		names[i] = c.Name
	}
	return names
}

func (r *Recorder) record(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, t)
	if err := r.Fail[t.Name]; err != nil {
		return &TaskError{Task: t.Name, Err: err}
	}
	return nil
}
