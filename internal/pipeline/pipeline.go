// Package pipeline implements the staged operation framework and its four
// concrete variants: package import, local signing, remote signing, and
// certificate import. A pipeline is an ordered, non-concurrent sequence of
// fallible stages with guaranteed cleanup on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Stage is one fallible step of a pipeline run. Stages execute sequentially;
// each consumes the output location of the previous one.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Run is the ephemeral state of one pipeline execution. It owns a scratch
// working directory that is removed on every exit path: success, failure,
// or cancellation.
type Run struct {
	// Pipeline names the variant for logging.
	Pipeline string

	// WorkDir is the run's scratch directory.
	WorkDir string

	// Completed records the names of stages that finished, in order.
	Completed []string

	// undo lists paths outside WorkDir that are removed when the run fails,
	// so partially-produced outputs never survive a failed pipeline.
	undo []string
}

// Begin creates a pipeline run with a fresh scratch directory.
func Begin(pipeline string) (*Run, error) {
	workDir, err := os.MkdirTemp("", "portalkit-"+pipeline+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	return &Run{Pipeline: pipeline, WorkDir: workDir}, nil
}

// Path joins parts onto the run's working directory.
func (r *Run) Path(parts ...string) string {
	return filepath.Join(append([]string{r.WorkDir}, parts...)...)
}

// UndoOnFailure registers a path outside the working directory for removal
// if the run fails. Stages call this before producing output in shared
// locations such as the package library.
func (r *Run) UndoOnFailure(path string) {
	r.undo = append(r.undo, path)
}

// Execute runs the stages in order. On any stage failure execution halts,
// best-effort cleanup runs, and the original error is returned unchanged —
// cleanup failures are logged and never mask it. On success the cleanup
// stage still runs (removing the scratch directory) before returning.
// Context cancellation between stages aborts the run and still cleans up.
func (r *Run) Execute(ctx context.Context, stages []Stage) error {
	err := r.runStages(ctx, stages)
	r.cleanup(err != nil)
	return err
}

func (r *Run) runStages(ctx context.Context, stages []Stage) error {
	for _, stage := range stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Debug("pipeline cancelled", "pipeline", r.Pipeline, "before", stage.Name)
			return ctxErr
		}
		slog.Debug("pipeline stage starting", "pipeline", r.Pipeline, "stage", stage.Name)
		if err := stage.Run(ctx); err != nil {
			slog.Warn("pipeline stage failed", "pipeline", r.Pipeline, "stage", stage.Name, "error", err)
			return err
		}
		r.Completed = append(r.Completed, stage.Name)
	}
	return nil
}

// cleanup removes the scratch directory and, when the run failed, any
// registered partial outputs. All removal errors are swallowed.
func (r *Run) cleanup(failed bool) {
	if err := os.RemoveAll(r.WorkDir); err != nil {
		slog.Warn("removing pipeline working directory", "pipeline", r.Pipeline, "dir", r.WorkDir, "error", err)
	}
	if !failed {
		return
	}
	for _, path := range r.undo {
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("removing partial pipeline output", "pipeline", r.Pipeline, "path", path, "error", err)
		}
	}
}
