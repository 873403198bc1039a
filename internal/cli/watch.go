package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nerfmark/internal/pipeline"
	"nerfmark/internal/tasks"
)

// watch runs the job built by build once, then again every time the parent
// folder settles after a change. It returns nil when ctx is cancelled.
func (r *Root) watch(ctx context.Context, parent string, wait time.Duration, build func() (pipeline.Job, error)) error {
	w, err := tasks.NewFileSystemWatcher(parent, r.log)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch %s: %w", parent, err)
	}
	defer w.Stop()

	run := func(ctx context.Context) {
		job, err := build()
		if err != nil {
			r.log.Error("cannot build barycentre job", "parent", parent, "error", err)
			return
		}
		res, err := r.enqueueAndWait(ctx, job)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Error("barycentre run failed", "job", job.ID, "error", err)
			}
			return
		}
		fmt.Fprintf(r.out, "Barycentres written to %v (%v frames, %v points)\n",
			res.Meta["output"], res.Meta["frames"], res.Meta["points"])
	}

	run(ctx)
	r.log.Info("watching for changes", "parent", parent, "debounce", wait)
	tasks.Debounce(ctx, w.Events, wait, run)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
