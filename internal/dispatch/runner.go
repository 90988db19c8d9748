package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/LeventeLantos/outreach-engine/internal/model"
)

// activeRun is a batch started with Start and running in the background.
type activeRun struct {
	cancel CancelFlag
	done   chan struct{}

	mu       sync.Mutex
	progress model.Progress
}

func (r *activeRun) set(p model.Progress) {
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
}

func (r *activeRun) get() model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.Clone()
}

// Start admits the selection synchronously and runs the batch in the
// background. Only one batch runs at a time. The run outlives ctx; stop it
// with Cancel.
func (d *Dispatcher) Start(ctx context.Context, ids []string, flow model.Flow) (model.Progress, error) {
	run := &activeRun{done: make(chan struct{})}
	prev := d.active.Load()
	if prev != nil && !isDone(prev) {
		return model.Progress{}, ErrBatchInProgress
	}
	if !d.active.CompareAndSwap(prev, run) {
		return model.Progress{}, ErrBatchInProgress
	}

	req := Request{IDs: ids, Flow: flow, Cancel: &run.cancel, OnProgress: run.set}
	batch, err := d.admit(ctx, req)
	if err != nil {
		// Leave the previous run visible to Current.
		close(run.done)
		d.active.CompareAndSwap(run, prev)
		return model.Progress{}, err
	}

	runID := uuid.NewString()
	run.set(model.Progress{RunID: runID, State: model.RunRunning, Total: len(batch)})

	go func() {
		defer close(run.done)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("batch panic recovered", "run_id", runID, "panic", r)
				p := run.get()
				p.State = model.RunCancelled
				p.Label = "aborted"
				run.set(p)
			}
		}()
		d.execute(context.WithoutCancel(ctx), runID, batch, req)
	}()

	return run.get(), nil
}

// Cancel asks the running batch to stop at its next pacing boundary. It
// reports whether a batch was running.
func (d *Dispatcher) Cancel() bool {
	run := d.active.Load()
	if run == nil || isDone(run) {
		return false
	}
	run.cancel.Cancel()
	return true
}

// Current returns the progress of the running or most recent batch.
func (d *Dispatcher) Current() (model.Progress, bool) {
	run := d.active.Load()
	if run == nil {
		return model.Progress{}, false
	}
	return run.get(), true
}

// Running reports whether a background batch is in progress.
func (d *Dispatcher) Running() bool {
	run := d.active.Load()
	return run != nil && !isDone(run)
}

// Wait blocks until the background batch, if any, has finished or ctx is
// done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	run := d.active.Load()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isDone(r *activeRun) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
