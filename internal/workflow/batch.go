package workflow

import (
	"errors"
	"fmt"

	"github.com/me/elemflow/internal/metrics"
	"github.com/me/elemflow/internal/store"
)

// InBatch reports whether a batch update is in progress.
func (w *Workflow) InBatch() bool { return w.inBatch }

// BeginBatch starts a batch update. Inside a batch it does nothing: the
// inner caller shares the outer batch.
func (w *Workflow) BeginBatch() {
	if w.inBatch {
		return
	}
	w.inBatch = true
	w.pending.reset()
	w.logger.Debug("batch started", "path", w.Path())
}

// CommitBatch makes the batch's changes durable. If the store was modified on
// disk since it was loaded, or the commit itself fails, CommitBatch returns
// the error and leaves the batch open; the caller must then call RejectBatch.
// A file replaced at creation is removed only once the commit is on disk.
func (w *Workflow) CommitBatch() error {
	if !w.inBatch {
		return ErrNotInBatch
	}
	if w.store.HasPending() {
		modified, err := w.store.IsModifiedOnDisk()
		if err != nil {
			return err
		}
		if modified {
			return w.stale(nil)
		}
	}
	if err := w.store.CommitPending(); err != nil {
		if errors.Is(err, store.ErrModifiedOnDisk) {
			return w.stale(err)
		}
		return err
	}
	for _, t := range w.tasks {
		t.acceptPending()
	}
	numTasks := len(w.pending.tasks)
	w.pending.reset()
	w.inBatch, w.creating = false, false
	w.metrics.Batch(metrics.OutcomeCommitted)
	w.logger.Info("batch committed", "path", w.Path(), "tasks_added", numTasks)

	if err := w.store.RemoveReplacedFile(); err != nil {
		return fmt.Errorf("batch committed, removing replaced file: %w", err)
	}
	return nil
}

func (w *Workflow) stale(err error) error {
	w.metrics.Batch(metrics.OutcomeStale)
	return &BatchUpdateFailedError{Path: w.Path(), Err: err}
}

// RejectBatch discards every change made in the batch. When the batch is the
// creation of the workflow, the store file is deleted and a file it replaced
// is put back.
func (w *Workflow) RejectBatch() error {
	if !w.inBatch {
		return ErrNotInBatch
	}
	if err := w.store.RejectPending(); err != nil {
		return err
	}
	for _, t := range w.tasks {
		t.rejectPending()
	}
	for i := len(w.pending.tasks) - 1; i >= 0; i-- {
		w.removeTask(w.pending.tasks[i])
	}
	for kind, idxs := range w.pending.components {
		for i := len(idxs) - 1; i >= 0; i-- {
			if err := w.components.Remove(kind, idxs[i]); err != nil {
				return fmt.Errorf("roll back %s component %d: %w", kind, idxs[i], err)
			}
		}
	}
	if w.creating {
		if err := w.store.DeleteNoConfirm(); err != nil {
			return err
		}
		if err := w.store.ReinstateReplacedFile(); err != nil {
			return err
		}
	}
	numTasks := len(w.pending.tasks)
	w.pending.reset()
	w.inBatch, w.creating = false, false
	w.metrics.Batch(metrics.OutcomeRejected)
	w.logger.Warn("batch rejected", "path", w.Path(), "tasks_removed", numTasks)
	return nil
}

// Batch runs fn inside a batch update. Inside an enclosing batch fn simply
// runs and its error is left to the enclosing batch. Otherwise an error from
// fn, or a failed commit, rejects the batch.
func (w *Workflow) Batch(fn func() error) error {
	if w.inBatch {
		return fn()
	}
	w.BeginBatch()
	err := fn()
	if err == nil {
		if err = w.CommitBatch(); err == nil || !w.inBatch {
			return err
		}
	}
	if rerr := w.RejectBatch(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (w *Workflow) removeTask(insertID int) {
	for i, t := range w.tasks {
		if t.InsertID() == insertID {
			w.tasks = append(w.tasks[:i], w.tasks[i+1:]...)
			w.template.Tasks = append(w.template.Tasks[:i], w.template.Tasks[i+1:]...)
			return
		}
	}
}
