package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/me/elemflow/internal/depgraph"
	"github.com/me/elemflow/internal/rungraph"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/pkg/action"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

// Task is a task that belongs to a workflow.
type Task struct {
	wf   *Workflow
	tmpl *template.Task

	pendingSets     int
	pendingElements []int
}

var _ rungraph.Task = (*Task)(nil)

func (t *Task) InsertID() int                { return t.tmpl.InsertID }
func (t *Task) Objective() string            { return t.tmpl.Name() }
func (t *Task) Template() *template.Task     { return t.tmpl }
func (t *Task) Schema() *template.TaskSchema { return t.tmpl.Schema }

// ElementSets returns the element sets added to the task, sources resolved.
func (t *Task) ElementSets() []*template.ElementSet { return t.tmpl.ElementSets }

func (t *Task) ExpandedActions() ([]*action.ExpandedAction, error) {
	return t.tmpl.ExpandedActions()
}

// Index returns the task's current position in the workflow.
func (t *Task) Index() int {
	for i, x := range t.wf.tasks {
		if x == t {
			return i
		}
	}
	return -1
}

// Name returns the task's unique name.
func (t *Task) Name() string {
	if i := t.Index(); i >= 0 {
		return t.wf.TaskUniqueNames()[i]
	}
	return t.Objective()
}

// PendingElements returns the indices of elements added in the current batch.
func (t *Task) PendingElements() []int { return t.pendingElements }

// NumElements returns the number of elements of the task.
func (t *Task) NumElements() (int, error) {
	recs, err := t.wf.store.TaskElements(t.InsertID(), nil)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Elements returns every element of the task.
func (t *Task) Elements() ([]*rungraph.Element, error) {
	recs, err := t.wf.store.TaskElements(t.InsertID(), nil)
	if err != nil {
		return nil, err
	}
	out := make([]*rungraph.Element, len(recs))
	for i, r := range recs {
		out[i] = rungraph.NewElement(t, t.wf.store, r)
	}
	return out, nil
}

// Element returns the element at idx.
func (t *Task) Element(idx int) (*rungraph.Element, error) {
	recs, err := t.wf.store.TaskElements(t.InsertID(), []int{idx})
	if err != nil {
		return nil, err
	}
	return rungraph.NewElement(t, t.wf.store, recs[0]), nil
}

// Dependencies returns the insert IDs of the tasks this task takes values from.
func (t *Task) Dependencies() ([]int, error) {
	return depgraph.TaskDependencies(t.wf, t.InsertID())
}

// DownstreamTasks returns the insert IDs of the tasks after this one.
func (t *Task) DownstreamTasks() ([]int, error) {
	return depgraph.DownstreamTasks(t.wf, t.InsertID())
}

func (t *Task) acceptPending() {
	t.pendingSets = 0
	t.pendingElements = nil
}

func (t *Task) rejectPending() {
	t.tmpl.ElementSets = t.tmpl.ElementSets[:len(t.tmpl.ElementSets)-t.pendingSets]
	t.acceptPending()
}

// AddTask inserts a copy of tmpl at index, or appends it if index is
// negative, and adds its element sets. On error the workflow is left as it
// was.
func (w *Workflow) AddTask(tmpl *template.Task, index int) (*Task, error) {
	var task *Task
	err := w.Batch(func() error {
		var err error
		task, err = w.addTask(tmpl, index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (w *Workflow) addTask(tmpl *template.Task, index int) (*Task, error) {
	task, err := w.addEmptyTask(tmpl, index)
	if err != nil {
		return nil, err
	}
	for _, es := range tmpl.ElementSets {
		if err := w.addElementSet(task, es); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// AddEmptyTask inserts a copy of tmpl without element sets at index, or
// appends it if index is negative.
func (w *Workflow) AddEmptyTask(tmpl *template.Task, index int) (*Task, error) {
	var task *Task
	err := w.Batch(func() error {
		var err error
		task, err = w.addEmptyTask(tmpl, index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (w *Workflow) addEmptyTask(tmpl *template.Task, index int) (*Task, error) {
	if index < 0 || index > len(w.tasks) {
		index = len(w.tasks)
	}
	insertID := w.store.NumAddedTasks() + 1
	t := &template.Task{Schema: tmpl.Schema, InsertID: insertID}

	names := template.UniqueNames(slices.Insert(slices.Clone(w.template.Tasks), index, t))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, &DuplicateTaskNameError{Name: n}
		}
		seen[n] = true
	}
	if _, err := t.ExpandedActions(); err != nil {
		return nil, err
	}

	if err := w.addComponents(t.Components()); err != nil {
		return nil, err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", names[index], err)
	}
	if err := w.store.AddEmptyTask(index, insertID, data); err != nil {
		if errors.Is(err, store.ErrModifiedOnDisk) {
			return nil, w.stale(err)
		}
		return nil, err
	}

	task := &Task{wf: w, tmpl: t}
	w.tasks = slices.Insert(w.tasks, index, task)
	w.template.Tasks = slices.Insert(w.template.Tasks, index, t)
	w.pending.tasks = append(w.pending.tasks, insertID)
	w.metrics.TaskAdded()
	w.logger.Debug("task added", "name", names[index], "insert_id", insertID, "index", index)
	return task, nil
}

// addComponents stores the components not already in the workflow.
func (w *Workflow) addComponents(comps map[component.Kind][]any) error {
	added := map[component.Kind][]template.ComponentEntry{}
	for _, kind := range component.Kinds {
		for _, v := range comps[kind] {
			idx, isNew, err := w.components.Add(kind, v)
			if err != nil {
				return err
			}
			if isNew {
				w.pending.components[kind] = append(w.pending.components[kind], idx)
				added[kind] = append(added[kind], w.components.Entries(kind)[idx])
			}
		}
	}
	if len(added) == 0 {
		return nil
	}
	return w.store.AddTemplateComponents(added)
}
