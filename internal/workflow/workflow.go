// Package workflow is the orchestrator: it owns a workflow's tasks, stages
// every structural change in a batch update and commits or rolls back the
// batch against the persistent store.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/me/elemflow/internal/depgraph"
	"github.com/me/elemflow/internal/logging"
	"github.com/me/elemflow/internal/metrics"
	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/rungraph"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

// Options configures Create and Open.
type Options struct {
	// Logger receives workflow and store logs. Nil discards them.
	Logger *slog.Logger
	// Metrics records batch outcomes. Nil records nothing.
	Metrics *metrics.Metrics
	// Overwrite lets Create replace an existing workflow at the path.
	Overwrite bool
}

// Workflow is an open workflow. It is not safe for concurrent use.
type Workflow struct {
	store      store.Store
	template   *template.Template
	components *template.Components
	tasks      []*Task
	logger     *slog.Logger
	metrics    *metrics.Metrics

	inBatch  bool
	creating bool
	pending  ledger
}

// ledger records what the current batch added.
type ledger struct {
	tasks      []int
	components map[component.Kind][]int
}

func (l *ledger) reset() {
	l.tasks = nil
	l.components = map[component.Kind][]int{}
}

var _ depgraph.Graph = (*Workflow)(nil)

func newWorkflow(st store.Store, name string, opts Options, logger *slog.Logger) *Workflow {
	w := &Workflow{
		store:      st,
		template:   &template.Template{Name: name},
		components: template.NewComponents(),
		logger:     logger,
		metrics:    opts.Metrics,
	}
	w.pending.reset()
	return w
}

// Create writes a new workflow for tmpl at path and adds every task of the
// template in one batch. If any task fails, nothing is left at path and a
// file the call replaced is put back.
func Create(tmpl *template.Template, path string, opts Options) (*Workflow, error) {
	logger := logging.OrDiscard(opts.Logger)
	st, err := store.Create(path, tmpl.Name, nil, opts.Overwrite, logger)
	if err != nil {
		return nil, err
	}
	return create(st, tmpl, opts, logger)
}

func create(st store.Store, tmpl *template.Template, opts Options, logger *slog.Logger) (*Workflow, error) {
	w := newWorkflow(st, tmpl.Name, opts, logger.With("component", "workflow"))

	w.BeginBatch()
	w.creating = true
	for i, t := range tmpl.Tasks {
		if _, err := w.addTask(t, i); err != nil {
			return nil, w.abortCreate(err)
		}
	}
	if err := w.CommitBatch(); err != nil {
		return nil, w.abortCreate(err)
	}
	w.logger.Info("workflow created", "path", w.Path(), "id", st.ID(), "tasks", len(w.tasks))
	return w, nil
}

func (w *Workflow) abortCreate(err error) error {
	if !w.inBatch {
		return errors.Join(err, w.store.Close())
	}
	if rerr := w.RejectBatch(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	if cerr := w.store.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Open loads the workflow stored at path.
func Open(path string, opts Options) (*Workflow, error) {
	logger := logging.OrDiscard(opts.Logger)
	st, err := store.Open(path, logger)
	if err != nil {
		return nil, err
	}
	w, err := load(st, opts, logger.With("component", "workflow"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	logger.Debug("workflow opened", "path", path, "tasks", len(w.tasks))
	return w, nil
}

func load(st store.Store, opts Options, logger *slog.Logger) (*Workflow, error) {
	rec, err := st.Template()
	if err != nil {
		return nil, err
	}
	w := newWorkflow(st, rec.Name, opts, logger)

	comps, err := st.TemplateComponents()
	if err != nil {
		return nil, err
	}
	for _, kind := range component.Kinds {
		for _, e := range comps[kind] {
			w.components.AddRaw(kind, e.Hash, e.Data)
		}
	}

	for _, tr := range rec.Tasks {
		t := &template.Task{}
		if err := json.Unmarshal(tr.Template, t); err != nil {
			return nil, fmt.Errorf("task %d: %w", tr.InsertID, err)
		}
		t.InsertID = tr.InsertID
		for i, raw := range tr.ElementSets {
			es := &template.ElementSet{}
			if err := json.Unmarshal(raw, es); err != nil {
				return nil, fmt.Errorf("task %d: element set %d: %w", tr.InsertID, i, err)
			}
			t.ElementSets = append(t.ElementSets, es)
		}
		w.template.Tasks = append(w.template.Tasks, t)
		w.tasks = append(w.tasks, &Task{wf: w, tmpl: t})
	}

	envs, err := w.components.Environments()
	if err != nil {
		return nil, err
	}
	err = w.template.BindEnvironments(func(name string) (*component.Environment, error) {
		env, ok := envs[name]
		if !ok {
			return nil, &template.NotFoundError{Kind: component.KindEnvironments, Name: name}
		}
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the path of the backing store.
func (w *Workflow) Path() string { return w.store.Path() }

// ID returns the workflow ID written at creation.
func (w *Workflow) ID() string { return w.store.ID() }

// Name returns the template name.
func (w *Workflow) Name() string { return w.template.Name }

// Template returns the live template. Its task list mirrors Tasks.
func (w *Workflow) Template() *template.Template { return w.template }

// Components returns the workflow's de-duplicated template components.
func (w *Workflow) Components() *template.Components { return w.components }

// Store returns the backing store.
func (w *Workflow) Store() store.Store { return w.store }

// Tasks returns the tasks in workflow order.
func (w *Workflow) Tasks() []*Task { return w.tasks }

// NumAddedTasks returns how many tasks were ever added, rolled back or not.
func (w *Workflow) NumAddedTasks() int { return w.store.NumAddedTasks() }

// NumElements returns the number of elements across all tasks.
func (w *Workflow) NumElements() int { return w.store.NumElements() }

// TaskUniqueNames returns the unique name of each task in order.
func (w *Workflow) TaskUniqueNames() []string { return template.UniqueNames(w.template.Tasks) }

// TaskInsertIDs returns the insert ID of each task in order.
func (w *Workflow) TaskInsertIDs() []int {
	ids := make([]int, len(w.tasks))
	for i, t := range w.tasks {
		ids[i] = t.InsertID()
	}
	return ids
}

// TaskByInsertID returns the task with insertID.
func (w *Workflow) TaskByInsertID(insertID int) (*Task, error) {
	for _, t := range w.tasks {
		if t.InsertID() == insertID {
			return t, nil
		}
	}
	return nil, &depgraph.UnknownTaskError{InsertID: insertID}
}

// TaskByName returns the task with the given unique name.
func (w *Workflow) TaskByName(name string) (*Task, error) {
	for i, n := range w.TaskUniqueNames() {
		if n == name {
			return w.tasks[i], nil
		}
	}
	return nil, fmt.Errorf("no task named %q", name)
}

// TaskByRef returns the task named by ref: a unique name or an insert ID.
func (w *Workflow) TaskByRef(ref string) (*Task, error) {
	if t, err := w.TaskByName(ref); err == nil {
		return t, nil
	}
	if id, err := strconv.Atoi(ref); err == nil {
		return w.TaskByInsertID(id)
	}
	return nil, fmt.Errorf("no task named %q", ref)
}

// Elements returns the elements of the task with insertID.
func (w *Workflow) Elements(insertID int) ([]*rungraph.Element, error) {
	t, err := w.TaskByInsertID(insertID)
	if err != nil {
		return nil, err
	}
	return t.Elements()
}

// ElementsFromKeys returns the elements named by keys, in the order given.
func (w *Workflow) ElementsFromKeys(keys []param.ElementKey) ([]*rungraph.Element, error) {
	out := make([]*rungraph.Element, 0, len(keys))
	for _, k := range keys {
		t, err := w.TaskByInsertID(k.TaskInsertID)
		if err != nil {
			return nil, err
		}
		el, err := t.Element(k.ElementIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

// EARsFromKeys returns the runs named by keys, in the order given.
func (w *Workflow) EARsFromKeys(keys []param.EARKey) ([]*rungraph.Run, error) {
	out := make([]*rungraph.Run, 0, len(keys))
	for _, k := range keys {
		els, err := w.ElementsFromKeys([]param.ElementKey{k.Element()})
		if err != nil {
			return nil, err
		}
		ea, ok := els[0].Action(k.ActionIdx)
		if !ok {
			return nil, fmt.Errorf("element %s has no runs of action %d", k.Element(), k.ActionIdx)
		}
		run, err := ea.Run(k.RunIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// Resolver returns a dependency resolver over the current tasks. With index
// set the reverse dependencies are computed once up front.
func (w *Workflow) Resolver(index bool) (depgraph.Resolver, error) {
	if !index {
		return depgraph.Scanner{Graph: w}, nil
	}
	return depgraph.BuildIndex(w)
}

// TaskOrder returns insert IDs ordered so that every task follows the tasks
// it depends on.
func (w *Workflow) TaskOrder() ([]int, error) { return depgraph.Order(w) }

// Copy writes the committed state of the workflow to path.
func (w *Workflow) Copy(path string) error {
	if err := w.store.Copy(path); err != nil {
		return err
	}
	w.logger.Info("workflow copied", "from", w.Path(), "to", path)
	return nil
}

// Delete removes the workflow from disk. It fails inside a batch with
// pending changes.
func (w *Workflow) Delete() error {
	if err := w.store.Delete(); err != nil {
		return err
	}
	w.logger.Info("workflow deleted", "path", w.Path())
	return nil
}

// Close releases the backing store.
func (w *Workflow) Close() error { return w.store.Close() }
