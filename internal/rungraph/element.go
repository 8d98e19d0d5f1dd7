// Package rungraph is the materialized run graph of a workflow: elements,
// their element actions, and the run history of each element action.
package rungraph

import (
	"fmt"
	"sort"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/pkg/action"
)

// Task is the view of its task that an element needs.
type Task interface {
	InsertID() int
	ExpandedActions() ([]*action.ExpandedAction, error)
}

// ParamReader reads the parameter store.
type ParamReader interface {
	ParameterData(handle int) (any, bool, error)
	ParameterSource(handle int) (param.Source, error)
	IsParameterSet(handle int) (bool, error)
}

// Element is one instantiation of a task's element set.
type Element struct {
	task    Task
	params  ParamReader
	rec     *store.ElementRecord
	actions []*ElementAction
}

// NewElement builds an element and its element actions from a store record.
func NewElement(task Task, params ParamReader, rec *store.ElementRecord) *Element {
	e := &Element{task: task, params: params, rec: rec}
	idxs := make([]int, 0, len(rec.Runs))
	for i := range rec.Runs {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		ea := &ElementAction{element: e, index: i}
		for j, r := range rec.Runs[i] {
			ea.runs = append(ea.runs, &Run{action: ea, index: j, dataIdx: r.DataIdx})
		}
		e.actions = append(e.actions, ea)
	}
	return e
}

func (e *Element) Index() int                    { return e.rec.Index }
func (e *Element) GlobalIndex() int              { return e.rec.GlobalIdx }
func (e *Element) ElementSetIndex() int          { return e.rec.ElementSetIdx }
func (e *Element) SequenceIndex() map[string]int { return e.rec.SequenceIdx }
func (e *Element) LoopIndex() map[string]int     { return e.rec.LoopIdx }
func (e *Element) SchemaParameters() []string    { return e.rec.SchemaParameters }
func (e *Element) TaskInsertID() int             { return e.task.InsertID() }

// Key returns the element's (task insert ID, element index) pair.
func (e *Element) Key() param.ElementKey {
	return param.ElementKey{TaskInsertID: e.task.InsertID(), ElementIdx: e.rec.Index}
}

// Actions returns the element actions in action order.
func (e *Element) Actions() []*ElementAction { return e.actions }

// Action returns the element action for actionIdx.
func (e *Element) Action(actionIdx int) (*ElementAction, bool) {
	for _, ea := range e.actions {
		if ea.index == actionIdx {
			return ea, true
		}
	}
	return nil, false
}

// ActionRuns returns the final run of each element action.
func (e *Element) ActionRuns() []*Run {
	out := make([]*Run, 0, len(e.actions))
	for _, ea := range e.actions {
		if r := ea.FinalRun(); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Runs returns every run of every element action.
func (e *Element) Runs() []*Run {
	var out []*Run
	for _, ea := range e.actions {
		out = append(out, ea.runs...)
	}
	return out
}

// DataIndex returns the element's data index filtered to path. It starts
// from the element's own index; the final run of each action is then merged
// in order. For inputs the first action binding a key wins; for everything
// else the last one does.
func (e *Element) DataIndex(path string) param.DataIndex {
	out := param.DataIndex{}
	out.Merge(e.rec.DataIdx)
	inputSeen := map[string]bool{}
	for _, r := range e.ActionRuns() {
		for k, v := range r.dataIdx {
			if param.Prefix(k) == "inputs" {
				if inputSeen[k] {
					continue
				}
				inputSeen[k] = true
			}
			out[k] = v
		}
	}
	return out.Filter(path)
}

// ActionDataIndex returns the data index of one run, filtered to path. A
// negative runIdx counts from the end, so -1 is the most recent run.
func (e *Element) ActionDataIndex(path string, actionIdx, runIdx int) (param.DataIndex, error) {
	ea, ok := e.Action(actionIdx)
	if !ok {
		return nil, fmt.Errorf("element %s has no action %d", e.Key(), actionIdx)
	}
	r, err := ea.Run(runIdx)
	if err != nil {
		return nil, err
	}
	return r.DataIndex(path), nil
}

// ParameterSources returns the source of every parameter at or below path.
func (e *Element) ParameterSources(path string) (map[string]param.Source, error) {
	return sources(e.params, e.DataIndex(path))
}

// Get returns the value at path: a bound parameter, a value nested inside one,
// or an object assembled from every parameter below path.
func (e *Element) Get(path string) (any, error) {
	return get(e.params, e.DataIndex(""), path)
}

// IsSet reports whether path is bound to a set parameter.
func (e *Element) IsSet(path string) (bool, error) {
	return isSet(e.params, e.DataIndex(""), path)
}

// Values returns every set parameter nested by path.
func (e *Element) Values() (map[string]any, error) {
	return values(e.params, e.DataIndex(""))
}

// EARDependencies returns the runs this element's data came from, excluding
// runs of the element itself.
func (e *Element) EARDependencies() ([]param.EARKey, error) {
	own := e.Key()
	var out []param.EARKey
	add := func(keys []param.EARKey) {
		for _, k := range keys {
			if k.Element() != own {
				out = append(out, k)
			}
		}
	}
	keys, err := earSources(e.params, e.rec.DataIdx, nil)
	if err != nil {
		return nil, err
	}
	add(keys)
	for _, r := range e.Runs() {
		keys, err := r.EARDependencies()
		if err != nil {
			return nil, err
		}
		add(keys)
	}
	return param.SortEARKeys(out), nil
}

// ElementDependencies returns the elements this element depends on.
func (e *Element) ElementDependencies() ([]param.ElementKey, error) {
	ears, err := e.EARDependencies()
	if err != nil {
		return nil, err
	}
	out := make([]param.ElementKey, 0, len(ears))
	for _, k := range ears {
		out = append(out, k.Element())
	}
	return param.SortElementKeys(out), nil
}

// InputDependencies returns the tasks, other than the element's own, that
// own the local inputs, sequence values or defaults the element uses.
func (e *Element) InputDependencies() ([]int, error) {
	own := e.task.InsertID()
	var out []int
	for _, h := range e.DataIndex("") {
		src, err := e.params.ParameterSource(h)
		if err != nil {
			return nil, err
		}
		if src.Kind != param.KindEAROutput && src.TaskInsertID != own {
			out = append(out, src.TaskInsertID)
		}
	}
	return param.SortInts(out), nil
}

// TaskDependencies returns the tasks this element depends on.
func (e *Element) TaskDependencies() ([]int, error) {
	elems, err := e.ElementDependencies()
	if err != nil {
		return nil, err
	}
	ids, err := e.InputDependencies()
	if err != nil {
		return nil, err
	}
	for _, k := range elems {
		ids = append(ids, k.TaskInsertID)
	}
	return param.SortInts(ids), nil
}

// ElementAction binds one expanded action to one element and holds its runs.
type ElementAction struct {
	element *Element
	index   int
	runs    []*Run
}

func (ea *ElementAction) Index() int        { return ea.index }
func (ea *ElementAction) Element() *Element { return ea.element }

// Action returns the expanded action this element action runs.
func (ea *ElementAction) Action() (*action.ExpandedAction, error) {
	acts, err := ea.element.task.ExpandedActions()
	if err != nil {
		return nil, err
	}
	if ea.index < 0 || ea.index >= len(acts) {
		return nil, fmt.Errorf("task %d has no action %d", ea.element.task.InsertID(), ea.index)
	}
	return acts[ea.index], nil
}

// Runs returns the run history, oldest first.
func (ea *ElementAction) Runs() []*Run { return ea.runs }

// FinalRun returns the most recent run, or nil.
func (ea *ElementAction) FinalRun() *Run {
	if len(ea.runs) == 0 {
		return nil
	}
	return ea.runs[len(ea.runs)-1]
}

// Run returns run idx; a negative idx counts from the end.
func (ea *ElementAction) Run(idx int) (*Run, error) {
	i := idx
	if i < 0 {
		i += len(ea.runs)
	}
	if i < 0 || i >= len(ea.runs) {
		return nil, fmt.Errorf("element action %d of %s has no run %d", ea.index, ea.element.Key(), idx)
	}
	return ea.runs[i], nil
}
