package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/rungraph"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/pkg/template"
)

// AddElements adds element sets to the task with insertID and materializes
// their elements. On error the workflow is left as it was.
func (w *Workflow) AddElements(insertID int, sets ...*template.ElementSet) error {
	return w.Batch(func() error {
		task, err := w.TaskByInsertID(insertID)
		if err != nil {
			return err
		}
		for _, es := range sets {
			if err := w.addElementSet(task, es); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Workflow) addElementSet(task *Task, es *template.ElementSet) error {
	sources, err := w.resolveSources(task, es)
	if err != nil {
		return err
	}
	resolved := es.Clone()
	resolved.Sources = make(map[string][]template.InputSource, len(sources))
	for typ, src := range sources {
		resolved.Sources[typ] = []template.InputSource{src}
	}

	data, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("task %s: encode element set: %w", task.Name(), err)
	}
	esIdx, err := w.store.AddElementSet(task.InsertID(), data)
	if err != nil {
		return err
	}
	task.tmpl.ElementSets = append(task.tmpl.ElementSets, resolved)
	task.pendingSets++

	recs, err := w.materialize(task, esIdx, resolved)
	if err != nil {
		return err
	}
	if err := w.store.AddElements(task.InsertID(), recs); err != nil {
		return err
	}
	release, err := w.store.CachedLoad()
	if err != nil {
		return err
	}
	defer release()
	for _, r := range recs {
		task.pendingElements = append(task.pendingElements, r.Index)
		if err := w.initRuns(task, r); err != nil {
			return err
		}
	}
	w.metrics.ElementsAdded(len(recs))
	w.logger.Debug("elements added", "task", task.Name(), "element_set", esIdx, "count", len(recs))
	return nil
}

// sequenceGroup is the sequences sharing one nesting order, zipped together.
type sequenceGroup struct {
	order   int
	paths   []string
	handles [][]int
}

func (g *sequenceGroup) len() int { return len(g.handles[0]) }

// taskInput is an input bound to the elements of an upstream task.
type taskInput struct {
	path    string
	handles []int
}

// materialize builds the element records of es. Upstream task sources are
// zipped into the outermost dimension, sequence groups nest inside it in
// nesting order, and each combination is repeated es.Repeats times.
func (w *Workflow) materialize(task *Task, esIdx int, es *template.ElementSet) ([]*store.ElementRecord, error) {
	id := task.InsertID()
	schema := task.Schema()
	base := param.DataIndex{}
	var taskInputs []taskInput
	groups := map[int]*sequenceGroup{}

	for _, in := range schema.Inputs {
		typ := in.Parameter.Type
		path := "inputs." + typ
		src := es.Sources[typ][0]
		switch src.Type {
		case template.SourceLocal:
			found := false
			for _, iv := range es.Inputs {
				if iv.Parameter != typ && !strings.HasPrefix(iv.Parameter, typ+".") {
					continue
				}
				h, err := w.store.AddParameterData(iv.Value, param.LocalInput(id))
				if err != nil {
					return nil, err
				}
				base[iv.Path()] = h
				found = true
			}
			for _, seq := range es.Sequences {
				if seq.Parameter() != typ {
					continue
				}
				seqPath := seq.Path
				if !strings.HasPrefix(seqPath, "inputs.") {
					seqPath = "inputs." + seqPath
				}
				handles := make([]int, len(seq.Values))
				for i, v := range seq.Values {
					h, err := w.store.AddParameterData(v, param.SequenceValue(id, seqPath, i))
					if err != nil {
						return nil, err
					}
					handles[i] = h
				}
				g := groups[seq.NestingOrder]
				if g == nil {
					g = &sequenceGroup{order: seq.NestingOrder}
					groups[seq.NestingOrder] = g
				}
				if len(g.handles) > 0 && g.len() != len(handles) {
					return nil, fmt.Errorf("task %s: sequence %s has %d values, want %d to zip with %s",
						task.Name(), seqPath, len(handles), g.len(), g.paths[0])
				}
				g.paths = append(g.paths, seqPath)
				g.handles = append(g.handles, handles)
				found = true
			}
			if !found {
				return nil, &MissingInputError{Task: task.Name(), Input: typ}
			}
		case template.SourceDefault:
			def, _ := schema.Input(typ)
			if !def.HasDefault() {
				return nil, &MissingInputError{Task: task.Name(), Input: typ}
			}
			h, err := w.store.AddParameterData(def.Default, param.DefaultInput(id))
			if err != nil {
				return nil, err
			}
			base[path] = h
		case template.SourceTask:
			handles, err := w.upstreamHandles(task, typ, src)
			if err != nil {
				return nil, err
			}
			if len(taskInputs) > 0 && len(taskInputs[0].handles) != len(handles) {
				return nil, fmt.Errorf("task %s: input %s has %d upstream elements, want %d to zip with %s",
					task.Name(), typ, len(handles), len(taskInputs[0].handles), taskInputs[0].path)
			}
			taskInputs = append(taskInputs, taskInput{path: path, handles: handles})
		default:
			return nil, fmt.Errorf("task %s: input %s: unknown source type %q", task.Name(), typ, src.Type)
		}
	}
	for _, r := range es.Resources {
		h, err := w.store.AddParameterData(r.Value(), param.LocalInput(id))
		if err != nil {
			return nil, err
		}
		base[r.Path()] = h
	}

	ordered := make([]*sequenceGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	var sizes []int
	if len(taskInputs) > 0 {
		sizes = append(sizes, len(taskInputs[0].handles))
	}
	for _, g := range ordered {
		sizes = append(sizes, g.len())
	}
	repeats := max(es.Repeats, 1)
	total := repeats
	for _, n := range sizes {
		total *= n
	}

	schemaParams := schemaParameters(task, es)
	recs := make([]*store.ElementRecord, 0, total)
	for n := 0; n < total; n++ {
		coord := make([]int, len(sizes))
		rem := n / repeats
		for d := len(sizes) - 1; d >= 0; d-- {
			coord[d] = rem % sizes[d]
			rem /= sizes[d]
		}
		rec := &store.ElementRecord{
			ElementSetIdx:    esIdx,
			SchemaParameters: schemaParams,
			DataIdx:          maps.Clone(base),
		}
		d := 0
		if len(taskInputs) > 0 {
			for _, ti := range taskInputs {
				rec.DataIdx[ti.path] = ti.handles[coord[0]]
			}
			d = 1
		}
		for gi, g := range ordered {
			if rec.SequenceIdx == nil {
				rec.SequenceIdx = map[string]int{}
			}
			for pi, p := range g.paths {
				rec.DataIdx[p] = g.handles[pi][coord[d+gi]]
				rec.SequenceIdx[p] = coord[d+gi]
			}
		}
		if repeats > 1 {
			rec.LoopIdx = map[string]int{"repeat": n % repeats}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// upstreamHandles returns, per selected upstream element, the handle bound
// to the input in the task the source refers to.
func (w *Workflow) upstreamHandles(task *Task, typ string, src template.InputSource) ([]int, error) {
	up, err := w.TaskByInsertID(src.TaskInsertID)
	if err != nil {
		return nil, err
	}
	els, err := up.Elements()
	if err != nil {
		return nil, err
	}
	if src.ElementIndices != nil {
		selected := make([]*rungraph.Element, 0, len(src.ElementIndices))
		for _, i := range src.ElementIndices {
			if i < 0 || i >= len(els) {
				return nil, &InvalidInputSourceTaskReferenceError{
					Source: src, Input: typ, Reason: fmt.Sprintf("task %s has no element %d", up.Name(), i),
				}
			}
			selected = append(selected, els[i])
		}
		els = selected
	}
	key := "outputs." + typ
	if src.TaskSourceType == template.TaskSourceInput {
		key = "inputs." + typ
	}
	handles := make([]int, len(els))
	for i, el := range els {
		h, ok := el.DataIndex(key)[key]
		if !ok {
			return nil, &MissingInputError{Task: task.Name(), Input: typ}
		}
		handles[i] = h
	}
	return handles, nil
}

func schemaParameters(task *Task, es *template.ElementSet) []string {
	var out []string
	for _, typ := range task.Schema().InputTypes() {
		out = append(out, "inputs."+typ)
	}
	for _, typ := range task.Schema().OutputTypes() {
		out = append(out, "outputs."+typ)
	}
	for _, r := range es.Resources {
		out = append(out, r.Path())
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// produced reports whether a data-index key is written by the run that
// binds it rather than read by it.
func produced(key string) bool {
	switch param.Prefix(key) {
	case "outputs", "input_files", "output_files":
		return true
	}
	return false
}

// allocator returns the unset-parameter allocator for the run key.
func (w *Workflow) allocator(key param.EARKey) func(string) (int, error) {
	return func(path string) (int, error) {
		if produced(path) {
			return w.store.AddUnsetParameterData(param.EAROutput(key))
		}
		return w.store.AddUnsetParameterData(param.LocalInput(key.TaskInsertID))
	}
}

// initRuns creates the first run of every action whose rules pass for the
// element. Files and outputs produced by one action are visible to the
// actions after it.
func (w *Workflow) initRuns(task *Task, rec *store.ElementRecord) error {
	acts, err := task.ExpandedActions()
	if err != nil {
		return err
	}
	avail := maps.Clone(rec.DataIdx)
	for a, act := range acts {
		ok, err := act.TestRules(rungraph.DataView{Params: w.store, Index: avail})
		if err != nil {
			return fmt.Errorf("task %s: element %d: action %d: %w", task.Name(), rec.Index, a, err)
		}
		if !ok {
			continue
		}
		in := param.DataIndex{}
		for k, h := range avail {
			if param.Prefix(k) != "outputs" {
				in[k] = h
			}
		}
		key := param.EARKey{TaskInsertID: task.InsertID(), ElementIdx: rec.Index, ActionIdx: a}
		idx, err := act.GenerateDataIndex(in, w.allocator(key))
		if err != nil {
			return err
		}
		if _, err := w.store.AddElementActionRun(key.TaskInsertID, key.ElementIdx, a, store.RunRecord{DataIdx: idx}); err != nil {
			return err
		}
		for k, h := range idx {
			if produced(k) {
				avail[k] = h
			}
		}
		w.metrics.RunAdded()
	}
	return nil
}

// AddRun records a new run of an element action. The run reads what the
// action's latest run read and gets fresh handles for what it writes. An
// action with no runs yet reads the element's current data.
func (w *Workflow) AddRun(insertID, elementIdx, actionIdx int) (param.EARKey, error) {
	var key param.EARKey
	err := w.Batch(func() error {
		task, err := w.TaskByInsertID(insertID)
		if err != nil {
			return err
		}
		acts, err := task.ExpandedActions()
		if err != nil {
			return err
		}
		if actionIdx < 0 || actionIdx >= len(acts) {
			return fmt.Errorf("task %s has no action %d", task.Name(), actionIdx)
		}
		el, err := task.Element(elementIdx)
		if err != nil {
			return err
		}
		key = param.EARKey{TaskInsertID: insertID, ElementIdx: elementIdx, ActionIdx: actionIdx}
		var idx param.DataIndex
		if ea, ok := el.Action(actionIdx); ok && ea.FinalRun() != nil {
			prev := ea.FinalRun()
			key.RunIdx = len(ea.Runs())
			idx, err = w.rebind(prev, key)
		} else {
			in := param.DataIndex{}
			for k, h := range el.DataIndex("") {
				if param.Prefix(k) != "outputs" {
					in[k] = h
				}
			}
			idx, err = acts[actionIdx].GenerateDataIndex(in, w.allocator(key))
		}
		if err != nil {
			return err
		}
		runIdx, err := w.store.AddElementActionRun(insertID, elementIdx, actionIdx, store.RunRecord{DataIdx: idx})
		if err != nil {
			return err
		}
		key.RunIdx = runIdx
		w.metrics.RunAdded()
		w.logger.Debug("run added", "run", key.String())
		return nil
	})
	if err != nil {
		return param.EARKey{}, err
	}
	return key, nil
}

// rebind copies the data index of prev, giving every parameter prev wrote a
// fresh unset handle owned by key.
func (w *Workflow) rebind(prev *rungraph.Run, key param.EARKey) (param.DataIndex, error) {
	prevKey := prev.Key()
	srcs, err := prev.ParameterSources("")
	if err != nil {
		return nil, err
	}
	idx := prev.DataIndex("")
	for k := range idx {
		if ear, ok := srcs[k].EARKey(); ok && ear == prevKey {
			h, err := w.store.AddUnsetParameterData(param.EAROutput(key))
			if err != nil {
				return nil, err
			}
			idx[k] = h
		}
	}
	return idx, nil
}

// SetParameter sets the value of an unset parameter.
func (w *Workflow) SetParameter(handle int, value any) error {
	return w.Batch(func() error {
		return w.store.SetParameter(handle, value, nil)
	})
}

// SetRunOutput sets the parameter a run binds at path.
func (w *Workflow) SetRunOutput(key param.EARKey, path string, value any) error {
	runs, err := w.EARsFromKeys([]param.EARKey{key})
	if err != nil {
		return err
	}
	h, ok := runs[0].DataIndex(path)[path]
	if !ok {
		return fmt.Errorf("run %s has no parameter %s", key, path)
	}
	return w.SetParameter(h, value)
}

// RunCommands returns the concrete command lines of a run, with parameter
// placeholders filled from the run's data.
func (w *Workflow) RunCommands(key param.EARKey) ([]string, error) {
	runs, err := w.EARsFromKeys([]param.EARKey{key})
	if err != nil {
		return nil, err
	}
	release, err := w.store.CachedLoad()
	if err != nil {
		return nil, err
	}
	defer release()
	run := runs[0]
	act, err := run.ElementAction().Action()
	if err != nil {
		return nil, err
	}
	return act.ResolveCommands(func(name string) (any, error) {
		return run.Get("inputs." + name)
	})
}
