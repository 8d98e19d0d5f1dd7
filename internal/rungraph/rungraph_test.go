package rungraph

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/pkg/action"
)

type fakeTask struct{ id int }

func (t fakeTask) InsertID() int                                      { return t.id }
func (t fakeTask) ExpandedActions() ([]*action.ExpandedAction, error) { return nil, nil }

type entry struct {
	value any
	set   bool
	src   param.Source
}

type fakeParams []entry

func (p fakeParams) get(h int) (entry, error) {
	if h < 0 || h >= len(p) {
		return entry{}, fmt.Errorf("no parameter %d", h)
	}
	return p[h], nil
}

func (p fakeParams) ParameterData(h int) (any, bool, error) {
	e, err := p.get(h)
	return e.value, e.set, err
}

func (p fakeParams) ParameterSource(h int) (param.Source, error) {
	e, err := p.get(h)
	return e.src, err
}

func (p fakeParams) IsParameterSet(h int) (bool, error) {
	e, err := p.get(h)
	return e.set, err
}

func run(idx param.DataIndex) store.RunRecord { return store.RunRecord{DataIdx: idx} }

// twoActionElement is element 0 of task 2 with actions A0 and A1 that both
// bind inputs.x and outputs.y.
func twoActionElement() (*Element, fakeParams) {
	up := param.EARKey{TaskInsertID: 1, ElementIdx: 3, ActionIdx: 0, RunIdx: 0}
	params := fakeParams{
		{value: 1.0, set: true, src: param.LocalInput(2)},                                           // 0
		{value: 2.0, set: true, src: param.EAROutput(up)},                                           // 1
		{value: 10.0, set: true, src: param.EAROutput(param.EARKey{TaskInsertID: 2, ActionIdx: 0})}, // 2
		{src: param.LocalInput(2)},                                                                  // 3
		{value: 20.0, set: true, src: param.EAROutput(param.EARKey{TaskInsertID: 2, ActionIdx: 1})}, // 4
		{value: map[string]any{"num_cores": 2.0}, set: true, src: param.LocalInput(1)},              // 5
	}
	rec := &store.ElementRecord{
		Index:   0,
		DataIdx: param.DataIndex{"inputs.x": 0, "resources.any": 5},
		Runs: map[int][]store.RunRecord{
			0: {run(param.DataIndex{"inputs.x": 0, "outputs.y": 2})},
			1: {
				run(param.DataIndex{"inputs.x": 3, "outputs.y": 3}),
				run(param.DataIndex{"inputs.x": 1, "outputs.y": 4}),
			},
		},
	}
	return NewElement(fakeTask{id: 2}, params, rec), params
}

func TestElement_DataIndexPrecedence(t *testing.T) {
	e, _ := twoActionElement()
	if got := e.DataIndex("outputs.y"); got["outputs.y"] != 4 {
		t.Errorf("outputs.y = %d, want 4 (last action)", got["outputs.y"])
	}
	if got := e.DataIndex("inputs.x"); got["inputs.x"] != 0 {
		t.Errorf("inputs.x = %d, want 0 (first action)", got["inputs.x"])
	}
	want := param.DataIndex{"inputs.x": 0, "outputs.y": 4, "resources.any": 5}
	if diff := cmp.Diff(want, e.DataIndex("")); diff != "" {
		t.Errorf("DataIndex (-want +got):\n%s", diff)
	}
}

func TestElement_ActionDataIndex(t *testing.T) {
	e, _ := twoActionElement()
	tests := []struct {
		run  int
		want int
	}{
		{-1, 4},
		{0, 3},
		{1, 4},
		{-2, 3},
	}
	for _, tt := range tests {
		got, err := e.ActionDataIndex("outputs", 1, tt.run)
		if err != nil {
			t.Fatalf("ActionDataIndex(run=%d): %v", tt.run, err)
		}
		if got["outputs.y"] != tt.want {
			t.Errorf("run %d outputs.y = %d, want %d", tt.run, got["outputs.y"], tt.want)
		}
	}
	if _, err := e.ActionDataIndex("", 1, 2); err == nil {
		t.Error("expected error for missing run")
	}
	if _, err := e.ActionDataIndex("", 7, -1); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestElement_ActionRunsAreFinal(t *testing.T) {
	e, _ := twoActionElement()
	runs := e.ActionRuns()
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[1].Index() != 1 {
		t.Errorf("final run of action 1 = %d, want 1", runs[1].Index())
	}
	if len(e.Runs()) != 3 {
		t.Errorf("all runs = %d, want 3", len(e.Runs()))
	}
}

func TestRun_EARDependenciesExcludeSelf(t *testing.T) {
	e, _ := twoActionElement()
	for _, r := range e.Runs() {
		deps, err := r.EARDependencies()
		if err != nil {
			t.Fatalf("EARDependencies: %v", err)
		}
		for _, d := range deps {
			if d == r.Key() {
				t.Errorf("run %s depends on itself", r.Key())
			}
		}
	}
	first, _ := e.Action(0)
	deps, err := first.FinalRun().EARDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Errorf("A0 deps = %v, want none", deps)
	}
}

func TestElement_Dependencies(t *testing.T) {
	e, _ := twoActionElement()
	ears, err := e.EARDependencies()
	if err != nil {
		t.Fatalf("EARDependencies: %v", err)
	}
	want := []param.EARKey{{TaskInsertID: 1, ElementIdx: 3, ActionIdx: 0, RunIdx: 0}}
	if diff := cmp.Diff(want, ears); diff != "" {
		t.Errorf("EARDependencies (-want +got):\n%s", diff)
	}
	elems, err := e.ElementDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]param.ElementKey{{TaskInsertID: 1, ElementIdx: 3}}, elems); diff != "" {
		t.Errorf("ElementDependencies (-want +got):\n%s", diff)
	}
	inputs, err := e.InputDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1}, inputs); diff != "" {
		t.Errorf("InputDependencies (-want +got):\n%s", diff)
	}
	tasks, err := e.TaskDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1}, tasks); diff != "" {
		t.Errorf("TaskDependencies (-want +got):\n%s", diff)
	}
}

func TestElement_GetAndValues(t *testing.T) {
	e, _ := twoActionElement()
	v, err := e.Get("resources.any.num_cores")
	if err != nil || v != 2.0 {
		t.Errorf("Get(resources.any.num_cores) = %v, %v; want 2", v, err)
	}
	v, err = e.Get("outputs")
	if err != nil {
		t.Fatalf("Get(outputs): %v", err)
	}
	if diff := cmp.Diff(map[string]any{"y": 20.0}, v); diff != "" {
		t.Errorf("Get(outputs) (-want +got):\n%s", diff)
	}
	set, err := e.IsSet("inputs.x")
	if err != nil || !set {
		t.Errorf("IsSet(inputs.x) = %v, %v", set, err)
	}

	ea, _ := e.Action(1)
	first, _ := ea.Run(0)
	if set, _ := first.IsSet("inputs.x"); set {
		t.Error("run 0 of A1 binds an unset inputs.x")
	}
	vals, err := first.Values()
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 0 {
		t.Errorf("Values = %v, want empty", vals)
	}
}
