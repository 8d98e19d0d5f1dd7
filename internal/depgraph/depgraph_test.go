package depgraph

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/rungraph"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/pkg/action"
)

type task int

func (t task) InsertID() int                                      { return int(t) }
func (t task) ExpandedActions() ([]*action.ExpandedAction, error) { return nil, nil }

type params []param.Source

func (p params) ParameterData(h int) (any, bool, error) { return nil, true, p.check(h) }
func (p params) ParameterSource(h int) (param.Source, error) {
	if err := p.check(h); err != nil {
		return param.Source{}, err
	}
	return p[h], nil
}
func (p params) IsParameterSet(h int) (bool, error) { return true, p.check(h) }
func (p params) check(h int) error {
	if h < 0 || h >= len(p) {
		return fmt.Errorf("no parameter %d", h)
	}
	return nil
}

// graph builds elements from (task, element) -> runs of action 0, where each
// run lists the handles of its data index.
type graph struct {
	order  []int
	params params
	elems  map[int][]*store.ElementRecord
}

func (g *graph) TaskInsertIDs() []int { return g.order }

func (g *graph) Elements(id int) ([]*rungraph.Element, error) {
	recs, ok := g.elems[id]
	if !ok {
		return nil, fmt.Errorf("no task %d", id)
	}
	out := make([]*rungraph.Element, len(recs))
	for i, r := range recs {
		out[i] = rungraph.NewElement(task(id), g.params, r)
	}
	return out, nil
}

func ear(task, elem int) param.EARKey {
	return param.EARKey{TaskInsertID: task, ElementIdx: elem}
}

func element(idx int, handles ...int) *store.ElementRecord {
	di := param.DataIndex{}
	for i, h := range handles {
		di[fmt.Sprintf("inputs.p%d", i)] = h
	}
	return &store.ElementRecord{Index: idx, DataIdx: param.DataIndex{}, Runs: map[int][]store.RunRecord{0: {{DataIdx: di}}}}
}

// chain: task 1 has two elements; task 2 element 0 uses 1/0, element 1 uses
// 1/1; task 3 uses 2/0 and 1/1.
func chain() *graph {
	return &graph{
		order: []int{1, 2, 3},
		params: params{
			param.LocalInput(1),        // 0
			param.EAROutput(ear(1, 0)), // 1
			param.EAROutput(ear(1, 1)), // 2
			param.EAROutput(ear(2, 0)), // 3
			param.EAROutput(ear(3, 0)), // 4: task 3's own output
		},
		elems: map[int][]*store.ElementRecord{
			1: {element(0, 0), element(1, 0)},
			2: {element(0, 1), element(1, 2)},
			3: {element(0, 3, 2, 4)},
		},
	}
}

func TestTaskDependencies(t *testing.T) {
	g := chain()
	tests := []struct {
		id   int
		deps []int
		down []int
	}{
		{1, nil, []int{2, 3}},
		{2, []int{1}, []int{3}},
		{3, []int{1, 2}, nil},
	}
	for _, tt := range tests {
		deps, err := TaskDependencies(g, tt.id)
		if err != nil {
			t.Fatalf("TaskDependencies(%d): %v", tt.id, err)
		}
		if diff := cmp.Diff(tt.deps, deps); diff != "" {
			t.Errorf("TaskDependencies(%d) (-want +got):\n%s", tt.id, diff)
		}
		down, err := DownstreamTasks(g, tt.id)
		if err != nil {
			t.Fatalf("DownstreamTasks(%d): %v", tt.id, err)
		}
		if diff := cmp.Diff(tt.down, down); diff != "" {
			t.Errorf("DownstreamTasks(%d) (-want +got):\n%s", tt.id, diff)
		}
	}
}

func TestScanner(t *testing.T) {
	s := Scanner{Graph: chain()}
	ears, err := s.DependentEARs(ear(1, 1))
	if err != nil {
		t.Fatalf("DependentEARs: %v", err)
	}
	if diff := cmp.Diff([]param.EARKey{ear(2, 1), ear(3, 0)}, ears); diff != "" {
		t.Errorf("DependentEARs (-want +got):\n%s", diff)
	}
	elems, err := s.DependentElements(param.ElementKey{TaskInsertID: 2, ElementIdx: 0})
	if err != nil {
		t.Fatalf("DependentElements: %v", err)
	}
	if diff := cmp.Diff([]param.ElementKey{{TaskInsertID: 3, ElementIdx: 0}}, elems); diff != "" {
		t.Errorf("DependentElements (-want +got):\n%s", diff)
	}
	if _, err := s.DependentTasks(9); !errors.As(err, new(*UnknownTaskError)) {
		t.Errorf("err = %v, want UnknownTaskError", err)
	}
}

func TestIndex_MatchesScanner(t *testing.T) {
	g := chain()
	ix, err := BuildIndex(g)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	s := Scanner{Graph: g}
	for _, id := range g.order {
		want, err := s.DependentTasks(id)
		if err != nil {
			t.Fatal(err)
		}
		got, err := ix.DependentTasks(id)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("DependentTasks(%d) (-scan +index):\n%s", id, diff)
		}
		for _, rec := range g.elems[id] {
			el := param.ElementKey{TaskInsertID: id, ElementIdx: rec.Index}
			wantEl, _ := s.DependentElements(el)
			gotEl, _ := ix.DependentElements(el)
			if diff := cmp.Diff(wantEl, gotEl); diff != "" {
				t.Errorf("DependentElements(%s) (-scan +index):\n%s", el, diff)
			}
			k := ear(id, rec.Index)
			wantEAR, _ := s.DependentEARs(k)
			gotEAR, _ := ix.DependentEARs(k)
			if diff := cmp.Diff(wantEAR, gotEAR); diff != "" {
				t.Errorf("DependentEARs(%s) (-scan +index):\n%s", k, diff)
			}
		}
	}
}

func TestOrder(t *testing.T) {
	g := chain()
	g.order = []int{3, 1, 2}
	order, err := Order(g)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, order); diff != "" {
		t.Errorf("Order (-want +got):\n%s", diff)
	}
}

func TestOrder_Cycle(t *testing.T) {
	g := &graph{
		order:  []int{1, 2},
		params: params{param.EAROutput(ear(2, 0)), param.EAROutput(ear(1, 0))},
		elems: map[int][]*store.ElementRecord{
			1: {element(0, 0)},
			2: {element(0, 1)},
		},
	}
	_, err := Order(g)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want cycle error", err)
	}
}
