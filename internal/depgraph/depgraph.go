// Package depgraph resolves dependencies between the tasks, elements and runs
// of a workflow.
package depgraph

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/rungraph"
)

// Graph is the ordered view of a workflow's tasks.
type Graph interface {
	// TaskInsertIDs returns insert IDs in task order.
	TaskInsertIDs() []int
	Elements(insertID int) ([]*rungraph.Element, error)
}

// Resolver finds what depends on a run, element or task.
type Resolver interface {
	DependentEARs(ear param.EARKey) ([]param.EARKey, error)
	DependentElements(el param.ElementKey) ([]param.ElementKey, error)
	DependentTasks(insertID int) ([]int, error)
}

func position(g Graph, insertID int) (int, error) {
	pos := slices.Index(g.TaskInsertIDs(), insertID)
	if pos < 0 {
		return 0, &UnknownTaskError{InsertID: insertID}
	}
	return pos, nil
}

// TaskDependencies returns the tasks that task insertID depends on.
func TaskDependencies(g Graph, insertID int) ([]int, error) {
	elems, err := g.Elements(insertID)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range elems {
		deps, err := e.TaskDependencies()
		if err != nil {
			return nil, err
		}
		out = append(out, deps...)
	}
	return param.SortInts(out), nil
}

// DownstreamTasks returns the tasks placed after insertID that depend on it,
// in task order.
func DownstreamTasks(g Graph, insertID int) ([]int, error) {
	pos, err := position(g, insertID)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, id := range g.TaskInsertIDs()[pos+1:] {
		deps, err := TaskDependencies(g, id)
		if err != nil {
			return nil, err
		}
		if slices.Contains(deps, insertID) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Scanner resolves dependents by scanning every element of every downstream
// task. Each call costs time proportional to the size of the workflow.
type Scanner struct {
	Graph Graph
}

var _ Resolver = Scanner{}

func (s Scanner) downstreamElements(insertID int) ([]*rungraph.Element, error) {
	tasks, err := DownstreamTasks(s.Graph, insertID)
	if err != nil {
		return nil, err
	}
	var out []*rungraph.Element
	for _, id := range tasks {
		elems, err := s.Graph.Elements(id)
		if err != nil {
			return nil, err
		}
		out = append(out, elems...)
	}
	return out, nil
}

func (s Scanner) DependentEARs(ear param.EARKey) ([]param.EARKey, error) {
	elems, err := s.downstreamElements(ear.TaskInsertID)
	if err != nil {
		return nil, err
	}
	var out []param.EARKey
	for _, e := range elems {
		for _, r := range e.Runs() {
			deps, err := r.EARDependencies()
			if err != nil {
				return nil, err
			}
			if slices.Contains(deps, ear) {
				out = append(out, r.Key())
			}
		}
	}
	return param.SortEARKeys(out), nil
}

func (s Scanner) DependentElements(el param.ElementKey) ([]param.ElementKey, error) {
	elems, err := s.downstreamElements(el.TaskInsertID)
	if err != nil {
		return nil, err
	}
	var out []param.ElementKey
	for _, e := range elems {
		deps, err := e.ElementDependencies()
		if err != nil {
			return nil, err
		}
		if slices.Contains(deps, el) {
			out = append(out, e.Key())
		}
	}
	return param.SortElementKeys(out), nil
}

func (s Scanner) DependentTasks(insertID int) ([]int, error) {
	out, err := DownstreamTasks(s.Graph, insertID)
	if err != nil {
		return nil, err
	}
	return param.SortInts(out), nil
}

// Order returns insert IDs sorted so that every task follows the tasks it
// depends on. Ties keep the current task order. It uses Kahn's algorithm and
// fails if the dependencies contain a cycle.
func Order(g Graph) ([]int, error) {
	ids := g.TaskInsertIDs()
	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	// forward[A] = [B, C] means A must come before B and C.
	forward := make(map[int][]int, len(ids))
	inDegree := make(map[int]int, len(ids))
	for _, id := range ids {
		deps, err := TaskDependencies(g, id)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if _, ok := pos[dep]; !ok {
				continue
			}
			if dep == id {
				return nil, fmt.Errorf("task dependencies contain a cycle involving tasks: %d", id)
			}
			forward[dep] = append(forward[dep], id)
			inDegree[id]++
		}
	}

	byPos := func(q []int) {
		sort.Slice(q, func(i, j int) bool { return pos[q[i]] < pos[q[j]] })
	}
	var queue []int
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []int
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, succ := range forward[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		byPos(queue)
	}

	if len(order) != len(ids) {
		var cycle []string
		for _, id := range ids {
			if inDegree[id] > 0 {
				cycle = append(cycle, strconv.Itoa(id))
			}
		}
		return nil, fmt.Errorf("task dependencies contain a cycle involving tasks: %s", strings.Join(cycle, ", "))
	}
	return order, nil
}
