package depgraph

import (
	"github.com/me/elemflow/internal/param"
)

// Index is a reverse dependency index built in one pass over a graph. It
// answers the same queries as Scanner without rescanning, and is stale once
// the graph changes.
type Index struct {
	ears     map[param.EARKey][]param.EARKey
	elements map[param.ElementKey][]param.ElementKey
	tasks    map[int][]int
	known    map[int]bool
}

var _ Resolver = (*Index)(nil)

// BuildIndex indexes every dependency edge that points from a later task to
// an earlier one.
func BuildIndex(g Graph) (*Index, error) {
	ix := &Index{
		ears:     map[param.EARKey][]param.EARKey{},
		elements: map[param.ElementKey][]param.ElementKey{},
		tasks:    map[int][]int{},
		known:    map[int]bool{},
	}
	ids := g.TaskInsertIDs()
	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
		ix.known[id] = true
	}
	upstream := func(dep, of int) bool {
		p, ok := pos[dep]
		return ok && p < pos[of]
	}

	for _, id := range ids {
		elems, err := g.Elements(id)
		if err != nil {
			return nil, err
		}
		taskDeps := map[int]bool{}
		for _, e := range elems {
			for _, r := range e.Runs() {
				deps, err := r.EARDependencies()
				if err != nil {
					return nil, err
				}
				for _, d := range deps {
					if upstream(d.TaskInsertID, id) {
						ix.ears[d] = append(ix.ears[d], r.Key())
					}
				}
			}
			elDeps, err := e.ElementDependencies()
			if err != nil {
				return nil, err
			}
			for _, d := range elDeps {
				if upstream(d.TaskInsertID, id) {
					ix.elements[d] = append(ix.elements[d], e.Key())
				}
			}
			tDeps, err := e.TaskDependencies()
			if err != nil {
				return nil, err
			}
			for _, d := range tDeps {
				if upstream(d, id) {
					taskDeps[d] = true
				}
			}
		}
		for d := range taskDeps {
			ix.tasks[d] = append(ix.tasks[d], id)
		}
	}

	for k, v := range ix.ears {
		ix.ears[k] = param.SortEARKeys(v)
	}
	for k, v := range ix.elements {
		ix.elements[k] = param.SortElementKeys(v)
	}
	for k, v := range ix.tasks {
		ix.tasks[k] = param.SortInts(v)
	}
	return ix, nil
}

func (ix *Index) DependentEARs(ear param.EARKey) ([]param.EARKey, error) {
	if err := ix.check(ear.TaskInsertID); err != nil {
		return nil, err
	}
	return ix.ears[ear], nil
}

func (ix *Index) DependentElements(el param.ElementKey) ([]param.ElementKey, error) {
	if err := ix.check(el.TaskInsertID); err != nil {
		return nil, err
	}
	return ix.elements[el], nil
}

func (ix *Index) DependentTasks(insertID int) ([]int, error) {
	if err := ix.check(insertID); err != nil {
		return nil, err
	}
	return ix.tasks[insertID], nil
}

func (ix *Index) check(insertID int) error {
	if !ix.known[insertID] {
		return &UnknownTaskError{InsertID: insertID}
	}
	return nil
}
