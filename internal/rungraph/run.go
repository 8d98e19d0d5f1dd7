package rungraph

import (
	"strings"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/pkg/action"
)

// Run is one execution attempt of an element action (an EAR).
type Run struct {
	action  *ElementAction
	index   int
	dataIdx param.DataIndex
}

var _ action.RuleData = (*Run)(nil)

func (r *Run) Index() int                    { return r.index }
func (r *Run) ElementAction() *ElementAction { return r.action }

// Key returns the run's (task, element, action, run) tuple.
func (r *Run) Key() param.EARKey {
	e := r.action.element
	return param.EARKey{
		TaskInsertID: e.task.InsertID(),
		ElementIdx:   e.rec.Index,
		ActionIdx:    r.action.index,
		RunIdx:       r.index,
	}
}

// DataIndex returns the run's data index filtered to path.
func (r *Run) DataIndex(path string) param.DataIndex { return r.dataIdx.Filter(path) }

// ParameterSources returns the source of every parameter at or below path.
func (r *Run) ParameterSources(path string) (map[string]param.Source, error) {
	return sources(r.params(), r.DataIndex(path))
}

// Get returns the value at path as seen by this run.
func (r *Run) Get(path string) (any, error) { return get(r.params(), r.dataIdx, path) }

// IsSet reports whether path is bound to a set parameter.
func (r *Run) IsSet(path string) (bool, error) { return isSet(r.params(), r.dataIdx, path) }

// Values returns every set parameter of the run nested by path.
func (r *Run) Values() (map[string]any, error) { return values(r.params(), r.dataIdx) }

// EARDependencies returns the runs that produced this run's parameters,
// excluding the run itself.
func (r *Run) EARDependencies() ([]param.EARKey, error) {
	self := r.Key()
	return earSources(r.params(), r.dataIdx, &self)
}

// TestRules reports whether the run's action applies to the run's data.
func (r *Run) TestRules() (bool, error) {
	act, err := r.action.Action()
	if err != nil {
		return false, err
	}
	return act.TestRules(r)
}

func (r *Run) params() ParamReader { return r.action.element.params }

func sources(p ParamReader, idx param.DataIndex) (map[string]param.Source, error) {
	out := make(map[string]param.Source, len(idx))
	for k, h := range idx {
		src, err := p.ParameterSource(h)
		if err != nil {
			return nil, err
		}
		out[k] = src
	}
	return out, nil
}

func earSources(p ParamReader, idx param.DataIndex, exclude *param.EARKey) ([]param.EARKey, error) {
	var out []param.EARKey
	for _, h := range idx {
		src, err := p.ParameterSource(h)
		if err != nil {
			return nil, err
		}
		k, ok := src.EARKey()
		if !ok || (exclude != nil && k == *exclude) {
			continue
		}
		out = append(out, k)
	}
	return param.SortEARKeys(out), nil
}

func isSet(p ParamReader, idx param.DataIndex, path string) (bool, error) {
	h, ok := idx[path]
	if !ok {
		return false, nil
	}
	return p.IsParameterSet(h)
}

func values(p ParamReader, idx param.DataIndex) (map[string]any, error) {
	root := map[string]any{}
	for _, k := range idx.Keys() {
		v, set, err := p.ParameterData(idx[k])
		if err != nil {
			return nil, err
		}
		if set {
			param.SetIn(root, k, v)
		}
	}
	return root, nil
}

func get(p ParamReader, idx param.DataIndex, path string) (any, error) {
	for k, h := range idx {
		if !param.MatchesPath(path, k) {
			continue
		}
		v, _, err := p.ParameterData(h)
		if err != nil {
			return nil, err
		}
		return param.GetIn(v, strings.TrimPrefix(strings.TrimPrefix(path, k), "."))
	}
	all, err := values(p, idx.Filter(path))
	if err != nil {
		return nil, err
	}
	return param.GetIn(all, path)
}

// DataView is a data index read through the parameter store. It lets rules
// be tested against data that no run owns yet.
type DataView struct {
	Params ParamReader
	Index  param.DataIndex
}

var _ action.RuleData = DataView{}

func (v DataView) IsSet(path string) (bool, error) { return isSet(v.Params, v.Index, path) }
func (v DataView) Values() (map[string]any, error) { return values(v.Params, v.Index) }
