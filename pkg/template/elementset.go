package template

import (
	"fmt"
	"strings"
)

// InputValue is a literal value for one input, optionally for a sub-path of it.
type InputValue struct {
	Parameter string `json:"parameter" mapstructure:"parameter"`
	Value     any    `json:"value" mapstructure:"value"`
}

// Path returns the data-index path of the input, e.g. "inputs.x".
func (v InputValue) Path() string { return "inputs." + v.Parameter }

// ValueSequence gives one value per element for Path. Sequences sharing a
// nesting order are zipped; a higher nesting order nests inside a lower one.
type ValueSequence struct {
	Path         string `json:"path" mapstructure:"path"`
	Values       []any  `json:"values" mapstructure:"values"`
	NestingOrder int    `json:"nesting_order" mapstructure:"nesting_order"`
}

// Parameter returns the input type the sequence sets.
func (s ValueSequence) Parameter() string {
	p := strings.TrimPrefix(s.Path, "inputs.")
	name, _, _ := strings.Cut(p, ".")
	return name
}

// InputSourceType says where an input's value comes from.
type InputSourceType string

const (
	SourceLocal   InputSourceType = "local"
	SourceDefault InputSourceType = "default"
	SourceTask    InputSourceType = "task"
)

// TaskSourceType selects an upstream task's outputs or its inputs.
type TaskSourceType string

const (
	TaskSourceOutput TaskSourceType = "output"
	TaskSourceInput  TaskSourceType = "input"
)

// InputSource names the origin of an input's values. Task sources refer to an
// upstream task by unique name in authored templates; once the task is added
// to a workflow the reference is resolved to TaskInsertID.
type InputSource struct {
	Type           InputSourceType `json:"type" mapstructure:"type"`
	TaskRef        string          `json:"task_ref,omitempty" mapstructure:"task_ref"`
	TaskInsertID   int             `json:"task_insert_ID,omitempty" mapstructure:"task_insert_id"`
	TaskSourceType TaskSourceType  `json:"task_source_type,omitempty" mapstructure:"task_source_type"`
	ElementIndices []int           `json:"element_iters,omitempty" mapstructure:"element_indices"`
}

// LocalSource returns a source for locally defined values.
func LocalSource() InputSource { return InputSource{Type: SourceLocal} }

// DefaultSource returns a source for the schema default.
func DefaultSource() InputSource { return InputSource{Type: SourceDefault} }

// TaskSource returns a source for the outputs (or inputs) of task ref.
func TaskSource(ref string, typ TaskSourceType) InputSource {
	if typ == "" {
		typ = TaskSourceOutput
	}
	return InputSource{Type: SourceTask, TaskRef: ref, TaskSourceType: typ}
}

func (s InputSource) String() string {
	switch s.Type {
	case SourceTask:
		ref := s.TaskRef
		if ref == "" {
			ref = fmt.Sprint(s.TaskInsertID)
		}
		return fmt.Sprintf("task.%s.%s", ref, s.TaskSourceType)
	default:
		return string(s.Type)
	}
}

// ElementGroup names a subset of a task's elements.
type ElementGroup struct {
	Name string `json:"name" mapstructure:"name"`
}

// ResourceSpec requests compute resources for a scope of the task's actions.
type ResourceSpec struct {
	Scope    string         `json:"scope" mapstructure:"scope"`
	NumCores int            `json:"num_cores,omitempty" mapstructure:"num_cores"`
	Extra    map[string]any `json:"extra,omitempty" mapstructure:"extra"`
}

// Path returns the data-index path of the resource, e.g. "resources.any".
func (r ResourceSpec) Path() string {
	scope := r.Scope
	if scope == "" {
		scope = "any"
	}
	return "resources." + scope
}

// Value returns the stored form of the resource request.
func (r ResourceSpec) Value() map[string]any {
	v := map[string]any{}
	for k, x := range r.Extra {
		v[k] = x
	}
	if r.NumCores > 0 {
		v["num_cores"] = r.NumCores
	}
	return v
}

// ElementSet specifies how many elements a task gets and where their inputs
// come from.
type ElementSet struct {
	Inputs    []InputValue             `json:"inputs,omitempty" mapstructure:"inputs"`
	Sequences []ValueSequence          `json:"sequences,omitempty" mapstructure:"sequences"`
	Sources   map[string][]InputSource `json:"input_sources,omitempty" mapstructure:"sources"`
	Repeats   int                      `json:"repeats,omitempty" mapstructure:"repeats"`
	Groups    []ElementGroup           `json:"groups,omitempty" mapstructure:"groups"`
	Resources []ResourceSpec           `json:"resources,omitempty" mapstructure:"resources"`
}

// Input returns the literal value given for parameter.
func (es *ElementSet) Input(parameter string) (InputValue, bool) {
	for _, in := range es.Inputs {
		if in.Parameter == parameter {
			return in, true
		}
	}
	return InputValue{}, false
}

// Sequence returns the sequence that sets parameter.
func (es *ElementSet) Sequence(parameter string) (ValueSequence, bool) {
	for _, s := range es.Sequences {
		if s.Parameter() == parameter {
			return s, true
		}
	}
	return ValueSequence{}, false
}

// Clone returns a copy whose slices and maps can be modified independently.
func (es *ElementSet) Clone() *ElementSet {
	c := *es
	c.Inputs = append([]InputValue(nil), es.Inputs...)
	c.Sequences = append([]ValueSequence(nil), es.Sequences...)
	c.Groups = append([]ElementGroup(nil), es.Groups...)
	c.Resources = append([]ResourceSpec(nil), es.Resources...)
	if es.Sources != nil {
		c.Sources = make(map[string][]InputSource, len(es.Sources))
		for k, v := range es.Sources {
			c.Sources[k] = append([]InputSource(nil), v...)
		}
	}
	return &c
}
