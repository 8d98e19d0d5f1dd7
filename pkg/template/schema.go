package template

import (
	"github.com/me/elemflow/pkg/action"
	"github.com/me/elemflow/pkg/component"
)

// SchemaInput is one input of a task schema, with an optional default.
type SchemaInput struct {
	Parameter component.Parameter `json:"parameter" mapstructure:"parameter"`
	Default   any                 `json:"default,omitempty" mapstructure:"default"`
}

// HasDefault reports whether the input has a schema default.
func (i SchemaInput) HasDefault() bool { return i.Default != nil }

// TaskSchema describes what a task does: the inputs it needs, the outputs it
// produces and the actions that get it done.
type TaskSchema struct {
	Objective string                `json:"objective" mapstructure:"objective"`
	Inputs    []SchemaInput         `json:"inputs" mapstructure:"inputs"`
	Outputs   []component.Parameter `json:"outputs" mapstructure:"outputs"`
	Actions   []*action.Action      `json:"actions" mapstructure:"actions"`
}

// InputTypes returns the schema's input parameter types in declaration order.
func (s *TaskSchema) InputTypes() []string {
	out := make([]string, len(s.Inputs))
	for i, in := range s.Inputs {
		out[i] = in.Parameter.Type
	}
	return out
}

// OutputTypes returns the schema's output parameter types in declaration order.
func (s *TaskSchema) OutputTypes() []string {
	out := make([]string, len(s.Outputs))
	for i, o := range s.Outputs {
		out[i] = o.Type
	}
	return out
}

// Input returns the schema input of the given type.
func (s *TaskSchema) Input(typ string) (SchemaInput, bool) {
	for _, in := range s.Inputs {
		if in.Parameter.Type == typ {
			return in, true
		}
	}
	return SchemaInput{}, false
}

// HasOutput reports whether the schema produces typ.
func (s *TaskSchema) HasOutput(typ string) bool {
	for _, o := range s.Outputs {
		if o.Type == typ {
			return true
		}
	}
	return false
}

// Parameters returns every parameter the schema references.
func (s *TaskSchema) Parameters() []component.Parameter {
	out := make([]component.Parameter, 0, len(s.Inputs)+len(s.Outputs))
	for _, in := range s.Inputs {
		out = append(out, in.Parameter)
	}
	return append(out, s.Outputs...)
}
