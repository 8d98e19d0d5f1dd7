package template

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/me/elemflow/pkg/action"
	"github.com/me/elemflow/pkg/component"
)

// Task is the template of one workflow task: a schema plus the element sets
// that instantiate it. InsertID is zero until the task is added to a workflow.
type Task struct {
	Schema      *TaskSchema
	ElementSets []*ElementSet
	InsertID    int

	once     sync.Once
	expanded []*action.ExpandedAction
	expErr   error
}

// NewTask returns a task of schema with the given element sets.
func NewTask(schema *TaskSchema, sets ...*ElementSet) *Task {
	return &Task{Schema: schema, ElementSets: sets}
}

// Name returns the task's objective. Workflow tasks are addressed by the
// unique name derived from it.
func (t *Task) Name() string { return t.Schema.Objective }

// ExpandedActions expands the schema's actions on first call and returns the
// same slice afterwards.
func (t *Task) ExpandedActions() ([]*action.ExpandedAction, error) {
	t.once.Do(func() {
		for i, a := range t.Schema.Actions {
			acts, err := a.Expand()
			if err != nil {
				t.expErr = fmt.Errorf("task %s: action %d: %w", t.Name(), i, err)
				t.expanded = nil
				return
			}
			t.expanded = append(t.expanded, acts...)
		}
	})
	return t.expanded, t.expErr
}

// WithInsertID returns a copy of t bound to insertID, with its own element
// set slice.
func (t *Task) WithInsertID(insertID int) *Task {
	c := &Task{Schema: t.Schema, InsertID: insertID}
	for _, es := range t.ElementSets {
		c.ElementSets = append(c.ElementSets, es.Clone())
	}
	return c
}

// Components lists the shared template components the task references,
// keyed by kind.
func (t *Task) Components() map[component.Kind][]any {
	out := map[component.Kind][]any{
		component.KindTaskSchemas: {t.Schema},
	}
	seenEnv := map[string]bool{}
	seenFile := map[component.FileSpec]bool{}
	for _, a := range t.Schema.Actions {
		for _, e := range a.Environments {
			if e.Environment != nil && !seenEnv[e.Environment.Name] {
				seenEnv[e.Environment.Name] = true
				out[component.KindEnvironments] = append(out[component.KindEnvironments], e.Environment)
			}
		}
		for _, f := range append(append([]component.FileSpec(nil), a.InputFiles...), a.OutputFiles...) {
			if !seenFile[f] {
				seenFile[f] = true
				out[component.KindCommandFiles] = append(out[component.KindCommandFiles], f)
			}
		}
	}
	seenParam := map[string]bool{}
	for _, p := range t.Schema.Parameters() {
		if !seenParam[p.Type] {
			seenParam[p.Type] = true
			out[component.KindParameters] = append(out[component.KindParameters], p)
		}
	}
	return out
}

type taskJSON struct {
	InsertID    int           `json:"insert_ID"`
	Schema      *TaskSchema   `json:"schema"`
	ElementSets []*ElementSet `json:"element_sets"`
}

func (t *Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskJSON{InsertID: t.InsertID, Schema: t.Schema, ElementSets: t.ElementSets})
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var j taskJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	if j.Schema == nil {
		return fmt.Errorf("decode task: missing schema")
	}
	t.InsertID, t.Schema, t.ElementSets = j.InsertID, j.Schema, j.ElementSets
	return nil
}

// Template is the authored description of a workflow.
type Template struct {
	Name  string  `json:"name"`
	Tasks []*Task `json:"tasks"`
}

// BindEnvironments resolves the environment placeholders left by decoding.
func (tm *Template) BindEnvironments(lookup func(name string) (*component.Environment, error)) error {
	for _, t := range tm.Tasks {
		for _, a := range t.Schema.Actions {
			if err := a.BindEnvironments(lookup); err != nil {
				return fmt.Errorf("task %s: %w", t.Name(), err)
			}
		}
	}
	return nil
}
