package workflow

import (
	"github.com/me/elemflow/pkg/template"
)

// resolveSources picks one source per schema input of task for es and binds
// task references to insert IDs. Explicit sources win; otherwise local
// values, then the nearest upstream task producing the input, then the
// schema default.
func (w *Workflow) resolveSources(task *Task, es *template.ElementSet) (map[string]template.InputSource, error) {
	out := map[string]template.InputSource{}
	for _, in := range task.Schema().Inputs {
		typ := in.Parameter.Type
		if given := es.Sources[typ]; len(given) > 0 {
			src, err := w.bindSource(task, typ, given[0])
			if err != nil {
				return nil, err
			}
			out[typ] = src
			continue
		}
		src, ok := w.defaultSource(task, es, in)
		if !ok {
			return nil, &MissingInputError{Task: task.Name(), Input: typ}
		}
		out[typ] = src
	}
	return out, nil
}

func (w *Workflow) bindSource(task *Task, input string, src template.InputSource) (template.InputSource, error) {
	if src.Type != template.SourceTask {
		return src, nil
	}
	if src.TaskSourceType == "" {
		src.TaskSourceType = template.TaskSourceOutput
	}
	var (
		up  *Task
		err error
	)
	if src.TaskRef != "" {
		up, err = w.TaskByRef(src.TaskRef)
	} else {
		up, err = w.TaskByInsertID(src.TaskInsertID)
	}
	if err != nil {
		return src, &InvalidInputSourceTaskReferenceError{Source: src, Input: input, Reason: err.Error()}
	}
	src.TaskInsertID = up.InsertID()

	if up == task {
		if src.TaskSourceType == template.TaskSourceOutput {
			return src, &InvalidInputSourceTaskReferenceError{
				Source: src, Input: input, Reason: "a task cannot take inputs from its own outputs",
			}
		}
		w.logger.Warn("input source refers to its own task; using local values",
			"task", task.Name(), "input", input, "source", src.String())
		return template.LocalSource(), nil
	}
	if up.Index() > task.Index() {
		return src, &InvalidInputSourceTaskReferenceError{
			Source: src, Input: input, Reason: "task " + up.Name() + " is not upstream of " + task.Name(),
		}
	}
	switch src.TaskSourceType {
	case template.TaskSourceOutput:
		if !up.Schema().HasOutput(input) {
			return src, &InvalidInputSourceTaskReferenceError{
				Source: src, Input: input, Reason: "task " + up.Name() + " has no output " + input,
			}
		}
	case template.TaskSourceInput:
		if _, ok := up.Schema().Input(input); !ok {
			return src, &InvalidInputSourceTaskReferenceError{
				Source: src, Input: input, Reason: "task " + up.Name() + " has no input " + input,
			}
		}
	}
	return src, nil
}

func (w *Workflow) defaultSource(task *Task, es *template.ElementSet, in template.SchemaInput) (template.InputSource, bool) {
	typ := in.Parameter.Type
	if _, ok := es.Input(typ); ok {
		return template.LocalSource(), true
	}
	if _, ok := es.Sequence(typ); ok {
		return template.LocalSource(), true
	}
	for i := task.Index() - 1; i >= 0; i-- {
		up := w.tasks[i]
		if up.Schema().HasOutput(typ) {
			src := template.TaskSource(up.Name(), template.TaskSourceOutput)
			src.TaskInsertID = up.InsertID()
			return src, true
		}
	}
	if in.HasDefault() {
		return template.DefaultSource(), true
	}
	return template.InputSource{}, false
}
