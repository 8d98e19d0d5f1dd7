// Package loader builds workflow templates from YAML documents.
//
// A document may declare shared components (parameters, command files,
// environments and task schemas) and a template whose tasks refer to schemas
// by objective. Declared components are added to the loader's registry;
// every name in the template is resolved against that registry.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/me/elemflow/internal/logging"
	"github.com/me/elemflow/pkg/action"
	"github.com/me/elemflow/pkg/component"
	"github.com/me/elemflow/pkg/template"
)

type document struct {
	Parameters   []component.Parameter    `mapstructure:"parameters"`
	CommandFiles []component.FileSpec     `mapstructure:"command_files"`
	Environments []*component.Environment `mapstructure:"environments"`
	TaskSchemas  []schemaDoc              `mapstructure:"task_schemas"`
	Template     *templateDoc             `mapstructure:"template"`
}

type schemaDoc struct {
	Objective string      `mapstructure:"objective"`
	Inputs    []inputDoc  `mapstructure:"inputs"`
	Outputs   []string    `mapstructure:"outputs"`
	Actions   []actionDoc `mapstructure:"actions"`
}

type inputDoc struct {
	Parameter string `mapstructure:"parameter"`
	Default   any    `mapstructure:"default"`
}

type actionDoc struct {
	Commands            []action.Command  `mapstructure:"commands"`
	Environments        []environmentDoc  `mapstructure:"environments"`
	InputFileGenerators []generatorDoc    `mapstructure:"input_file_generators"`
	OutputFileParsers   []parserDoc       `mapstructure:"output_file_parsers"`
	Rules               []action.RuleSpec `mapstructure:"rules"`
}

type environmentDoc struct {
	Environment string       `mapstructure:"environment"`
	Scope       action.Scope `mapstructure:"scope"`
}

type generatorDoc struct {
	InputFile string   `mapstructure:"input_file"`
	Inputs    []string `mapstructure:"inputs"`
	Script    string   `mapstructure:"script"`
}

type parserDoc struct {
	Output      string   `mapstructure:"output"`
	OutputFiles []string `mapstructure:"output_files"`
	Script      string   `mapstructure:"script"`
}

type templateDoc struct {
	Name  string    `mapstructure:"name"`
	Tasks []taskDoc `mapstructure:"tasks"`
}

type taskDoc struct {
	Schema      string                 `mapstructure:"schema"`
	ElementSets []*template.ElementSet `mapstructure:"element_sets"`
}

// Loader decodes template documents against a registry.
type Loader struct {
	registry *template.Registry
	logger   *slog.Logger
}

// New returns a loader that registers components in reg and resolves
// names against it. A nil logger discards logs.
func New(reg *template.Registry, logger *slog.Logger) *Loader {
	return &Loader{registry: reg, logger: logging.OrDiscard(logger).With("component", "loader")}
}

// Registry returns the loader's registry.
func (l *Loader) Registry() *template.Registry { return l.registry }

// LoadFile reads and loads the document at path.
func (l *Loader) LoadFile(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	tmpl, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tmpl, nil
}

// Load registers the document's components and builds its template. A
// document without a template section only registers components and
// returns a nil template.
func (l *Loader) Load(data []byte) (*template.Template, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	var doc document
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}
	if err := l.register(&doc); err != nil {
		return nil, err
	}
	if doc.Template == nil {
		return nil, nil
	}
	return l.build(doc.Template)
}

func (l *Loader) register(doc *document) error {
	for _, p := range doc.Parameters {
		if err := l.registry.AddParameter(p); err != nil {
			return err
		}
	}
	for _, f := range doc.CommandFiles {
		if err := l.registry.AddCommandFile(f); err != nil {
			return err
		}
	}
	for _, e := range doc.Environments {
		if err := l.registry.AddEnvironment(e); err != nil {
			return err
		}
	}
	for _, sd := range doc.TaskSchemas {
		s, err := l.schema(sd)
		if err != nil {
			return fmt.Errorf("task schema %s: %w", sd.Objective, err)
		}
		if err := l.registry.AddTaskSchema(s); err != nil {
			return err
		}
	}
	l.logger.Debug("components registered",
		"parameters", len(doc.Parameters),
		"command_files", len(doc.CommandFiles),
		"environments", len(doc.Environments),
		"task_schemas", len(doc.TaskSchemas))
	return nil
}

func (l *Loader) schema(sd schemaDoc) (*template.TaskSchema, error) {
	s := &template.TaskSchema{Objective: sd.Objective}
	for _, in := range sd.Inputs {
		s.Inputs = append(s.Inputs, template.SchemaInput{Parameter: l.registry.Parameter(in.Parameter), Default: in.Default})
	}
	for _, out := range sd.Outputs {
		s.Outputs = append(s.Outputs, l.registry.Parameter(out))
	}
	for i, ad := range sd.Actions {
		a, err := l.action(ad)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		s.Actions = append(s.Actions, a)
	}
	return s, nil
}

func (l *Loader) action(ad actionDoc) (*action.Action, error) {
	spec := action.Spec{Commands: ad.Commands}
	for _, rs := range ad.Rules {
		r, err := rs.Build()
		if err != nil {
			return nil, err
		}
		spec.Rules = append(spec.Rules, r)
	}
	for _, ed := range ad.Environments {
		env, err := l.registry.Environment(ed.Environment)
		if err != nil {
			return nil, err
		}
		spec.Environments = append(spec.Environments, action.NewActionEnvironment(env, ed.Scope))
	}
	for _, gd := range ad.InputFileGenerators {
		f, err := l.registry.CommandFile(gd.InputFile)
		if err != nil {
			return nil, err
		}
		spec.InputFileGenerators = append(spec.InputFileGenerators, &action.InputFileGenerator{
			InputFile: f, Inputs: gd.Inputs, Script: gd.Script,
		})
	}
	for _, pd := range ad.OutputFileParsers {
		p := &action.OutputFileParser{Output: pd.Output, Script: pd.Script}
		for _, label := range pd.OutputFiles {
			f, err := l.registry.CommandFile(label)
			if err != nil {
				return nil, err
			}
			p.OutputFiles = append(p.OutputFiles, f)
		}
		spec.OutputFileParsers = append(spec.OutputFileParsers, p)
	}
	return action.NewAction(spec), nil
}

func (l *Loader) build(td *templateDoc) (*template.Template, error) {
	tmpl := &template.Template{Name: td.Name}
	for i, t := range td.Tasks {
		schema, err := l.registry.TaskSchema(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		sets := t.ElementSets
		if len(sets) == 0 {
			sets = []*template.ElementSet{{}}
		}
		tmpl.Tasks = append(tmpl.Tasks, template.NewTask(schema, sets...))
	}
	l.logger.Debug("template loaded", "name", tmpl.Name, "tasks", len(tmpl.Tasks))
	return tmpl, nil
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.ComposeDecodeHookFunc(scopeHook, inputValuesHook),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode template document: %w", err)
	}
	return nil
}

var (
	scopeType       = reflect.TypeOf(action.Scope{})
	inputValuesType = reflect.TypeOf([]template.InputValue{})
)

// scopeHook decodes scopes written as "input_file_generator[file=cfg]".
func scopeHook(from, to reflect.Type, data any) (any, error) {
	if to != scopeType || from.Kind() != reflect.String {
		return data, nil
	}
	return action.ParseScope(data.(string))
}

// inputValuesHook accepts element-set inputs written as a map from
// parameter to value.
func inputValuesHook(from, to reflect.Type, data any) (any, error) {
	if to != inputValuesType || from.Kind() != reflect.Map {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]template.InputValue, len(keys))
	for i, k := range keys {
		out[i] = template.InputValue{Parameter: k, Value: m[k]}
	}
	return out, nil
}
