package action

import (
	"fmt"
	"strings"

	"github.com/me/elemflow/pkg/component"
)

// Spec is the body shared by raw and expanded actions.
type Spec struct {
	Commands            []Command
	Environments        []ActionEnvironment
	InputFileGenerators []*InputFileGenerator
	OutputFileParsers   []*OutputFileParser
	InputFiles          []component.FileSpec
	OutputFiles         []component.FileSpec
	Rules               []Rule
}

// Action is an authored action, as found in a task schema.
type Action struct {
	Spec
}

// ExpandedAction is one concrete, runnable part of an authored action. It is
// produced only by Expand.
type ExpandedAction struct {
	Spec
	scope Scope
}

// Expander is implemented by raw and expanded actions. Expanding an
// ExpandedAction returns it unchanged.
type Expander interface {
	Expand() ([]*ExpandedAction, error)
}

var (
	_ Expander = (*Action)(nil)
	_ Expander = (*ExpandedAction)(nil)
)

// NewAction builds an action, adding the files written by its generators and
// read by its parsers to its input and output files.
func NewAction(s Spec) *Action {
	s.InputFiles = append([]component.FileSpec(nil), s.InputFiles...)
	s.OutputFiles = append([]component.FileSpec(nil), s.OutputFiles...)
	for _, g := range s.InputFileGenerators {
		if !containsFile(s.InputFiles, g.InputFile) {
			s.InputFiles = append(s.InputFiles, g.InputFile)
		}
	}
	for _, p := range s.OutputFileParsers {
		for _, f := range p.OutputFiles {
			if !containsFile(s.OutputFiles, f) {
				s.OutputFiles = append(s.OutputFiles, f)
			}
		}
	}
	return &Action{Spec: s}
}

// Expand expands a into its concrete actions.
func (a *Action) Expand() ([]*ExpandedAction, error) { return Expand(a) }

// Expand returns e itself.
func (e *ExpandedAction) Expand() ([]*ExpandedAction, error) { return []*ExpandedAction{e}, nil }

// PossibleScopes is only defined once the action is expanded.
func (a *Action) PossibleScopes() ([]Scope, error) { return nil, ErrNotExpanded }

// PreciseScope is only defined once the action is expanded.
func (a *Action) PreciseScope() (Scope, error) { return Scope{}, ErrNotExpanded }

// PreciseScope returns the scope that exactly identifies this part of the
// authored action.
func (e *ExpandedAction) PreciseScope() (Scope, error) { return e.scope, nil }

// PossibleScopes returns, most specific first, the scopes an environment
// binding could use to target this action.
func (e *ExpandedAction) PossibleScopes() ([]Scope, error) {
	scopes := []Scope{e.scope}
	switch {
	case len(e.InputFileGenerators) > 0:
		scopes = append(scopes, InputFileGeneratorScope(""), ProcessingScope(), AnyScope())
	case len(e.OutputFileParsers) > 0:
		scopes = append(scopes, OutputFileParserScope(""), ProcessingScope(), AnyScope())
	default:
		scopes = append(scopes, AnyScope())
	}
	return scopes, nil
}

// Environment returns the single environment an expanded action runs in.
func (e *ExpandedAction) Environment() *component.Environment {
	if len(e.Environments) == 0 {
		return nil
	}
	return e.Environments[0].Environment
}

// CommandInputTypes returns the parameters referenced in command text.
func (s *Spec) CommandInputTypes() []string {
	var out []string
	for _, c := range s.Commands {
		out = append(out, c.InputTypes()...)
	}
	return sortedUnique(out)
}

// CommandOutputTypes returns the parameters captured from command output.
func (s *Spec) CommandOutputTypes() ([]string, error) {
	var out []string
	for _, c := range s.Commands {
		types, err := c.OutputTypes()
		if err != nil {
			return nil, err
		}
		out = append(out, types...)
	}
	return sortedUnique(out), nil
}

// InputTypes returns every parameter the action consumes.
func (s *Spec) InputTypes() []string {
	out := s.CommandInputTypes()
	for _, g := range s.InputFileGenerators {
		out = append(out, g.Inputs...)
	}
	return sortedUnique(out)
}

// OutputTypes returns every parameter the action produces.
func (s *Spec) OutputTypes() ([]string, error) {
	out, err := s.CommandOutputTypes()
	if err != nil {
		return nil, err
	}
	for _, p := range s.OutputFileParsers {
		out = append(out, p.Output)
	}
	return sortedUnique(out), nil
}

// InputFileLabels returns the labels of the action's input files.
func (s *Spec) InputFileLabels() []string {
	out := make([]string, 0, len(s.InputFiles))
	for _, f := range s.InputFiles {
		out = append(out, f.Label)
	}
	return out
}

// OutputFileLabels returns the labels of the action's output files.
func (s *Spec) OutputFileLabels() []string {
	out := make([]string, 0, len(s.OutputFiles))
	for _, f := range s.OutputFiles {
		out = append(out, f.Label)
	}
	return out
}

// DataIndexKeys lists every parameter path a run of this action must bind.
func (s *Spec) DataIndexKeys() ([]string, error) {
	outputs, err := s.OutputTypes()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, t := range s.InputTypes() {
		keys = append(keys, "inputs."+t)
	}
	for _, t := range outputs {
		keys = append(keys, "outputs."+t)
	}
	for _, l := range s.InputFileLabels() {
		keys = append(keys, "input_files."+l)
	}
	for _, l := range s.OutputFileLabels() {
		keys = append(keys, "output_files."+l)
	}
	return keys, nil
}

// GenerateDataIndex builds the data index of a new run. Keys already bound
// in elementIdx are reused; the rest get a fresh unset handle from alloc,
// which is passed the key. Every resources.* key of elementIdx is carried over.
func (s *Spec) GenerateDataIndex(elementIdx map[string]int, alloc func(key string) (int, error)) (map[string]int, error) {
	keys, err := s.DataIndexKeys()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(keys))
	for k, v := range elementIdx {
		if k == "resources" || strings.HasPrefix(k, "resources.") {
			idx[k] = v
		}
	}
	for _, k := range keys {
		if _, ok := idx[k]; ok {
			continue
		}
		if h, ok := elementIdx[k]; ok {
			idx[k] = h
			continue
		}
		h, err := alloc(k)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", k, err)
		}
		idx[k] = h
	}
	return idx, nil
}

// TestRules reports whether every rule of the action passes.
func (s *Spec) TestRules(data RuleData) (bool, error) {
	for _, r := range s.Rules {
		ok, err := r.Test(data)
		if err != nil {
			return false, fmt.Errorf("%s: %w", r, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ResolveCommands substitutes the placeholders of every command, using the
// expanded action's environment for executables and its files for file labels.
func (e *ExpandedAction) ResolveCommands(parameter func(name string) (any, error)) ([]string, error) {
	env := e.Environment()
	files := map[string]string{}
	for _, f := range e.InputFiles {
		files[f.Label] = f.Name
	}
	for _, f := range e.OutputFiles {
		files[f.Label] = f.Name
	}
	r := Resolver{
		Parameter:  parameter,
		Executable: env.Executable,
		File: func(label string) (string, error) {
			name, ok := files[label]
			if !ok {
				return "", fmt.Errorf("unknown file label %q", label)
			}
			return name, nil
		},
	}
	out := make([]string, 0, len(e.Commands))
	for _, c := range e.Commands {
		s, err := c.Resolve(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
