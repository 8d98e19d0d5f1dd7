package action

import (
	"encoding/json"
	"fmt"

	"github.com/me/elemflow/pkg/component"
)

type actionEnvJSON struct {
	Environment string `json:"environment"`
	Scope       Scope  `json:"scope"`
}

type specJSON struct {
	Commands            []Command             `json:"commands"`
	Environments        []actionEnvJSON       `json:"environments"`
	InputFileGenerators []*InputFileGenerator `json:"input_file_generators,omitempty"`
	OutputFileParsers   []*OutputFileParser   `json:"output_file_parsers,omitempty"`
	InputFiles          []component.FileSpec  `json:"input_files,omitempty"`
	OutputFiles         []component.FileSpec  `json:"output_files,omitempty"`
	Rules               []RuleSpec            `json:"rules,omitempty"`
	Scope               *Scope                `json:"scope,omitempty"`
}

func (s *Spec) toJSON() specJSON {
	j := specJSON{
		Commands:            s.Commands,
		InputFileGenerators: s.InputFileGenerators,
		OutputFileParsers:   s.OutputFileParsers,
		InputFiles:          s.InputFiles,
		OutputFiles:         s.OutputFiles,
	}
	for _, e := range s.Environments {
		name := ""
		if e.Environment != nil {
			name = e.Environment.Name
		}
		j.Environments = append(j.Environments, actionEnvJSON{Environment: name, Scope: e.Scope})
	}
	for _, r := range s.Rules {
		j.Rules = append(j.Rules, SpecOf(r))
	}
	return j
}

func (j specJSON) spec() (Spec, error) {
	rules, err := BuildRules(j.Rules)
	if err != nil {
		return Spec{}, err
	}
	s := Spec{
		Commands:            j.Commands,
		InputFileGenerators: j.InputFileGenerators,
		OutputFileParsers:   j.OutputFileParsers,
		InputFiles:          j.InputFiles,
		OutputFiles:         j.OutputFiles,
		Rules:               rules,
	}
	for _, e := range j.Environments {
		s.Environments = append(s.Environments, ActionEnvironment{
			Environment: &component.Environment{Name: e.Environment},
			Scope:       e.Scope,
		})
	}
	return s, nil
}

// MarshalJSON encodes environments by name.
func (a *Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toJSON())
}

// UnmarshalJSON decodes an action. Environments are placeholders holding only
// a name until BindEnvironments is called.
func (a *Action) UnmarshalJSON(data []byte) error {
	var j specJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	s, err := j.spec()
	if err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	*a = *NewAction(s)
	return nil
}

func (e *ExpandedAction) MarshalJSON() ([]byte, error) {
	j := e.toJSON()
	scope := e.scope
	j.Scope = &scope
	return json.Marshal(j)
}

func (e *ExpandedAction) UnmarshalJSON(data []byte) error {
	var j specJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("decode expanded action: %w", err)
	}
	if j.Scope == nil {
		return fmt.Errorf("decode expanded action: missing scope")
	}
	s, err := j.spec()
	if err != nil {
		return fmt.Errorf("decode expanded action: %w", err)
	}
	*e = ExpandedAction{Spec: s, scope: *j.Scope}
	return nil
}

// BindEnvironments replaces every environment with the one lookup returns for
// its name.
func (s *Spec) BindEnvironments(lookup func(name string) (*component.Environment, error)) error {
	for i, e := range s.Environments {
		if e.Environment == nil {
			continue
		}
		env, err := lookup(e.Environment.Name)
		if err != nil {
			return fmt.Errorf("bind environment %q: %w", e.Environment.Name, err)
		}
		s.Environments[i].Environment = env
	}
	return nil
}
