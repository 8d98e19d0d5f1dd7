package action

import (
	"fmt"
	"sort"

	"github.com/me/elemflow/pkg/component"
)

// Expand splits an authored action into its concrete actions: one per input
// file generator, then the main action, then one per output file parser.
func Expand(a *Action) ([]*ExpandedAction, error) {
	var outFileRules []Rule
	for _, p := range a.OutputFileParsers {
		for _, f := range p.OutputFiles {
			outFileRules = append(outFileRules, CheckMissing{Path: "output_files." + f.Label})
		}
	}
	mainRules := append(append([]Rule(nil), a.Rules...), outFileRules...)

	var out []*ExpandedAction
	for _, g := range a.InputFileGenerators {
		env, err := a.InputFileGeneratorEnv(g)
		if err != nil {
			return nil, err
		}
		out = append(out, &ExpandedAction{
			Spec: Spec{
				Commands:            []Command{scriptCommand(g.Script)},
				Environments:        []ActionEnvironment{env},
				InputFileGenerators: []*InputFileGenerator{g},
				InputFiles:          []component.FileSpec{g.InputFile},
				Rules:               append(append([]Rule(nil), mainRules...), g.ActionRule()),
			},
			scope: InputFileGeneratorScope(g.InputFile.Label),
		})
	}

	cmdEnv, err := a.CommandsEnv()
	if err != nil {
		return nil, err
	}
	main := &ExpandedAction{
		Spec: Spec{
			Commands:     append([]Command(nil), a.Commands...),
			Environments: []ActionEnvironment{cmdEnv},
			Rules:        mainRules,
		},
		scope: MainScope(),
	}
	for _, g := range a.InputFileGenerators {
		if !containsFile(main.InputFiles, g.InputFile) {
			main.InputFiles = append(main.InputFiles, g.InputFile)
		}
	}
	for _, p := range a.OutputFileParsers {
		for _, f := range p.OutputFiles {
			if !containsFile(main.OutputFiles, f) {
				main.OutputFiles = append(main.OutputFiles, f)
			}
		}
	}
	out = append(out, main)

	for _, p := range a.OutputFileParsers {
		env, err := a.OutputFileParserEnv(p)
		if err != nil {
			return nil, err
		}
		out = append(out, &ExpandedAction{
			Spec: Spec{
				Commands:          []Command{scriptCommand(p.Script)},
				Environments:      []ActionEnvironment{env},
				OutputFileParsers: []*OutputFileParser{p},
				OutputFiles:       append([]component.FileSpec(nil), p.OutputFiles...),
				Rules:             append([]Rule(nil), a.Rules...),
			},
			scope: OutputFileParserScope(p.Output),
		})
	}
	return out, nil
}

// ResolvedEnv returns the most specific environment binding whose scope is
// among relevant. A binding with keyword arguments must match the relevant
// scope's arguments exactly; one without them matches any scope of its type.
// ctx names the part of the action being resolved, for the error.
func (s *Spec) ResolvedEnv(relevant []Scope, ctx string) (ActionEnvironment, error) {
	var candidates []ActionEnvironment
	for _, env := range s.Environments {
		for _, r := range relevant {
			if env.Scope.Type != r.Type {
				continue
			}
			if len(env.Scope.Kwargs) > 0 && !env.Scope.Equal(r) {
				continue
			}
			candidates = append(candidates, env)
			break
		}
	}
	if len(candidates) == 0 {
		return ActionEnvironment{}, &MissingCompatibleActionEnvironmentError{Context: ctx}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Scope.Type > candidates[j].Scope.Type
	})
	return candidates[0], nil
}

// CommandsEnv resolves the environment of the action's own commands.
func (s *Spec) CommandsEnv() (ActionEnvironment, error) {
	return s.ResolvedEnv([]Scope{AnyScope(), MainScope()}, "action commands")
}

// InputFileGeneratorEnv resolves the environment a generator runs in.
func (s *Spec) InputFileGeneratorEnv(g *InputFileGenerator) (ActionEnvironment, error) {
	return s.ResolvedEnv(
		[]Scope{AnyScope(), ProcessingScope(), InputFileGeneratorScope(g.InputFile.Label)},
		fmt.Sprintf("input file generator for file %q", g.InputFile.Label),
	)
}

// OutputFileParserEnv resolves the environment a parser runs in.
func (s *Spec) OutputFileParserEnv(p *OutputFileParser) (ActionEnvironment, error) {
	return s.ResolvedEnv(
		[]Scope{AnyScope(), ProcessingScope(), OutputFileParserScope(p.Output)},
		fmt.Sprintf("output file parser for output %q", p.Output),
	)
}
