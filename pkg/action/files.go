package action

import (
	"github.com/me/elemflow/pkg/component"
)

// InputFileGenerator writes one input file from a set of input parameters.
type InputFileGenerator struct {
	InputFile component.FileSpec `json:"input_file"`
	Inputs    []string           `json:"inputs"`
	Script    string             `json:"script,omitempty"`
}

// ActionRule is the rule under which the generator runs: only when its file
// has not been passed in directly.
func (g *InputFileGenerator) ActionRule() Rule {
	return CheckMissing{Path: "input_files." + g.InputFile.Label}
}

// OutputFileParser reads one output parameter from a set of output files.
type OutputFileParser struct {
	Output      string               `json:"output"`
	OutputFiles []component.FileSpec `json:"output_files"`
	Script      string               `json:"script,omitempty"`
}

// ActionEnvironment binds an environment to the part of an action selected by Scope.
type ActionEnvironment struct {
	Environment *component.Environment
	Scope       Scope
}

// NewActionEnvironment binds env to scope.
func NewActionEnvironment(env *component.Environment, scope Scope) ActionEnvironment {
	return ActionEnvironment{Environment: env, Scope: scope}
}

func containsFile(files []component.FileSpec, f component.FileSpec) bool {
	for _, x := range files {
		if x == f {
			return true
		}
	}
	return false
}
