// Package component defines the shared template components that task schemas
// and actions refer to: parameters, command files and environments.
//
// Components are de-duplicated inside a workflow by content hash, so every
// type here must marshal to deterministic JSON.
package component

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Kind names a family of template components.
type Kind string

const (
	KindParameters   Kind = "parameters"
	KindCommandFiles Kind = "command_files"
	KindEnvironments Kind = "environments"
	KindTaskSchemas  Kind = "task_schemas"
)

// Kinds lists every component kind in a stable order.
var Kinds = []Kind{KindParameters, KindCommandFiles, KindEnvironments, KindTaskSchemas}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Parameter is a named, typed value that schemas consume and produce.
type Parameter struct {
	Type   string `json:"type" mapstructure:"type"`
	IsFile bool   `json:"is_file,omitempty" mapstructure:"is_file"`
}

// FileSpec describes a file that an input file generator writes or an output
// file parser reads.
type FileSpec struct {
	Label string `json:"label" mapstructure:"label"`
	Name  string `json:"name" mapstructure:"name"`
}

// Environment maps executable labels to the concrete command used to invoke
// them, e.g. "python" -> "python3".
type Environment struct {
	Name        string            `json:"name" mapstructure:"name"`
	Executables map[string]string `json:"executables,omitempty" mapstructure:"executables"`
}

// Executable returns the command for label, or an error if the environment
// does not define it.
func (e *Environment) Executable(label string) (string, error) {
	if e == nil {
		return "", fmt.Errorf("no environment to resolve executable %q", label)
	}
	cmd, ok := e.Executables[label]
	if !ok {
		return "", fmt.Errorf("environment %q has no executable %q", e.Name, label)
	}
	return cmd, nil
}

// Hash returns the SHA-256 of the canonical JSON encoding of v.
// encoding/json sorts map keys, so equal values hash equally.
func Hash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash component: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
