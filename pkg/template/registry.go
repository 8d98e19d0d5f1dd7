package template

import (
	"errors"
	"fmt"

	"github.com/me/elemflow/pkg/component"
)

// ErrRegistryFrozen is returned when adding to a frozen registry.
var ErrRegistryFrozen = errors.New("component registry is frozen")

// NotFoundError is returned when a registry lookup fails.
type NotFoundError struct {
	Kind component.Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Registry maps names to the template components available when building
// templates. It is filled once at start-up and then frozen.
type Registry struct {
	frozen       bool
	parameters   map[string]component.Parameter
	commandFiles map[string]component.FileSpec
	environments map[string]*component.Environment
	taskSchemas  map[string]*TaskSchema
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		parameters:   map[string]component.Parameter{},
		commandFiles: map[string]component.FileSpec{},
		environments: map[string]*component.Environment{},
		taskSchemas:  map[string]*TaskSchema{},
	}
}

// Freeze prevents further additions.
func (r *Registry) Freeze() { r.frozen = true }

func (r *Registry) checkAdd(kind component.Kind, name string, exists bool) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	if name == "" {
		return fmt.Errorf("add %s: empty name", kind)
	}
	if exists {
		return fmt.Errorf("add %s: %q already registered", kind, name)
	}
	return nil
}

func (r *Registry) AddParameter(p component.Parameter) error {
	_, ok := r.parameters[p.Type]
	if err := r.checkAdd(component.KindParameters, p.Type, ok); err != nil {
		return err
	}
	r.parameters[p.Type] = p
	return nil
}

func (r *Registry) AddCommandFile(f component.FileSpec) error {
	_, ok := r.commandFiles[f.Label]
	if err := r.checkAdd(component.KindCommandFiles, f.Label, ok); err != nil {
		return err
	}
	r.commandFiles[f.Label] = f
	return nil
}

func (r *Registry) AddEnvironment(e *component.Environment) error {
	_, ok := r.environments[e.Name]
	if err := r.checkAdd(component.KindEnvironments, e.Name, ok); err != nil {
		return err
	}
	r.environments[e.Name] = e
	return nil
}

func (r *Registry) AddTaskSchema(s *TaskSchema) error {
	_, ok := r.taskSchemas[s.Objective]
	if err := r.checkAdd(component.KindTaskSchemas, s.Objective, ok); err != nil {
		return err
	}
	r.taskSchemas[s.Objective] = s
	return nil
}

// Parameter returns the parameter of the given type. Unregistered types are
// plain (non-file) parameters.
func (r *Registry) Parameter(typ string) component.Parameter {
	if p, ok := r.parameters[typ]; ok {
		return p
	}
	return component.Parameter{Type: typ}
}

func (r *Registry) CommandFile(label string) (component.FileSpec, error) {
	f, ok := r.commandFiles[label]
	if !ok {
		return component.FileSpec{}, &NotFoundError{Kind: component.KindCommandFiles, Name: label}
	}
	return f, nil
}

func (r *Registry) Environment(name string) (*component.Environment, error) {
	e, ok := r.environments[name]
	if !ok {
		return nil, &NotFoundError{Kind: component.KindEnvironments, Name: name}
	}
	return e, nil
}

func (r *Registry) TaskSchema(objective string) (*TaskSchema, error) {
	s, ok := r.taskSchemas[objective]
	if !ok {
		return nil, &NotFoundError{Kind: component.KindTaskSchemas, Name: objective}
	}
	return s, nil
}
