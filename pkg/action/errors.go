package action

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotExpanded is returned when a scope query needs an expanded action.
var ErrNotExpanded = errors.New("precise scope cannot be unambiguously defined until the action has been expanded")

// MissingCompatibleActionEnvironmentError is returned when no environment
// binding of an action matches the scopes relevant to the part being run.
type MissingCompatibleActionEnvironmentError struct {
	// Context names the generator, parser or commands that needed an environment.
	Context string
}

func (e *MissingCompatibleActionEnvironmentError) Error() string {
	return fmt.Sprintf("no compatible environment is specified for the %s", e.Context)
}

// InvalidScopeError is returned for keyword arguments not allowed on a scope type.
type InvalidScopeError struct {
	Type ScopeType
	Keys []string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("unknown keyword arguments for action scope type %s: %s",
		strings.ToUpper(e.Type.String()), strings.Join(e.Keys, ", "))
}

// RuleFormError is returned when an action rule does not set exactly one form.
type RuleFormError struct {
	Count int
}

func (e *RuleFormError) Error() string {
	return fmt.Sprintf("specify exactly one of check_exists, check_missing and rule (got %d)", e.Count)
}

// CaptureSpecError is returned when a stdout/stderr capture spec contains a
// parameter placeholder alongside other characters.
type CaptureSpecError struct {
	Stream string
	Spec   string
}

func (e *CaptureSpecError) Error() string {
	return fmt.Sprintf("if specified as a parameter, %s must not include any characters other than the parameter specification, but this was given: %q", e.Stream, e.Spec)
}
