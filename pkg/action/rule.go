package action

import (
	"fmt"
)

// RuleData is the view of element data that rules are tested against.
type RuleData interface {
	// IsSet reports whether the data index holds path and its parameter has a value.
	IsSet(path string) (bool, error)
	// Values returns element data nested by prefix, e.g. {"inputs": {"x": 1}}.
	Values() (map[string]any, error)
}

// Rule is a condition that must hold for an action to be run. It has exactly
// three variants: CheckExists, CheckMissing and RuleExpr.
type Rule interface {
	Test(data RuleData) (bool, error)
	String() string
	isRule()
}

// CheckExists succeeds if Path is set in the element data.
type CheckExists struct {
	Path string
}

// CheckMissing succeeds if Path is not set in the element data.
type CheckMissing struct {
	Path string
}

// RuleExpr is a boolean JavaScript expression over element data, e.g.
// "inputs.x > 2 && resources.any.num_cores == 1".
type RuleExpr struct {
	Expr string
}

func (CheckExists) isRule()  {}
func (CheckMissing) isRule() {}
func (RuleExpr) isRule()     {}

func (r CheckExists) String() string  { return fmt.Sprintf("check_exists(%s)", r.Path) }
func (r CheckMissing) String() string { return fmt.Sprintf("check_missing(%s)", r.Path) }
func (r RuleExpr) String() string     { return fmt.Sprintf("rule(%s)", r.Expr) }

func (r CheckExists) Test(data RuleData) (bool, error) {
	return data.IsSet(r.Path)
}

func (r CheckMissing) Test(data RuleData) (bool, error) {
	set, err := data.IsSet(r.Path)
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (r RuleExpr) Test(data RuleData) (bool, error) {
	values, err := data.Values()
	if err != nil {
		return false, err
	}
	return evalBool(r.Expr, values)
}

// RuleSpec is the authored form of a rule: three optional fields of which
// exactly one must be set.
type RuleSpec struct {
	CheckExists  string `json:"check_exists,omitempty" yaml:"check_exists" mapstructure:"check_exists"`
	CheckMissing string `json:"check_missing,omitempty" yaml:"check_missing" mapstructure:"check_missing"`
	Rule         string `json:"rule,omitempty" yaml:"rule" mapstructure:"rule"`
}

// Build converts the spec into its Rule variant.
func (s RuleSpec) Build() (Rule, error) {
	n := 0
	for _, v := range []string{s.CheckExists, s.CheckMissing, s.Rule} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return nil, &RuleFormError{Count: n}
	}
	switch {
	case s.CheckExists != "":
		return CheckExists{Path: s.CheckExists}, nil
	case s.CheckMissing != "":
		return CheckMissing{Path: s.CheckMissing}, nil
	default:
		return RuleExpr{Expr: s.Rule}, nil
	}
}

// SpecOf returns the authored form of r.
func SpecOf(r Rule) RuleSpec {
	switch v := r.(type) {
	case CheckExists:
		return RuleSpec{CheckExists: v.Path}
	case CheckMissing:
		return RuleSpec{CheckMissing: v.Path}
	case RuleExpr:
		return RuleSpec{Rule: v.Expr}
	}
	return RuleSpec{}
}

// BuildRules converts specs in order, stopping at the first invalid one.
func BuildRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		r, err := s.Build()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
