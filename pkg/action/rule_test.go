package action

import (
	"errors"
	"testing"
)

type mapData struct {
	set    map[string]bool
	values map[string]any
}

func (d mapData) IsSet(path string) (bool, error) { return d.set[path], nil }
func (d mapData) Values() (map[string]any, error) { return d.values, nil }

func TestRuleSpec_Build(t *testing.T) {
	tests := []struct {
		name    string
		spec    RuleSpec
		want    Rule
		wantErr bool
	}{
		{"none", RuleSpec{}, nil, true},
		{"exists", RuleSpec{CheckExists: "inputs.x"}, CheckExists{Path: "inputs.x"}, false},
		{"missing", RuleSpec{CheckMissing: "input_files.cfg"}, CheckMissing{Path: "input_files.cfg"}, false},
		{"expr", RuleSpec{Rule: "inputs.x > 1"}, RuleExpr{Expr: "inputs.x > 1"}, false},
		{"two", RuleSpec{CheckExists: "a", Rule: "true"}, nil, true},
		{"three", RuleSpec{CheckExists: "a", CheckMissing: "b", Rule: "true"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.spec.Build()
			if tt.wantErr {
				var formErr *RuleFormError
				if !errors.As(err, &formErr) {
					t.Fatalf("err = %v, want RuleFormError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got != tt.want {
				t.Errorf("Build = %v, want %v", got, tt.want)
			}
			if SpecOf(got) != tt.spec {
				t.Errorf("SpecOf = %+v, want %+v", SpecOf(got), tt.spec)
			}
		})
	}
}

func TestRule_Test(t *testing.T) {
	data := mapData{
		set: map[string]bool{"inputs.x": true},
		values: map[string]any{
			"inputs":    map[string]any{"x": 3},
			"resources": map[string]any{"any": map[string]any{"num_cores": 1}},
		},
	}
	tests := []struct {
		rule Rule
		want bool
	}{
		{CheckExists{Path: "inputs.x"}, true},
		{CheckExists{Path: "inputs.y"}, false},
		{CheckMissing{Path: "inputs.y"}, true},
		{RuleExpr{Expr: "inputs.x > 2 && resources.any.num_cores == 1"}, true},
		{RuleExpr{Expr: "inputs.x > 5"}, false},
		{RuleExpr{Expr: "undefined"}, false},
	}
	for _, tt := range tests {
		got, err := tt.rule.Test(data)
		if err != nil {
			t.Fatalf("%s: %v", tt.rule, err)
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.rule, got, tt.want)
		}
	}

	if _, err := (RuleExpr{Expr: "inputs.("}).Test(data); err == nil {
		t.Error("expected syntax error")
	}

	s := &Spec{Rules: []Rule{CheckExists{Path: "inputs.x"}, CheckMissing{Path: "inputs.x"}}}
	if ok, err := s.TestRules(data); err != nil || ok {
		t.Errorf("TestRules = %v, %v; want false", ok, err)
	}
}
