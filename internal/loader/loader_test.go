package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/me/elemflow/internal/param"
	"github.com/me/elemflow/internal/workflow"
	"github.com/me/elemflow/pkg/action"
	"github.com/me/elemflow/pkg/template"
)

const pipelineYAML = `
parameters:
  - type: x
  - type: y
command_files:
  - label: cfg
    name: cfg.txt
  - label: log
    name: sim.log
environments:
  - name: sim_env
    executables:
      sim: /opt/sim
  - name: py_env
    executables:
      python: python3
task_schemas:
  - objective: simulate
    inputs:
      - parameter: x
      - parameter: n
        default: 4
    outputs: [y]
    actions:
      - commands:
          - command: "<<executable:sim>> --x <<parameter:x>> <<file:cfg>>"
        environments:
          - environment: sim_env
          - environment: py_env
            scope: input_file_generator
        input_file_generators:
          - input_file: cfg
            inputs: [x]
            script: write_cfg.py
        output_file_parsers:
          - output: y
            output_files: [log]
            script: parse_log.py
        rules:
          - rule: "inputs.x > 0"
  - objective: postprocess
    inputs:
      - parameter: y
    actions:
      - commands:
          - command: "post <<parameter:y>>"
        environments:
          - environment: py_env
template:
  name: pipeline
  tasks:
    - schema: simulate
      element_sets:
        - sequences:
            - path: inputs.x
              values: [0.5, 1.5, 2.5]
    - schema: postprocess
`

func newLoader() *Loader { return New(template.NewRegistry(), nil) }

func TestLoad_Pipeline(t *testing.T) {
	l := newLoader()
	tmpl, err := l.Load([]byte(pipelineYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tmpl.Name != "pipeline" {
		t.Errorf("Name = %q, want pipeline", tmpl.Name)
	}
	if len(tmpl.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tmpl.Tasks))
	}
	if got := len(tmpl.Tasks[1].ElementSets); got != 1 {
		t.Errorf("default element sets = %d, want 1", got)
	}

	acts, err := tmpl.Tasks[0].ExpandedActions()
	if err != nil {
		t.Fatalf("ExpandedActions: %v", err)
	}
	var scopes []string
	for _, a := range acts {
		s, err := a.PreciseScope()
		if err != nil {
			t.Fatalf("PreciseScope: %v", err)
		}
		scopes = append(scopes, s.String())
	}
	want := []string{"input_file_generator[file=cfg]", "main", "output_file_parser[output=y]"}
	if diff := cmp.Diff(want, scopes); diff != "" {
		t.Errorf("scopes (-want +got):\n%s", diff)
	}
	if env := acts[0].Environment(); env == nil || env.Name != "py_env" {
		t.Errorf("generator environment = %v, want py_env", env)
	}
	if _, ok := acts[1].Rules[0].(action.RuleExpr); !ok {
		t.Errorf("main rule = %T, want RuleExpr", acts[1].Rules[0])
	}
}

func TestLoad_InputsAsMap(t *testing.T) {
	l := newLoader()
	if _, err := l.Load([]byte(pipelineYAML)); err != nil {
		t.Fatalf("Load components: %v", err)
	}
	l.Registry().Freeze()

	tmpl, err := l.Load([]byte(`
template:
  name: single
  tasks:
    - schema: simulate
      element_sets:
        - inputs: {x: 2.5, n: 8}
          repeats: 2
          resources:
            - scope: any
              num_cores: 4
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	es := tmpl.Tasks[0].ElementSets[0]
	want := []template.InputValue{{Parameter: "n", Value: 8}, {Parameter: "x", Value: 2.5}}
	if diff := cmp.Diff(want, es.Inputs); diff != "" {
		t.Errorf("inputs (-want +got):\n%s", diff)
	}
	if es.Repeats != 2 {
		t.Errorf("Repeats = %d, want 2", es.Repeats)
	}
	if got := es.Resources[0].Path(); got != "resources.any" {
		t.Errorf("resource path = %q", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "template: [unclosed"},
		{"unknown field", "templates: {}"},
		{"unknown schema", "template:\n  name: t\n  tasks:\n    - schema: nope\n"},
		{"two rule forms", "task_schemas:\n  - objective: s\n    actions:\n      - rules:\n          - check_exists: a\n            check_missing: b\n"},
		{"bad scope", "environments:\n  - name: e\ntask_schemas:\n  - objective: s\n    actions:\n      - environments:\n          - environment: e\n            scope: main[file=x]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newLoader().Load([]byte(tt.doc)); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestLoad_RuleFormError(t *testing.T) {
	_, err := newLoader().Load([]byte("task_schemas:\n  - objective: s\n    actions:\n      - rules:\n          - {}\n"))
	var rf *action.RuleFormError
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want RuleFormError", err)
	}
}

func TestLoad_FrozenRegistry(t *testing.T) {
	l := newLoader()
	l.Registry().Freeze()
	_, err := l.Load([]byte("parameters:\n  - type: x\n"))
	if !errors.Is(err, template.ErrRegistryFrozen) {
		t.Errorf("err = %v, want ErrRegistryFrozen", err)
	}
}

func TestLoadFile_CreatesWorkflow(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(src, []byte(pipelineYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tmpl, err := newLoader().LoadFile(src)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	w, err := workflow.Create(tmpl, filepath.Join(dir, "pipeline.json"), workflow.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if got := w.NumElements(); got != 6 {
		t.Errorf("NumElements = %d, want 6", got)
	}
	cmds, err := w.RunCommands(param.EARKey{TaskInsertID: 1, ElementIdx: 1, ActionIdx: 1})
	if err != nil {
		t.Fatalf("RunCommands: %v", err)
	}
	if diff := cmp.Diff([]string{"/opt/sim --x 1.5 cfg.txt"}, cmds); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	deps, err := w.Tasks()[1].Dependencies()
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if diff := cmp.Diff([]int{1}, deps); diff != "" {
		t.Errorf("deps (-want +got):\n%s", diff)
	}
}
