package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/elemflow/internal/workflow"
)

func newDepsCmd() *cobra.Command {
	var flagIndex bool

	cmd := &cobra.Command{
		Use:   "deps <path> <task>",
		Short: "Show what a task depends on and what depends on it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkflow(args[0])
			if err != nil {
				return err
			}
			defer w.Close()

			task, err := w.TaskByRef(args[1])
			if err != nil {
				return err
			}
			res, err := w.Resolver(flagIndex)
			if err != nil {
				return err
			}
			upstream, err := task.Dependencies()
			if err != nil {
				return err
			}
			downstream, err := res.DependentTasks(task.InsertID())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task: %s [%d]\n", task.Name(), task.InsertID())
			fmt.Fprintf(out, "  Depends on:    %s\n", taskNames(w, upstream))
			fmt.Fprintf(out, "  Dependents:    %s\n", taskNames(w, downstream))

			els, err := task.Elements()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "  Elements:")
			for _, el := range els {
				deps, err := el.ElementDependencies()
				if err != nil {
					return err
				}
				dependents, err := res.DependentElements(el.Key())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "    - %d: depends on %v, dependents %v\n", el.Index(), deps, dependents)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagIndex, "index", false, "Build a reverse dependency index instead of scanning")
	return cmd
}

func taskNames(w *workflow.Workflow, ids []int) string {
	if len(ids) == 0 {
		return "(none)"
	}
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ", "
		}
		if t, err := w.TaskByInsertID(id); err == nil {
			s += fmt.Sprintf("%s [%d]", t.Name(), id)
		} else {
			s += fmt.Sprint(id)
		}
	}
	return s
}
