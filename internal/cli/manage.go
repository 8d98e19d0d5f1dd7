package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/elemflow/internal/param"
)

func newCommandsCmd() *cobra.Command {
	var flagRun int

	cmd := &cobra.Command{
		Use:   "commands <path> <task> <element> <action>",
		Short: "Print the resolved command lines of an element action run",
		Args:  cobra.ExactArgs(4),
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
			elementIdx, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("element index: %w", err)
			}
			actionIdx, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("action index: %w", err)
			}
			key := param.EARKey{TaskInsertID: task.InsertID(), ElementIdx: elementIdx, ActionIdx: actionIdx, RunIdx: flagRun}
			if flagRun < 0 {
				runs, err := w.EARsFromKeys([]param.EARKey{key})
				if err != nil {
					return err
				}
				key = runs[0].Key()
			}
			lines, err := w.RunCommands(key)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagRun, "run", -1, "Run index (negative counts from the latest run)")
	return cmd
}

func newCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Copy the committed state of a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkflow(args[0])
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Copy(args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s to %s\n", args[0], args[1])
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	var flagYes bool

	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flagYes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			w, err := openWorkflow(args[0])
			if err != nil {
				return err
			}
			if err := w.Delete(); err != nil {
				w.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Confirm deletion")
	return cmd
}
