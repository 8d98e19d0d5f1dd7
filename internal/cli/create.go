package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/elemflow/internal/loader"
	"github.com/me/elemflow/internal/store"
	"github.com/me/elemflow/internal/workflow"
	"github.com/me/elemflow/pkg/template"
)

func newCreateCmd() *cobra.Command {
	var (
		flagDir       string
		flagName      string
		flagFormat    string
		flagOverwrite bool
	)

	cmd := &cobra.Command{
		Use:   "create <template.yaml>",
		Short: "Create a workflow from a YAML template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("dir") {
				cfg.Dir = flagDir
			}
			if flags.Changed("format") {
				cfg.Format = flagFormat
			}
			if flags.Changed("overwrite") {
				cfg.Overwrite = flagOverwrite
			}
			format, err := store.ParseFormat(cfg.Format)
			if err != nil {
				return err
			}

			l := loader.New(template.NewRegistry(), logger)
			tmpl, err := l.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("load template: %w", err)
			}
			l.Registry().Freeze()

			name := flagName
			if name == "" {
				name = tmpl.Name
			}
			path := filepath.Join(cfg.Dir, name+format.Ext())

			w, err := workflow.Create(tmpl, path, options())
			if err != nil {
				return fmt.Errorf("create workflow: %w", err)
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow created: %s\n", w.Path())
			fmt.Fprintf(out, "  ID:       %s\n", w.ID())
			fmt.Fprintf(out, "  Tasks:    %d\n", len(w.Tasks()))
			fmt.Fprintf(out, "  Elements: %d\n", w.NumElements())
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDir, "dir", ".", "Directory to create the workflow in")
	cmd.Flags().StringVar(&flagName, "name", "", "Workflow file name without suffix (default: template name)")
	cmd.Flags().StringVar(&flagFormat, "format", "sqlite", "Store format (json, sqlite)")
	cmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "Replace an existing workflow at the same path")

	return cmd
}
