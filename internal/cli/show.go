package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "Show the tasks and elements of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkflow(args[0])
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow: %s\n", w.Name())
			fmt.Fprintf(out, "  Path:     %s\n", w.Path())
			fmt.Fprintf(out, "  ID:       %s\n", w.ID())
			fmt.Fprintf(out, "  Elements: %d\n", w.NumElements())
			fmt.Fprintln(out, "  Tasks:")
			for _, t := range w.Tasks() {
				els, err := t.Elements()
				if err != nil {
					return err
				}
				runs := 0
				for _, el := range els {
					runs += len(el.Runs())
				}
				fmt.Fprintf(out, "    - [%d] %s: %d elements, %d runs\n", t.InsertID(), t.Name(), len(els), runs)

				var sources []string
				for _, es := range t.ElementSets() {
					for _, typ := range t.Schema().InputTypes() {
						if srcs := es.Sources[typ]; len(srcs) > 0 {
							sources = append(sources, typ+"<-"+srcs[0].String())
						}
					}
				}
				if len(sources) > 0 {
					fmt.Fprintf(out, "      inputs: %s\n", strings.Join(sources, ", "))
				}
			}
			return nil
		},
	}
}
