package cli

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/me/elemflow/internal/config"
	"github.com/me/elemflow/internal/logging"
	"github.com/me/elemflow/internal/metrics"
	"github.com/me/elemflow/internal/workflow"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	counters *metrics.Metrics
)

// NewRootCmd creates the root cobra command for the elemflow CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "elemflow",
		Short: "elemflow: element-wise workflow orchestration",
		Long:  "elemflow creates, inspects and manages persistent element-wise workflows.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.LogLevel = flagLogLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = flagLogFormat
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			registry = prometheus.NewRegistry()
			counters = metrics.New(registry)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Metrics {
				return nil
			}
			return printMetrics(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newCreateCmd(),
		newShowCmd(),
		newDepsCmd(),
		newCommandsCmd(),
		newCopyCmd(),
		newDeleteCmd(),
	)

	return root
}

func options() workflow.Options {
	return workflow.Options{Logger: logger, Metrics: counters, Overwrite: cfg.Overwrite}
}

func openWorkflow(path string) (*workflow.Workflow, error) {
	w, err := workflow.Open(path, options())
	if err != nil {
		return nil, fmt.Errorf("open workflow: %w", err)
	}
	return w, nil
}

// printMetrics writes every non-zero counter to stderr.
func printMetrics(cmd *cobra.Command) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", l.GetName(), l.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, v))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(cmd.ErrOrStderr(), l)
	}
	return nil
}
