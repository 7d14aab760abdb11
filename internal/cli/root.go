// Package cli implements the swarm command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

type app struct {
	log *logrus.Logger
}

// NewRootCmd builds the swarm command tree.
func NewRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}

	root := &cobra.Command{
		Use:     "swarm",
		Short:   "A virtual-user load generator for HTTP services",
		Version: version,
		Long: `Swarm drives virtual users through scripted HTTP scenarios.

Each user carries its own session: values extracted from responses, fed
from CSV or JSON files, or set by the scenario are substituted into later
requests with #{name} placeholders. Users arrive according to open or
closed injection profiles, and the run passes or fails on thresholds.

  swarm run --config simulation.yaml
  swarm validate --config simulation.yaml
  swarm demo --closed`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configureLogging(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text or json)")

	root.AddCommand(a.newRunCmd())
	root.AddCommand(a.newValidateCmd())
	root.AddCommand(a.newDemoCmd())
	return root
}

func (a *app) configureLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return err
	}
	a.log.SetLevel(level)
	a.log.SetOutput(cmd.ErrOrStderr())

	switch strings.ToLower(format) {
	case "", "text":
		a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		a.log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	return nil
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
