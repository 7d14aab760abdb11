package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/swarm/internal/config"
	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/runner"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation file",
		Long: `Run the populations of a YAML or JSON simulation file and report the
result. The command exits non-zero when a threshold fails.

  swarm run --config simulation.yaml
  swarm run -c simulation.yaml --format junit --output results.xml
  swarm run -c simulation.yaml --base-url http://localhost:8080 --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: a.runSimulation,
	}

	cmd.Flags().StringP("config", "c", "", "Simulation file (required)")
	cmd.Flags().String("base-url", "", "Override the protocol base URL")
	cmd.Flags().String("stop-policy", "", "Override the stop policy (finishStep or abortNow)")
	_ = cmd.MarkFlagRequired("config")
	addReportFlags(cmd)
	return cmd
}

func (a *app) runSimulation(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	baseURL, _ := cmd.Flags().GetString("base-url")
	stopPolicy, _ := cmd.Flags().GetString("stop-policy")

	opts, err := reportOptionsFrom(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if baseURL != "" {
		cfg.Protocol.BaseURL = baseURL
	}
	if stopPolicy != "" {
		if _, err := runner.ParseStopPolicy(stopPolicy); err != nil {
			return err
		}
		cfg.Options.StopPolicy = stopPolicy
	}

	sim, err := config.Build(cfg, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("invalid simulation %s: %w", path, err)
	}
	a.log.WithField("config", path).Debug("Simulation loaded")

	rc := &runner.RunContext{
		Client:     swarmhttp.NewClient(cfg.HTTPConfig()),
		StopPolicy: cfg.StopPolicy(),
	}
	return a.execute(cmd, sim, rc, opts)
}
