package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/output"
)

func (a *app) newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a simulation file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			noColor, _ := cmd.Flags().GetBool("no-color")
			baseURL, _ := cmd.Flags().GetString("base-url")
			colors := output.DefaultColorScheme()
			if noColor {
				colors = output.NoColorScheme()
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.Protocol.BaseURL = baseURL
			}
			sim, err := config.Build(cfg, filepath.Dir(path))
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), colors.Error.Sprintf("%s Configuration is invalid", output.ErrorIcon(noColor)))
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), colors.Success.Sprintf("%s Configuration is valid: %d scenarios, %d populations",
				output.SuccessIcon(noColor), len(cfg.Scenarios), len(sim.Populations)))
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Simulation file (required)")
	cmd.Flags().String("base-url", "", "Override the protocol base URL")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
