package cli

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/swarm/internal/demostore"
	"github.com/wesleyorama2/swarm/internal/engine"
	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/runner"
)

func (a *app) newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in demo store simulations",
		Long: `Run one of the built-in demo store simulations.

Without --base-url an in-memory demo store is started on a local port and
the simulation runs against it. The API simulation injects an open
profile by default, or a closed one with --closed. --recorded replays a
captured browser session with a single user.

  swarm demo
  swarm demo --closed --pause-scale 0.1
  swarm demo --recorded --base-url https://demostore.gatling.io`,
		Args: cobra.NoArgs,
		RunE: a.runDemo,
	}

	cmd.Flags().String("base-url", "", "Target store; empty starts an in-memory one")
	cmd.Flags().Bool("closed", false, "Use the closed injection profile")
	cmd.Flags().Bool("recorded", false, "Run the recorded browser session instead of the API simulation")
	cmd.Flags().Float64("pause-scale", 1, "Multiply every pause by this factor")
	cmd.Flags().Int("users", 0, "Inject this many users at once instead of the default profile")
	addReportFlags(cmd)
	return cmd
}

func (a *app) runDemo(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("base-url")
	closed, _ := cmd.Flags().GetBool("closed")
	recorded, _ := cmd.Flags().GetBool("recorded")
	pauseScale, _ := cmd.Flags().GetFloat64("pause-scale")
	users, _ := cmd.Flags().GetInt("users")

	if pauseScale <= 0 {
		return fmt.Errorf("--pause-scale must be positive, got %v", pauseScale)
	}
	if users < 0 {
		return fmt.Errorf("--users must not be negative, got %d", users)
	}
	opts, err := reportOptionsFrom(cmd)
	if err != nil {
		return err
	}

	demo := demostore.Options{BaseURL: baseURL, Closed: closed, PauseScale: pauseScale}
	if users > 0 {
		demo.Profile = injection.NewProfile(injection.AtOnceUsers{Users: users})
	}

	if baseURL == "" {
		store, err := demostore.NewStore(a.log)
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("demo store listener: %w", err)
		}
		srv := &http.Server{Handler: store.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("Demo store stopped")
			}
		}()
		defer srv.Close()

		demo.BaseURL = "http://" + ln.Addr().String()
		// The local store rejects the captured token; sign one it accepts.
		if demo.Token, err = store.IssueToken("admin"); err != nil {
			return err
		}
		a.log.WithField("url", demo.BaseURL).Info("Serving demo store")
	}

	var sim *engine.Simulation
	if recorded {
		sim, err = demostore.RecordedSimulation(demo)
	} else {
		sim, err = demostore.APISimulation(demo)
	}
	if err != nil {
		return err
	}

	rc := &runner.RunContext{Client: swarmhttp.NewClient(swarmhttp.DefaultConfig())}
	return a.execute(cmd, sim, rc, opts)
}
