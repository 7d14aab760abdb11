package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/swarm/internal/engine"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/output"
	"github.com/wesleyorama2/swarm/internal/runner"
)

// ErrThresholdsFailed is returned when a run completes but at least one
// threshold does not hold.
var ErrThresholdsFailed = errors.New("thresholds failed")

type reportOptions struct {
	format      output.Format
	file        string
	quiet       bool
	noColor     bool
	metricsAddr string
	progress    time.Duration
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "Report format (text, json, yaml, junit, html)")
	cmd.Flags().Bool("json", false, "Shorthand for --format json")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file and print the summary")
	cmd.Flags().BoolP("quiet", "q", false, "Print only PASSED or FAILED")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	cmd.Flags().Duration("progress", 5*time.Second, "Progress update interval, 0 disables")
}

func reportOptionsFrom(cmd *cobra.Command) (*reportOptions, error) {
	formatName, _ := cmd.Flags().GetString("format")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		formatName = string(output.FormatJSON)
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}

	opts := &reportOptions{format: format}
	opts.file, _ = cmd.Flags().GetString("output")
	opts.quiet, _ = cmd.Flags().GetBool("quiet")
	opts.noColor, _ = cmd.Flags().GetBool("no-color")
	opts.metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	opts.progress, _ = cmd.Flags().GetDuration("progress")
	if opts.progress < 0 {
		return nil, fmt.Errorf("--progress must not be negative, got %s", opts.progress)
	}
	return opts, nil
}

// execute runs sim to completion, reports the result and turns a failed
// run into an error. The first interrupt stops the run gracefully and the
// second cancels it.
func (a *app) execute(cmd *cobra.Command, sim *engine.Simulation, rc *runner.RunContext, opts *reportOptions) error {
	rc.Logger = a.log
	abort := make(chan struct{})
	rc.Abort = abort

	var reg *prometheus.Registry
	if opts.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		sink, err := metrics.NewPrometheus(reg, "swarm")
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		rc.Sink = sink
	}

	eng, err := engine.New(sim, rc)
	if err != nil {
		return err
	}

	status := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.ErrOrStderr(),
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})
	status.PrintHeader(sim)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if reg != nil {
		ln, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		a.log.WithField("addr", ln.Addr().String()).Info("Serving metrics")

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var result *engine.Result
	var runErr error
	g.Go(func() error {
		defer close(done)
		result, runErr = eng.Run(gctx)
		return nil
	})

	g.Go(func() error {
		sigs := make(chan os.Signal, 2)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		signals := 0
		for {
			select {
			case <-done:
				return nil
			case sig := <-sigs:
				signals++
				switch signals {
				case 1:
					a.log.WithField("signal", sig.String()).Warn("Stopping simulation, interrupt again to abort in-flight requests")
					eng.Stop()
				case 2:
					a.log.WithField("signal", sig.String()).Warn("Aborting simulation")
					close(abort)
					cancel()
				}
			}
		}
	})

	if opts.progress > 0 && !opts.quiet {
		g.Go(func() error {
			ticker := time.NewTicker(opts.progress)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return nil
				case <-ticker.C:
					status.PrintProgress(eng.Metrics())
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if result == nil {
		return runErr
	}

	if err := a.report(cmd, result, opts); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("simulation %s: %w", sim.Name, runErr)
	}
	if !result.Passed {
		return fmt.Errorf("simulation %s: %w", sim.Name, ErrThresholdsFailed)
	}
	return nil
}

func (a *app) report(cmd *cobra.Command, result *engine.Result, opts *reportOptions) error {
	stdout := cmd.OutOrStdout()
	console := output.NewConsole(output.ConsoleConfig{Writer: stdout, Quiet: opts.quiet, NoColor: opts.noColor})

	if opts.file != "" {
		f, err := os.Create(opts.file)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		if err := output.WriteReport(f, opts.format, result); err != nil {
			f.Close()
			return fmt.Errorf("writing report: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		a.log.WithFields(logrus.Fields{"file": opts.file, "format": opts.format}).Info("Report written")
		console.PrintSummary(result)
		return nil
	}

	if opts.format == output.FormatText {
		console.PrintSummary(result)
		return nil
	}
	return output.WriteReport(stdout, opts.format, result)
}
