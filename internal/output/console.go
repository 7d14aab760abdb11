// Package output renders simulation results: a console summary for humans
// and JSON, YAML or JUnit reports for tooling.
package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/wesleyorama2/swarm/internal/engine"
	"github.com/wesleyorama2/swarm/internal/metrics"
)

const (
	boxHorizontal = "━"
	lineWidth     = 56
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer io.Writer
	// Quiet prints only PASSED or FAILED
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// Console prints run progress and the final summary.
type Console struct {
	w       io.Writer
	colors  *ColorScheme
	noColor bool
	quiet   bool

	mu sync.Mutex
}

// NewConsole creates a console writer. Colors are used on terminals that
// support them unless NoColor is set.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	useColors := !cfg.NoColor && (cfg.ForceColors || (IsTerminal(cfg.Writer) && supportsColors()))
	scheme := NoColorScheme()
	if useColors {
		scheme = ForcedColorScheme()
	}
	return &Console{w: cfg.Writer, colors: scheme, noColor: !useColors, quiet: cfg.Quiet}
}

// PrintHeader prints the simulation name and every population's profile.
func (c *Console) PrintHeader(sim *engine.Simulation) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, lineWidth)
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", sim.Name))
	if sim.Description != "" {
		c.writeln(c.colors.Dim.Sprint(sim.Description))
	}
	c.writeln(c.colors.Value.Sprint(line))
	for _, p := range sim.Populations {
		phases := make([]string, 0, len(p.Profile.Phases))
		for _, ph := range p.Profile.Phases {
			phases = append(phases, ph.String())
		}
		c.writeln(fmt.Sprintf("%s %s", c.colors.Highlight.Sprint(p.Scenario.Name()+":"), strings.Join(phases, ", ")))
	}
	c.writeln("")
}

// PrintProgress prints a one-line status update.
func (c *Console) PrintProgress(s *metrics.Snapshot) {
	if c.quiet || s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	phase := s.CurrentPhase
	if phase == "" {
		phase = "-"
	}
	c.writeln(fmt.Sprintf("[%s] Phase: %s | Users: %d active, %d started | Reqs: %d | RPS: %.1f | Errors: %s | P95: %s",
		formatDuration(s.Elapsed),
		phase,
		s.Users.Active,
		s.Users.Started,
		s.TotalRequests,
		s.RPS,
		c.colors.rateColor(s.ErrorRate).Sprintf("%d (%.1f%%)", s.FailedRequests, s.ErrorRate*100),
		formatDurationShort(s.Latency.P95)))
}

// PrintSummary prints the final result.
func (c *Console) PrintSummary(r *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if r.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	line := strings.Repeat(boxHorizontal, lineWidth)
	status := c.colors.Success.Sprint("Completed " + SuccessIcon(true))
	if !r.Passed {
		status = c.colors.Error.Sprint("Failed " + ErrorIcon(true))
	}

	c.writeln("")
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(r.Name), status))
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(r.Duration))))
	if m := r.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s (%s OK, %s KO)",
			c.colors.Value.Sprint(formatNumber(m.TotalRequests)),
			formatNumber(m.SuccessRequests),
			formatNumber(m.FailedRequests)))
		c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.rateColor(m.ErrorRate).Sprintf("%.1f%%", (1-m.ErrorRate)*100)))
		c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.Value.Sprintf("%.1f req/s", m.RPS)))
		c.writeln(fmt.Sprintf("Users:         %d started, %d completed, %d failed, %d aborted",
			m.Users.Started, m.Users.Completed, m.Users.Failed, m.Users.Aborted))
		c.writeln("")

		c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	if len(r.Populations) > 0 {
		c.writeln(c.colors.Title.Sprint("Populations:"))
		var rows [][]string
		var failed []*engine.PopulationResult
		for _, p := range r.Populations {
			if p.Summary == nil {
				failed = append(failed, p)
				continue
			}
			s := p.Summary
			rows = append(rows, []string{
				p.Scenario,
				strconv.Itoa(s.Spawned),
				strconv.Itoa(s.Completed),
				strconv.Itoa(s.Failed),
				strconv.Itoa(s.Aborted),
				strconv.Itoa(s.PeakConcurrency),
				strconv.Itoa(s.RequestsOK),
				strconv.Itoa(s.RequestsKO),
			})
		}
		if len(rows) > 0 {
			c.writeTable([]string{"Scenario", "Users", "Completed", "Failed", "Aborted", "Peak", "OK", "KO"}, rows)
		}
		for _, p := range failed {
			c.writeln(fmt.Sprintf("  %s %s: %v", ErrorIcon(c.noColor), p.Scenario, p.Error))
		}
		c.writeln("")
	}

	if len(r.Steps) > 0 {
		c.writeln(c.colors.Title.Sprint("Requests:"))
		rows := make([][]string, 0, len(r.Steps))
		for _, st := range r.Steps {
			rows = append(rows, []string{
				st.Name,
				formatNumber(st.Latency.Count),
				formatDurationShort(st.Latency.P50),
				formatDurationShort(st.Latency.P95),
				formatDurationShort(st.Latency.P99),
				formatDurationShort(st.Latency.Max),
			})
		}
		c.writeTable([]string{"Request", "Count", "P50", "P95", "P99", "Max"}, rows)
		c.writeln("")
	}

	if len(r.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range r.Thresholds {
			icon := SuccessIcon(c.noColor)
			if !t.Passed {
				icon = ErrorIcon(c.noColor)
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", icon, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}
}

// writeTable renders a borderless table aligned on two-space gaps.
func (c *Console) writeTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(c.w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
