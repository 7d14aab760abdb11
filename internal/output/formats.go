package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/swarm/internal/engine"
	"github.com/wesleyorama2/swarm/internal/metrics"
)

// Format represents the report format
type Format string

const (
	// FormatText outputs the console summary without colors
	FormatText Format = "text"
	// FormatJSON outputs in JSON format
	FormatJSON Format = "json"
	// FormatYAML outputs in YAML format
	FormatYAML Format = "yaml"
	// FormatJUnit outputs in JUnit XML format (for CI/CD integration)
	FormatJUnit Format = "junit"
	// FormatHTML outputs a standalone HTML page with charts
	FormatHTML Format = "html"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML, FormatJUnit, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml, junit or html)", s)
	}
}

// Report is the serializable form of a run result. Durations are in
// milliseconds.
type Report struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	StartTime   string             `json:"startTime" yaml:"startTime"`
	EndTime     string             `json:"endTime" yaml:"endTime"`
	DurationMs  int64              `json:"durationMs" yaml:"durationMs"`
	Passed      bool               `json:"passed" yaml:"passed"`
	Requests    RequestReport      `json:"requests" yaml:"requests"`
	Users       metrics.UserCounts `json:"users" yaml:"users"`
	Latency     LatencyReport      `json:"latency" yaml:"latency"`
	Populations []PopulationReport `json:"populations" yaml:"populations"`
	Steps       []StepReport       `json:"steps,omitempty" yaml:"steps,omitempty"`
	Thresholds  []ThresholdReport  `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// RequestReport holds request totals.
type RequestReport struct {
	Total     int64   `json:"total" yaml:"total"`
	OK        int64   `json:"ok" yaml:"ok"`
	KO        int64   `json:"ko" yaml:"ko"`
	Bytes     int64   `json:"bytes" yaml:"bytes"`
	RPS       float64 `json:"rps" yaml:"rps"`
	ErrorRate float64 `json:"errorRate" yaml:"errorRate"`
}

// LatencyReport holds latency statistics in milliseconds.
type LatencyReport struct {
	Count  int64   `json:"count" yaml:"count"`
	Min    float64 `json:"min" yaml:"min"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stdDev" yaml:"stdDev"`
	P50    float64 `json:"p50" yaml:"p50"`
	P90    float64 `json:"p90" yaml:"p90"`
	P95    float64 `json:"p95" yaml:"p95"`
	P99    float64 `json:"p99" yaml:"p99"`
	Max    float64 `json:"max" yaml:"max"`
}

// PopulationReport summarizes one population.
type PopulationReport struct {
	Scenario        string   `json:"scenario" yaml:"scenario"`
	Profile         []string `json:"profile" yaml:"profile"`
	Error           string   `json:"error,omitempty" yaml:"error,omitempty"`
	Spawned         int      `json:"spawned" yaml:"spawned"`
	Completed       int      `json:"completed" yaml:"completed"`
	Failed          int      `json:"failed" yaml:"failed"`
	Aborted         int      `json:"aborted" yaml:"aborted"`
	PeakConcurrency int      `json:"peakConcurrency" yaml:"peakConcurrency"`
	RequestsOK      int      `json:"requestsOk" yaml:"requestsOk"`
	RequestsKO      int      `json:"requestsKo" yaml:"requestsKo"`
	Stopped         bool     `json:"stopped,omitempty" yaml:"stopped,omitempty"`
}

// StepReport holds latency for one named request.
type StepReport struct {
	Name    string        `json:"name" yaml:"name"`
	Latency LatencyReport `json:"latency" yaml:"latency"`
}

// ThresholdReport is one evaluated threshold.
type ThresholdReport struct {
	Metric     string `json:"metric" yaml:"metric"`
	Expression string `json:"expression" yaml:"expression"`
	Passed     bool   `json:"passed" yaml:"passed"`
	Value      string `json:"value" yaml:"value"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewReport converts a run result into a Report.
func NewReport(r *engine.Result) *Report {
	rep := &Report{
		Name:        r.Name,
		Description: r.Description,
		StartTime:   r.StartTime.Format(time.RFC3339),
		EndTime:     r.EndTime.Format(time.RFC3339),
		DurationMs:  r.Duration.Milliseconds(),
		Passed:      r.Passed,
		Populations: make([]PopulationReport, 0, len(r.Populations)),
	}

	if m := r.Metrics; m != nil {
		rep.Requests = RequestReport{
			Total:     m.TotalRequests,
			OK:        m.SuccessRequests,
			KO:        m.FailedRequests,
			Bytes:     m.TotalBytes,
			RPS:       m.RPS,
			ErrorRate: m.ErrorRate,
		}
		rep.Users = m.Users
		rep.Latency = latencyReport(m.Latency)
	}

	for _, p := range r.Populations {
		pr := PopulationReport{Scenario: p.Scenario, Profile: p.Profile}
		if p.Error != nil {
			pr.Error = p.Error.Error()
		}
		if s := p.Summary; s != nil {
			pr.Spawned = s.Spawned
			pr.Completed = s.Completed
			pr.Failed = s.Failed
			pr.Aborted = s.Aborted
			pr.PeakConcurrency = s.PeakConcurrency
			pr.RequestsOK = s.RequestsOK
			pr.RequestsKO = s.RequestsKO
			pr.Stopped = s.Stopped
		}
		rep.Populations = append(rep.Populations, pr)
	}

	for _, st := range r.Steps {
		rep.Steps = append(rep.Steps, StepReport{Name: st.Name, Latency: latencyReport(st.Latency)})
	}
	for _, t := range r.Thresholds {
		rep.Thresholds = append(rep.Thresholds, ThresholdReport(t))
	}
	return rep
}

func latencyReport(l metrics.LatencyStats) LatencyReport {
	return LatencyReport{
		Count:  l.Count,
		Min:    ms(l.Min),
		Mean:   ms(l.Mean),
		StdDev: ms(l.StdDev),
		P50:    ms(l.P50),
		P90:    ms(l.P90),
		P95:    ms(l.P95),
		P99:    ms(l.P99),
		Max:    ms(l.Max),
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// WriteReport writes r to w in the given format.
func WriteReport(w io.Writer, format Format, r *engine.Result) error {
	switch format {
	case FormatText, "":
		NewConsole(ConsoleConfig{Writer: w, NoColor: true}).PrintSummary(r)
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReport(r))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewReport(r)); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		return writeJUnit(w, r)
	case FormatHTML:
		return writeHTML(w, r)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// writeJUnit emits one testcase per population and one per threshold.
func writeJUnit(w io.Writer, r *engine.Result) error {
	suite := JUnitTestSuite{
		Name:      r.Name,
		Time:      r.Duration.Seconds(),
		Timestamp: r.StartTime.Format(time.RFC3339),
	}

	for _, p := range r.Populations {
		tc := JUnitTestCase{
			Name:      p.Scenario,
			Classname: r.Name + ".populations",
			SystemOut: strings.Join(p.Profile, ", "),
		}
		switch {
		case p.Error != nil:
			tc.Failure = &JUnitFailure{Message: p.Error.Error(), Type: "PopulationError", Content: p.Error.Error()}
			suite.Errors++
		case p.Summary != nil:
			s := p.Summary
			tc.Time = s.End.Sub(s.Start).Seconds()
			if s.Failed > 0 {
				msg := fmt.Sprintf("%d of %d users failed", s.Failed, s.Spawned)
				tc.Failure = &JUnitFailure{Message: msg, Type: "UserFailure", Content: msg}
				suite.Failures++
			}
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	for _, t := range r.Thresholds {
		tc := JUnitTestCase{
			Name:      fmt.Sprintf("%s %s", t.Metric, t.Expression),
			Classname: r.Name + ".thresholds",
			SystemOut: "actual: " + t.Value,
		}
		if !t.Passed {
			msg := t.Message
			if msg == "" {
				msg = fmt.Sprintf("threshold %s %s failed (actual: %s)", t.Metric, t.Expression, t.Value)
			}
			tc.Failure = &JUnitFailure{Message: msg, Type: "ThresholdFailure", Content: msg}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}
	suite.Tests = len(suite.TestCases)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
