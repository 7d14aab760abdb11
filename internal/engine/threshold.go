package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/swarm/internal/metrics"
)

// Thresholds are pass/fail assertions over the final metrics.
//
//	ResponseTime:   "p95 < 500ms", "max < 2s"
//	FailedRequests: "rate < 0.01", "count == 0"
//	Requests:       "count > 100", "rate > 50"
type Thresholds struct {
	ResponseTime   []string `json:"responseTime,omitempty" yaml:"responseTime,omitempty"`
	FailedRequests []string `json:"failedRequests,omitempty" yaml:"failedRequests,omitempty"`
	Requests       []string `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// ValidateThreshold checks that expr parses for metric, without
// evaluating it.
func ValidateThreshold(metric, expr string) error {
	name, op, value, err := parseThresholdExpression(expr)
	if err != nil {
		return err
	}
	if _, ok := comparators[op]; !ok {
		return fmt.Errorf("unknown operator %q", op)
	}
	switch metric {
	case "responseTime":
		if _, ok := latencyOf(name, metrics.LatencyStats{}); !ok {
			return fmt.Errorf("unknown response time statistic %q", name)
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
	case "failedRequests", "requests":
		if name != "rate" && name != "count" {
			return fmt.Errorf("%s supports rate and count, got %q", metric, name)
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("invalid number %q", value)
		}
	default:
		return fmt.Errorf("unknown metric %q", metric)
	}
	return nil
}

// EvaluateThresholds evaluates every expression of t against snapshot.
func EvaluateThresholds(t *Thresholds, snapshot *metrics.Snapshot) []ThresholdResult {
	if t == nil {
		return nil
	}

	var results []ThresholdResult
	for _, expr := range t.ResponseTime {
		results = append(results, evaluateResponseTime(expr, snapshot))
	}
	for _, expr := range t.FailedRequests {
		results = append(results, evaluateCounter("failedRequests", expr, float64(snapshot.FailedRequests), snapshot.ErrorRate))
	}
	for _, expr := range t.Requests {
		results = append(results, evaluateCounter("requests", expr, float64(snapshot.TotalRequests), snapshot.RPS))
	}
	return results
}

func evaluateResponseTime(expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{Metric: "responseTime", Expression: expr}

	name, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	actual, ok := latencyOf(name, snapshot.Latency)
	if !ok {
		result.Message = fmt.Sprintf("unknown statistic: %s", name)
		return result
	}
	threshold, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actual.String()
	result.Passed = compareValues(float64(actual), op, float64(threshold))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", name, actual, op, threshold)
	}
	return result
}

// evaluateCounter handles "count" against total and "rate" against rate.
func evaluateCounter(metric, expr string, total, rate float64) ThresholdResult {
	result := ThresholdResult{Metric: metric, Expression: expr}

	name, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	threshold, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	var actual float64
	switch name {
	case "count":
		actual = total
		result.Value = strconv.FormatFloat(actual, 'f', 0, 64)
	case "rate":
		actual = rate
		result.Value = fmt.Sprintf("%.4f", actual)
	default:
		result.Message = fmt.Sprintf("%s only supports 'count' or 'rate', got: %s", metric, name)
		return result
	}

	result.Passed = compareValues(actual, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", name, result.Value, op, valueStr)
	}
	return result
}

func latencyOf(name string, l metrics.LatencyStats) (time.Duration, bool) {
	switch name {
	case "min":
		return l.Min, true
	case "max":
		return l.Max, true
	case "avg", "mean":
		return l.Mean, true
	case "p50", "med":
		return l.P50, true
	case "p90":
		return l.P90, true
	case "p95":
		return l.P95, true
	case "p99":
		return l.P99, true
	default:
		return 0, false
	}
}

var thresholdExpr = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdExpr.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

var comparators = map[string]func(a, b float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"==": func(a, b float64) bool { return a == b },
	"=":  func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
	"<>": func(a, b float64) bool { return a != b },
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	cmp, ok := comparators[op]
	return ok && cmp(actual, threshold)
}
