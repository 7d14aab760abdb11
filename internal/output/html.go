package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/wesleyorama2/swarm/internal/engine"
	"github.com/wesleyorama2/swarm/internal/metrics"
)

// htmlData is what the HTML template renders.
type htmlData struct {
	*engine.Result
	TimeSeriesJSON template.JS
}

// timeSeriesPoint is one chart point. Latencies are in milliseconds.
type timeSeriesPoint struct {
	Timestamp         string  `json:"timestamp"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`
	LatencyP50        float64 `json:"latencyP50"`
	LatencyP95        float64 `json:"latencyP95"`
	LatencyP99        float64 `json:"latencyP99"`
	ActiveUsers       int     `json:"activeUsers"`
	Phase             string  `json:"phase"`
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDuration": formatDuration,
	"formatLatency":  formatDurationShort,
	"formatNumber":   formatNumber,
	"formatBytes":    formatBytes,
	"successRate":    successRate,
}).Parse(htmlTemplate))

// writeHTML renders a standalone HTML report with time series charts.
func writeHTML(w io.Writer, r *engine.Result) error {
	if r == nil {
		return fmt.Errorf("result cannot be nil")
	}
	series, err := timeSeriesJSON(r.TimeSeries)
	if err != nil {
		return fmt.Errorf("failed to convert time series: %w", err)
	}
	if err := reportTemplate.Execute(w, htmlData{Result: r, TimeSeriesJSON: template.JS(series)}); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

func timeSeriesJSON(buckets []*metrics.TimeBucket) (string, error) {
	points := make([]timeSeriesPoint, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, timeSeriesPoint{
			Timestamp:         b.Timestamp.Format(time.RFC3339),
			IntervalRPS:       b.IntervalRPS,
			IntervalErrorRate: b.IntervalErrorRate,
			LatencyP50:        ms(b.LatencyP50),
			LatencyP95:        ms(b.LatencyP95),
			LatencyP99:        ms(b.LatencyP99),
			ActiveUsers:       b.ActiveUsers,
			Phase:             b.Phase,
		})
	}
	raw, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(raw), nil
}

// formatBytes formats bytes in a human-readable way.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func successRate(m *metrics.Snapshot) string {
	if m == nil || m.TotalRequests == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(m.SuccessRequests)/float64(m.TotalRequests)*100)
}
