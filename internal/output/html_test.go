package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/metrics"
)

func TestWriteReport_HTML(t *testing.T) {
	result := sampleResult()
	result.TimeSeries = []*metrics.TimeBucket{
		{
			Timestamp:   result.StartTime.Add(time.Second),
			IntervalRPS: 12.5,
			LatencyP95:  40 * time.Millisecond,
			ActiveUsers: 2,
			Phase:       "atOnceUsers",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, FormatHTML, result))
	html := buf.String()

	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>shop - Simulation Report</title>",
		`<span class="badge failed">FAILED</span>`,
		"1,234",
		"97.2%",
		"atOnceUsers(2)",
		"connection refused",
		"Authenticate",
		"p95 &lt; 500ms",
		"rpsChart",
		`"intervalRPS":12.5`,
		`"latencyP95":40`,
	} {
		assert.Contains(t, html, want)
	}
	assert.NotContains(t, html, "too short to record")
}

func TestWriteReport_HTMLWithoutTimeSeries(t *testing.T) {
	result := sampleResult()
	result.Passed = true
	result.Metrics = nil

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, FormatHTML, result))
	html := buf.String()

	assert.Contains(t, html, `<span class="badge passed">PASSED</span>`)
	assert.Contains(t, html, "const series = [];")
	assert.Contains(t, html, "too short to record")
	assert.False(t, strings.Contains(html, "Latency</h2>"))
}

func TestWriteHTML_NilResult(t *testing.T) {
	assert.Error(t, writeHTML(&bytes.Buffer{}, nil))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
