package output

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - Simulation Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #0f172a;
            --card: #1e293b;
            --border: #334155;
            --text: #e2e8f0;
            --muted: #94a3b8;
            --ok: #22c55e;
            --ko: #ef4444;
            --accent: #38bdf8;
        }
        * { box-sizing: border-box; }
        body {
            margin: 0;
            padding: 24px;
            background: var(--bg);
            color: var(--text);
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
        }
        .container { max-width: 1200px; margin: 0 auto; }
        .header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            padding: 20px 24px;
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: 8px;
            margin-bottom: 20px;
        }
        .header h1 { margin: 0 0 4px 0; font-size: 24px; }
        .header .meta { color: var(--muted); font-size: 14px; }
        .badge {
            padding: 6px 14px;
            border-radius: 999px;
            font-weight: 600;
            font-size: 14px;
        }
        .badge.passed { background: rgba(34, 197, 94, 0.15); color: var(--ok); }
        .badge.failed { background: rgba(239, 68, 68, 0.15); color: var(--ko); }
        .cards {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(170px, 1fr));
            gap: 12px;
            margin-bottom: 20px;
        }
        .card {
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 16px;
        }
        .card .label { color: var(--muted); font-size: 12px; text-transform: uppercase; }
        .card .value { font-size: 22px; font-weight: 600; margin-top: 6px; }
        .section {
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 20px 24px;
            margin-bottom: 20px;
        }
        .section h2 { margin: 0 0 14px 0; font-size: 18px; }
        table { width: 100%; border-collapse: collapse; font-size: 14px; }
        th, td { text-align: left; padding: 8px 10px; border-bottom: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 500; }
        .ok { color: var(--ok); }
        .ko { color: var(--ko); }
        .chart-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr)); gap: 20px; }
        .chart-wrapper { position: relative; height: 260px; }
        .empty { color: var(--muted); font-style: italic; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <div>
            <h1>{{.Name}}</h1>
            {{if .Description}}<div class="meta">{{.Description}}</div>{{end}}
            <div class="meta">Started {{.StartTime.Format "2006-01-02 15:04:05 MST"}} &middot; ran {{formatDuration .Duration}}</div>
        </div>
        {{if .Passed}}<span class="badge passed">PASSED</span>{{else}}<span class="badge failed">FAILED</span>{{end}}
    </div>

    {{with .Metrics}}
    <div class="cards">
        <div class="card"><div class="label">Requests</div><div class="value">{{formatNumber .TotalRequests}}</div></div>
        <div class="card"><div class="label">Success rate</div><div class="value">{{successRate .}}</div></div>
        <div class="card"><div class="label">Failed</div><div class="value {{if .FailedRequests}}ko{{else}}ok{{end}}">{{formatNumber .FailedRequests}}</div></div>
        <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}} req/s</div></div>
        <div class="card"><div class="label">P95 latency</div><div class="value">{{formatLatency .Latency.P95}}</div></div>
        <div class="card"><div class="label">Received</div><div class="value">{{formatBytes .TotalBytes}}</div></div>
    </div>

    <div class="section">
        <h2>Users</h2>
        <table>
            <tr><th>Started</th><th>Completed</th><th>Failed</th><th>Aborted</th></tr>
            <tr><td>{{.Users.Started}}</td><td>{{.Users.Completed}}</td><td>{{.Users.Failed}}</td><td>{{.Users.Aborted}}</td></tr>
        </table>
    </div>

    <div class="section">
        <h2>Latency</h2>
        <table>
            <tr><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr>
            <tr>
                <td>{{formatLatency .Latency.Min}}</td>
                <td>{{formatLatency .Latency.Mean}}</td>
                <td>{{formatLatency .Latency.P50}}</td>
                <td>{{formatLatency .Latency.P90}}</td>
                <td>{{formatLatency .Latency.P95}}</td>
                <td>{{formatLatency .Latency.P99}}</td>
                <td>{{formatLatency .Latency.Max}}</td>
            </tr>
        </table>
    </div>
    {{end}}

    <div class="section">
        <h2>Populations</h2>
        <table>
            <tr><th>Scenario</th><th>Profile</th><th>Users</th><th>Completed</th><th>Failed</th><th>Aborted</th><th>Peak</th><th>OK</th><th>KO</th></tr>
            {{range .Populations}}
            <tr>
                <td>{{.Scenario}}</td>
                <td>{{range $i, $p := .Profile}}{{if $i}}, {{end}}{{$p}}{{end}}</td>
                {{if .Error}}
                <td colspan="7" class="ko">{{.Error}}</td>
                {{else}}{{with .Summary}}
                <td>{{.Spawned}}</td><td>{{.Completed}}</td><td>{{.Failed}}</td><td>{{.Aborted}}</td>
                <td>{{.PeakConcurrency}}</td><td class="ok">{{.RequestsOK}}</td><td class="ko">{{.RequestsKO}}</td>
                {{end}}{{end}}
            </tr>
            {{end}}
        </table>
    </div>

    {{if .Steps}}
    <div class="section">
        <h2>Requests</h2>
        <table>
            <tr><th>Request</th><th>Count</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr>
            {{range .Steps}}
            <tr>
                <td>{{.Name}}</td>
                <td>{{formatNumber .Latency.Count}}</td>
                <td>{{formatLatency .Latency.P50}}</td>
                <td>{{formatLatency .Latency.P90}}</td>
                <td>{{formatLatency .Latency.P95}}</td>
                <td>{{formatLatency .Latency.P99}}</td>
                <td>{{formatLatency .Latency.Max}}</td>
            </tr>
            {{end}}
        </table>
    </div>
    {{end}}

    {{if .Thresholds}}
    <div class="section">
        <h2>Thresholds</h2>
        <table>
            <tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th></tr>
            {{range .Thresholds}}
            <tr>
                <td class="{{if .Passed}}ok{{else}}ko{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
                <td>{{.Metric}}</td>
                <td>{{.Expression}}</td>
                <td>{{.Value}}{{if .Message}} <span class="ko">{{.Message}}</span>{{end}}</td>
            </tr>
            {{end}}
        </table>
    </div>
    {{end}}

    <div class="section">
        <h2>Over time</h2>
        {{if .TimeSeries}}
        <div class="chart-grid">
            <div class="chart-wrapper"><canvas id="rpsChart"></canvas></div>
            <div class="chart-wrapper"><canvas id="latencyChart"></canvas></div>
            <div class="chart-wrapper"><canvas id="usersChart"></canvas></div>
            <div class="chart-wrapper"><canvas id="errorChart"></canvas></div>
        </div>
        {{else}}
        <p class="empty">The run was too short to record a time series.</p>
        {{end}}
    </div>
</div>

<script>
    const series = {{.TimeSeriesJSON}};
    if (series.length > 0 && typeof Chart !== 'undefined') {
        const labels = series.map(p => new Date(p.timestamp).toLocaleTimeString());
        const options = (title) => ({
            responsive: true,
            maintainAspectRatio: false,
            plugins: { title: { display: true, text: title, color: '#e2e8f0' }, legend: { labels: { color: '#94a3b8' } } },
            scales: {
                x: { ticks: { color: '#94a3b8', maxTicksLimit: 10 }, grid: { color: '#334155' } },
                y: { beginAtZero: true, ticks: { color: '#94a3b8' }, grid: { color: '#334155' } }
            }
        });
        const line = (label, data, color) => ({ label, data, borderColor: color, backgroundColor: color + '33', fill: false, tension: 0.2, pointRadius: 0 });

        new Chart(document.getElementById('rpsChart'), {
            type: 'line',
            data: { labels, datasets: [line('req/s', series.map(p => p.intervalRPS), '#38bdf8')] },
            options: options('Requests per second')
        });
        new Chart(document.getElementById('latencyChart'), {
            type: 'line',
            data: { labels, datasets: [
                line('P50 (ms)', series.map(p => p.latencyP50), '#22c55e'),
                line('P95 (ms)', series.map(p => p.latencyP95), '#eab308'),
                line('P99 (ms)', series.map(p => p.latencyP99), '#ef4444')
            ] },
            options: options('Response time')
        });
        new Chart(document.getElementById('usersChart'), {
            type: 'line',
            data: { labels, datasets: [line('active users', series.map(p => p.activeUsers), '#a855f7')] },
            options: options('Active users')
        });
        new Chart(document.getElementById('errorChart'), {
            type: 'line',
            data: { labels, datasets: [line('error %', series.map(p => p.intervalErrorRate * 100), '#ef4444')] },
            options: options('Error rate')
        });
    }
</script>
</body>
</html>
`
