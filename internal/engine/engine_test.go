package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/check"
	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/runner"
	"github.com/wesleyorama2/swarm/internal/scenario"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[{"id":1,"name":"bag"},{"id":2,"name":"hat"}]`)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func browseScenario(t *testing.T, baseURL, name, path string) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.NewBuilder(name).
		Protocol(scenario.Protocol{BaseURL: baseURL}).
		Exec(scenario.HTTP("list").Get(path).Check(check.JSONPath("$[0].id").Exists())).
		Build()
	require.NoError(t, err)
	return sc
}

func TestEngine_RunsPopulationsConcurrently(t *testing.T) {
	srv := newTestServer(t)
	log := metrics.NewLog()

	sim := &Simulation{
		Name: "shop",
		Populations: []Population{
			{Scenario: browseScenario(t, srv.URL, "browse", "/products"), Profile: injection.NewProfile(injection.AtOnceUsers{Users: 3})},
			{Scenario: browseScenario(t, srv.URL, "broken", "/broken"), Profile: injection.NewProfile(injection.RampUsers{Users: 2, During: 50 * time.Millisecond})},
		},
		Thresholds: &Thresholds{
			Requests: []string{"count == 5"},
		},
	}

	eng, err := New(sim, &runner.RunContext{Client: swarmhttp.WrapClient(srv.Client()), Sink: log})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Populations, 2)
	assert.Equal(t, 3, result.Populations[0].Summary.RequestsOK)
	assert.Equal(t, 2, result.Populations[1].Summary.RequestsKO)

	assert.Equal(t, int64(5), result.Metrics.TotalRequests)
	assert.Equal(t, int64(2), result.Metrics.FailedRequests)
	assert.Equal(t, int64(5), result.Metrics.Users.Started)
	assert.True(t, result.Passed)
	assert.Len(t, log.Requests(), 5)

	// ids are unique across populations
	seen := map[int]bool{}
	for _, p := range result.Populations {
		for _, ev := range p.Summary.Spawns {
			assert.False(t, seen[ev.VUID])
			seen[ev.VUID] = true
		}
	}
}

func TestEngine_FailedThreshold(t *testing.T) {
	srv := newTestServer(t)
	sim := &Simulation{
		Name: "errors",
		Populations: []Population{
			{Scenario: browseScenario(t, srv.URL, "broken", "/broken"), Profile: injection.NewProfile(injection.AtOnceUsers{Users: 2})},
		},
		Thresholds: &Thresholds{FailedRequests: []string{"rate < 0.01"}},
	}

	eng, err := New(sim, &runner.RunContext{Client: swarmhttp.WrapClient(srv.Client())})
	require.NoError(t, err)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.Len(t, result.Thresholds, 1)
	assert.False(t, result.Thresholds[0].Passed)
	assert.Equal(t, "1.0000", result.Thresholds[0].Value)
}

func TestEngine_SequentialAndStop(t *testing.T) {
	var calls atomic.Int32
	client := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		calls.Add(1)
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
	})
	sc, err := scenario.NewBuilder("tick").
		Exec(scenario.HTTP("ping").Get("http://example.test/ping")).
		Build()
	require.NoError(t, err)

	long := injection.NewProfile(injection.ConstantUsersPerSec{Rate: 50, During: 10 * time.Second})
	sim := &Simulation{
		Name:        "seq",
		Populations: []Population{{Scenario: sc, Profile: long}, {Scenario: sc, Profile: long}},
		Options:     Options{Sequential: true},
	}
	eng, err := New(sim, &runner.RunContext{Client: client})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		eng.Stop()
	}()

	start := time.Now()
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second)
	require.Len(t, result.Populations, 1)
	assert.True(t, result.Populations[0].Summary.Stopped)
	assert.False(t, eng.IsRunning())
}

func TestEngine_MaxRPSThrottles(t *testing.T) {
	client := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
	})
	sc, err := scenario.NewBuilder("burst").
		Exec(scenario.HTTP("ping").Get("http://example.test/ping")).
		Build()
	require.NoError(t, err)

	sim := &Simulation{
		Name:        "throttled",
		Populations: []Population{{Scenario: sc, Profile: injection.NewProfile(injection.AtOnceUsers{Users: 6})}},
		Options:     Options{MaxRPS: 50},
	}
	eng, err := New(sim, &runner.RunContext{Client: client})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	// six slots 20ms apart
	assert.GreaterOrEqual(t, result.Duration, 100*time.Millisecond)
	assert.Equal(t, int64(6), result.Metrics.TotalRequests)
}

func TestNew_ValidatesEveryPopulation(t *testing.T) {
	sc, err := scenario.NewBuilder("s").Exec(scenario.HTTP("r").Get("http://example.test")).Build()
	require.NoError(t, err)

	sim := &Simulation{
		Name: "bad",
		Populations: []Population{
			{Scenario: sc, Profile: injection.NewProfile(injection.AtOnceUsers{Users: -1})},
			{Profile: injection.NewProfile()},
		},
	}
	_, err = New(sim, &runner.RunContext{Client: swarmhttp.WrapClient(http.DefaultClient)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, injection.ErrConfiguration))

	var cfgErr *injection.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	var fields []string
	for _, fe := range cfgErr.Errors {
		fields = append(fields, fe.Field)
	}
	assert.Equal(t, []string{
		"populations[0].injection.phases[0].users",
		"populations[1].scenario",
		"populations[1].injection.phases",
	}, fields)
}

func TestEvaluateThresholds(t *testing.T) {
	snapshot := &metrics.Snapshot{
		TotalRequests:  200,
		FailedRequests: 4,
		ErrorRate:      0.02,
		RPS:            40,
		Latency: metrics.LatencyStats{
			P95: 300 * time.Millisecond,
			Max: 2 * time.Second,
		},
	}

	tests := []struct {
		name   string
		t      Thresholds
		passed bool
	}{
		{"p95 under limit", Thresholds{ResponseTime: []string{"p95 < 500ms"}}, true},
		{"max over limit", Thresholds{ResponseTime: []string{"max < 1s"}}, false},
		{"error rate over limit", Thresholds{FailedRequests: []string{"rate < 0.01"}}, false},
		{"failed count", Thresholds{FailedRequests: []string{"count <= 4"}}, true},
		{"request count", Thresholds{Requests: []string{"count > 100"}}, true},
		{"request rate", Thresholds{Requests: []string{"rate >= 50"}}, false},
		{"unknown statistic", Thresholds{ResponseTime: []string{"p42 < 1s"}}, false},
		{"garbage", Thresholds{Requests: []string{"lots"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := EvaluateThresholds(&tt.t, snapshot)
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed, results[0].Message)
		})
	}

	assert.Nil(t, EvaluateThresholds(nil, snapshot))
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold("responseTime", "p99 < 1s"))
	assert.NoError(t, ValidateThreshold("failedRequests", "rate < 0.05"))
	assert.Error(t, ValidateThreshold("responseTime", "p99 < fast"))
	assert.Error(t, ValidateThreshold("requests", "p99 > 1"))
	assert.Error(t, ValidateThreshold("requests", "count ~ 1"))
	assert.Error(t, ValidateThreshold("latency", "p99 < 1s"))
}
