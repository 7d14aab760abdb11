package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/engine"
	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/runner"
	"github.com/wesleyorama2/swarm/internal/scheduler"
)

const shopYAML = `
name: e2e
protocol:
  baseUrl: BASE_URL
  headers:
    Accept: application/json
feeders:
  categories:
    file: categories.csv
    strategy: circular
scenarios:
  shop:
    steps:
      - once:
          flag: authenticated
          steps:
            - request:
                name: Authenticate
                method: POST
                url: /api/authenticate
                headers: {Content-Type: application/json}
                body: '{"username":"admin","password":"admin"}'
                checks:
                  - jmesPath: token
                    saveAs: jwt
      - feed: {feeder: categories}
      - repeat:
          times: 2
          counter: i
          steps:
            - request:
                name: "List #{categorySlug}"
                url: "/api/product?category=#{categorySlug}"
                checks:
                  - jsonPath: "$[0].id"
                    saveAs: productId
            - request:
                name: Product
                url: "/api/product/#{productId}"
                headers:
                  Authorization: "Bearer #{jwt}"
                checks:
                  - status: true
                    is: 200
populations:
  - scenario: shop
    injection:
      - atOnceUsers: 2
thresholds:
  failedRequests: ["count == 0"]
  requests: ["count == 10"]
`

func newShopServer(t *testing.T, logins *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/authenticate":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"admin"`) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			logins.Add(1)
			fmt.Fprint(w, `{"token":"abc"}`)
		case r.URL.Path == "/api/product":
			if r.Header.Get("Accept") != "application/json" || r.URL.Query().Get("category") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `[{"id":1,"name":"bag"}]`)
		case r.URL.Path == "/api/product/1":
			if r.Header.Get("Authorization") != "Bearer abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"id":1,"name":"bag"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_RunsAgainstServer(t *testing.T) {
	var logins atomic.Int32
	srv := newShopServer(t, &logins)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "categories.csv"), []byte("categorySlug\nall\nfor-him\n"), 0644))
	path := filepath.Join(dir, "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(shopYAML, "BASE_URL", srv.URL)), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	sim, err := Build(cfg, filepath.Dir(path))
	require.NoError(t, err)

	eng, err := engine.New(sim, &runner.RunContext{
		Client:     swarmhttp.NewClient(cfg.HTTPConfig()),
		StopPolicy: cfg.StopPolicy(),
	})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed, "%+v", result.Thresholds)
	assert.Equal(t, int64(10), result.Metrics.TotalRequests)
	assert.Zero(t, result.Metrics.FailedRequests)
	assert.Equal(t, int32(2), logins.Load())
	assert.Equal(t, 2, result.Populations[0].Summary.Completed)
}

func TestBuild_MapsEverySection(t *testing.T) {
	yamlConfig := `
name: mapped
description: every injection kind
protocol:
  baseUrl: "http://localhost:8080"
  timeout: 2s
  maxConnsPerHost: 10
  disableRedirects: true
feeders:
  ids:
    rows: [{id: "1"}, {id: "2"}]
    strategy: shuffle
scenarios:
  a:
    steps:
      - feed: {feeder: ids, columns: [id]}
      - set: {greeting: "hello #{id}", answer: 42}
      - if:
          equals: {key: answer, value: 42}
          not: true
          then:
            - pause: {duration: 10ms}
          else:
            - pause: {min: 1ms, max: 5ms}
      - group:
          name: cleanup
          steps:
            - unset: [greeting]
populations:
  - scenario: a
    injection:
      - atOnceUsers: 1
      - nothingFor: 1s
      - rampUsers: {users: 2, during: 1s}
      - constantUsersPerSec: {rate: 2, during: 1s}
      - rampUsersPerSec: {from: 1, to: 3, during: 1s}
      - constantConcurrentUsers: {users: 2, during: 1s}
      - rampConcurrentUsers: {from: 1, to: 3, during: 1s}
options:
  phaseTransition: drain
  stopPolicy: abortNow
  gracefulStop: 3s
  tick: 50ms
  maxRps: 100
  sequential: true
`
	cfg, err := ParseConfig([]byte(yamlConfig), "sim.yaml")
	require.NoError(t, err)
	sim, err := Build(cfg, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "mapped", sim.Name)
	assert.Equal(t, "every injection kind", sim.Description)
	require.Len(t, sim.Populations, 1)
	assert.Equal(t, "a", sim.Populations[0].Scenario.Name())
	assert.Equal(t, "http://localhost:8080", sim.Populations[0].Scenario.Protocol().BaseURL)
	assert.Len(t, sim.Populations[0].Scenario.Steps(), 5)

	assert.Equal(t, []injection.Phase{
		injection.AtOnceUsers{Users: 1},
		injection.NothingFor{Duration: time.Second},
		injection.RampUsers{Users: 2, During: time.Second},
		injection.ConstantUsersPerSec{Rate: 2, During: time.Second},
		injection.RampUsersPerSec{From: 1, To: 3, During: time.Second},
		injection.ConstantConcurrentUsers{Users: 2, During: time.Second},
		injection.RampConcurrentUsers{From: 1, To: 3, During: time.Second},
	}, sim.Populations[0].Profile.Phases)

	assert.Equal(t, engine.Options{
		Sequential:      true,
		PhaseTransition: scheduler.Drain,
		GracefulStop:    3 * time.Second,
		Tick:            50 * time.Millisecond,
		MaxRPS:          100,
	}, sim.Options)

	assert.Equal(t, runner.AbortNow, cfg.StopPolicy())
	httpCfg := cfg.HTTPConfig()
	assert.Equal(t, 2*time.Second, httpCfg.Timeout)
	assert.Equal(t, 10, httpCfg.MaxConnsPerHost)
	assert.False(t, httpCfg.FollowRedirects)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg, err := ParseConfig([]byte("name: x\n"), "sim.yaml")
		require.NoError(t, err)
		_, err = Build(cfg, "")
		var verrs *ValidationErrors
		assert.True(t, errors.As(err, &verrs))
	})

	t.Run("missing feeder file", func(t *testing.T) {
		yamlConfig := `
name: x
feeders: {f: {file: nowhere.csv}}
scenarios: {a: {steps: [{feed: {feeder: f}}]}}
populations: [{scenario: a, injection: [{atOnceUsers: 1}]}]
`
		cfg, err := ParseConfig([]byte(yamlConfig), "sim.yaml")
		require.NoError(t, err)
		_, err = Build(cfg, t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "feeder f")
	})

	t.Run("unknown feed column", func(t *testing.T) {
		yamlConfig := `
name: x
feeders: {f: {rows: [{id: "1"}]}}
scenarios: {a: {steps: [{feed: {feeder: f, columns: [name]}}]}}
populations: [{scenario: a, injection: [{atOnceUsers: 1}]}]
`
		cfg, err := ParseConfig([]byte(yamlConfig), "sim.yaml")
		require.NoError(t, err)
		_, err = Build(cfg, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown column "name"`)
	})
}
