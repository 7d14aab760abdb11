// Package engine runs a simulation: every population's scenario under its
// injection profile, with shared metrics and threshold evaluation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/rate"
	"github.com/wesleyorama2/swarm/internal/runner"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/scheduler"
)

// Population is one scenario injected with one profile.
type Population struct {
	Scenario *scenario.Scenario
	Profile  injection.Profile
}

// Options tune how populations run.
type Options struct {
	// Sequential runs populations one after the other instead of
	// concurrently.
	Sequential      bool
	PhaseTransition scheduler.PhaseTransition
	GracefulStop    time.Duration
	Tick            time.Duration
	// MaxRPS caps the request rate of the whole run when positive.
	MaxRPS float64
}

// Simulation is a complete load test.
type Simulation struct {
	Name        string
	Description string
	Populations []Population
	Thresholds  *Thresholds
	Options     Options
}

// Validate reports every invalid population as a single
// *injection.ConfigurationError.
func (s *Simulation) Validate() error {
	errs := &injection.ConfigurationError{}
	if len(s.Populations) == 0 {
		errs.Add("populations", "at least one population is required")
	}
	for i, p := range s.Populations {
		prefix := fmt.Sprintf("populations[%d]", i)
		if p.Scenario == nil {
			errs.Add(prefix+".scenario", "scenario is required")
		}
		var cfgErr *injection.ConfigurationError
		if err := p.Profile.Validate(); errors.As(err, &cfgErr) {
			for _, fe := range cfgErr.Errors {
				errs.Add(prefix+".injection."+fe.Field, "%s", fe.Message)
			}
		}
	}
	if s.Options.MaxRPS < 0 {
		errs.Add("options.maxRps", "must not be negative, got %v", s.Options.MaxRPS)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Engine is the orchestrator of a simulation run.
//
// Example usage:
//
//	eng, _ := engine.New(sim, &runner.RunContext{Client: client})
//	result, _ := eng.Run(ctx)
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	sim *Simulation
	rc  runner.RunContext

	metricsEngine *metrics.Engine

	mu         sync.Mutex
	schedulers []*scheduler.Scheduler
	running    bool
	stopped    bool
}

// New validates sim. rc supplies the HTTP client, an optional extra sink
// and the logger; the engine adds its own metrics to the sink.
func New(sim *Simulation, rc *runner.RunContext) (*Engine, error) {
	if sim == nil {
		return nil, errors.New("nil simulation")
	}
	if rc == nil || rc.Client == nil {
		return nil, errors.New("run context needs an HTTP client")
	}
	if err := sim.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation: %w", err)
	}
	return &Engine{sim: sim, rc: *rc}, nil
}

// PopulationResult holds the outcome of one population.
type PopulationResult struct {
	Scenario string             `json:"scenario"`
	Profile  []string           `json:"profile"`
	Summary  *scheduler.Summary `json:"summary"`
	Error    error              `json:"-"`
}

// Result contains the complete run results.
type Result struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Populations []*PopulationResult   `json:"populations"`
	Metrics     *metrics.Snapshot     `json:"metrics"`
	Steps       []metrics.StepStats   `json:"steps,omitempty"`
	TimeSeries  []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
}

// Run executes every population and returns the results. Users that fail
// do not make Run fail; thresholds decide Passed.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	log := e.rc.Log().WithField("simulation", e.sim.Name)

	me := metrics.NewEngine()
	e.mu.Lock()
	e.metricsEngine = me
	e.mu.Unlock()

	rc := e.rc
	rc.Sink = metrics.Fanout(me, e.rc.Sink)
	if rc.Throttle == nil && e.sim.Options.MaxRPS > 0 {
		rc.Throttle = rate.NewLeakyBucket(e.sim.Options.MaxRPS)
	}

	log.WithFields(logrus.Fields{
		"populations": len(e.sim.Populations),
		"sequential":  e.sim.Options.Sequential,
	}).Info("Simulation started")

	ids := &scheduler.IDs{}
	results := make([]*PopulationResult, len(e.sim.Populations))
	var runErr error
	if e.sim.Options.Sequential {
		for i, p := range e.sim.Populations {
			if ctx.Err() != nil || e.isStopped() {
				break
			}
			results[i] = e.runPopulation(ctx, &rc, ids, p)
			if results[i].Error != nil && runErr == nil {
				runErr = results[i].Error
			}
		}
	} else {
		var wg sync.WaitGroup
		for i, p := range e.sim.Populations {
			wg.Add(1)
			go func(i int, p Population) {
				defer wg.Done()
				results[i] = e.runPopulation(ctx, &rc, ids, p)
			}(i, p)
		}
		wg.Wait()
		for _, r := range results {
			if r.Error != nil {
				runErr = r.Error
				break
			}
		}
	}

	me.Stop()
	snapshot := me.Snapshot()
	thresholds := EvaluateThresholds(e.sim.Thresholds, snapshot)

	passed := runErr == nil
	for _, tr := range thresholds {
		if !tr.Passed {
			passed = false
			break
		}
	}

	var done []*PopulationResult
	for _, r := range results {
		if r != nil {
			done = append(done, r)
		}
	}

	end := time.Now()
	log.WithFields(logrus.Fields{
		"requests": snapshot.TotalRequests,
		"failed":   snapshot.FailedRequests,
		"passed":   passed,
	}).Info("Simulation finished")

	return &Result{
		Name:        e.sim.Name,
		Description: e.sim.Description,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Populations: done,
		Metrics:     snapshot,
		Steps:       me.StepStats(),
		TimeSeries:  me.TimeSeries(),
		Passed:      passed,
		Thresholds:  thresholds,
	}, runErr
}

func (e *Engine) runPopulation(ctx context.Context, rc *runner.RunContext, ids *scheduler.IDs, p Population) *PopulationResult {
	opts := []scheduler.Option{
		scheduler.WithIDs(ids),
		scheduler.WithPhaseTransition(e.sim.Options.PhaseTransition),
		scheduler.WithGracefulStop(e.sim.Options.GracefulStop),
	}
	if e.sim.Options.Tick > 0 {
		opts = append(opts, scheduler.WithTick(e.sim.Options.Tick))
	}
	s := scheduler.New(rc, opts...)

	e.mu.Lock()
	e.schedulers = append(e.schedulers, s)
	if e.stopped {
		s.Stop()
	}
	e.mu.Unlock()

	res := &PopulationResult{Scenario: p.Scenario.Name()}
	for _, ph := range p.Profile.Phases {
		res.Profile = append(res.Profile, ph.String())
	}
	sum, err := s.Run(ctx, p.Scenario, p.Profile)
	res.Summary = sum
	if err != nil {
		res.Error = fmt.Errorf("scenario %s: %w", p.Scenario.Name(), err)
	}
	return res
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Stop stops spawning in every population. In-flight users follow the
// run context's stop policy.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for _, s := range e.schedulers {
		s.Stop()
	}
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Metrics returns the current metrics snapshot, nil before Run.
func (e *Engine) Metrics() *metrics.Snapshot {
	e.mu.Lock()
	me := e.metricsEngine
	e.mu.Unlock()
	if me == nil {
		return nil
	}
	return me.Snapshot()
}
