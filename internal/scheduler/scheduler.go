// Package scheduler turns an injection profile into virtual users.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/runner"
	"github.com/wesleyorama2/swarm/internal/scenario"
)

// PhaseTransition decides whether a phase waits for the users of the
// previous one.
type PhaseTransition int

const (
	// Overlap starts the next phase on time; earlier users keep running.
	Overlap PhaseTransition = iota
	// Drain waits for every in-flight user before the next phase starts.
	Drain
)

func (p PhaseTransition) String() string {
	if p == Drain {
		return "drain"
	}
	return "overlap"
}

// ParsePhaseTransition accepts "overlap" (or "") and "drain".
func ParsePhaseTransition(s string) (PhaseTransition, error) {
	switch strings.ToLower(s) {
	case "", "overlap":
		return Overlap, nil
	case "drain":
		return Drain, nil
	default:
		return Overlap, fmt.Errorf("unknown phase transition %q", s)
	}
}

const defaultTick = 100 * time.Millisecond

// IDs hands out virtual user ids. Schedulers sharing one IDs value never
// reuse an id.
type IDs struct {
	n atomic.Int64
}

// Next returns the next id, starting at 1.
func (g *IDs) Next() int { return int(g.n.Add(1)) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets how often the closed-model controller re-evaluates its
// target when no user finishes.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithPhaseTransition(p PhaseTransition) Option {
	return func(s *Scheduler) { s.transition = p }
}

// WithGracefulStop bounds the wait for in-flight users after the last
// phase. Users still running afterwards are stopped. Zero waits forever.
func WithGracefulStop(d time.Duration) Option {
	return func(s *Scheduler) { s.gracefulStop = d }
}

// WithIDs shares an id source between schedulers.
func WithIDs(ids *IDs) Option {
	return func(s *Scheduler) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// Scheduler starts virtual users according to a profile.
//
// Open-model phases start users at precomputed offsets from the phase
// start, whatever the number of running users. Closed-model phases keep
// the number of running closed-model users at the phase target: a
// controller re-evaluates on every tick and as soon as one of those users
// finishes. Users are never killed to meet a lower target.
type Scheduler struct {
	rc           *runner.RunContext
	tick         time.Duration
	transition   PhaseTransition
	gracefulStop time.Duration
	ids          *IDs
	log          logrus.FieldLogger

	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	wg             sync.WaitGroup
	inFlight       atomic.Int64
	closedInFlight atomic.Int64
	peak           atomic.Int64
	closedDone     chan struct{}

	mu      sync.Mutex
	spawns  []SpawnEvent
	results []runner.Result
}

func New(rc *runner.RunContext, opts ...Option) *Scheduler {
	s := &Scheduler{
		rc:         rc,
		tick:       defaultTick,
		transition: Overlap,
		ids:        &IDs{},
		stopCh:     make(chan struct{}),
		closedDone: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = rc.Log()
	return s
}

// Stop prevents any further spawn. In-flight users follow the run
// context's stop policy. Safe to call more than once and from any
// goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Active returns the number of users currently running.
func (s *Scheduler) Active() int { return int(s.inFlight.Load()) }

// Run validates profile, executes every phase in order, waits for the
// spawned users and summarizes the run. A *injection.ConfigurationError
// is returned before any user starts. Once the profile is valid a
// Summary is always returned, also when users failed or the run was
// stopped.
func (s *Scheduler) Run(ctx context.Context, sc *scenario.Scenario, profile injection.Profile) (*Summary, error) {
	if sc == nil {
		return nil, errors.New("scheduler: nil scenario")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, errors.New("scheduler: already run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	sum := &Summary{
		RunID:    uuid.NewString(),
		Scenario: sc.Name(),
		Start:    time.Now(),
	}
	log := s.log.WithFields(logrus.Fields{"run": sum.RunID, "scenario": sc.Name()})
	log.WithField("phases", len(profile.Phases)).Info("Starting injection")

	for i, phase := range profile.Phases {
		if runCtx.Err() != nil {
			break
		}
		if i > 0 && s.transition == Drain {
			if !s.drain(runCtx) {
				break
			}
		}

		log.WithFields(logrus.Fields{"phase": i, "profile": phase.String()}).Info("Phase started")
		if po, ok := s.rc.Sink.(metrics.PhaseObserver); ok {
			po.SetPhase(phase.String())
		}

		start := time.Now()
		switch ph := phase.(type) {
		case injection.OpenPhase:
			s.runOpen(runCtx, sc, i, ph, start)
		case injection.ClosedPhase:
			s.runClosed(runCtx, sc, i, ph, start)
		default:
			sleepUntil(runCtx, start.Add(phase.Length()))
		}
	}
	sum.Stopped = runCtx.Err() != nil

	s.awaitUsers(runCtx, cancel, log)

	sum.End = time.Now()
	s.summarize(sum)
	log.WithFields(logrus.Fields{
		"spawned":   sum.Spawned,
		"completed": sum.Completed,
		"failed":    sum.Failed,
		"aborted":   sum.Aborted,
	}).Info("Injection finished")
	return sum, nil
}

func (s *Scheduler) runOpen(ctx context.Context, sc *scenario.Scenario, idx int, ph injection.OpenPhase, start time.Time) {
	for off := range ph.Arrivals() {
		if !sleepUntil(ctx, start.Add(off)) {
			return
		}
		s.spawn(ctx, sc, idx, off, injection.ModelOpen)
	}
	sleepUntil(ctx, start.Add(ph.Length()))
}

func (s *Scheduler) runClosed(ctx context.Context, sc *scenario.Scenario, idx int, ph injection.ClosedPhase, start time.Time) {
	end := time.NewTimer(ph.Length())
	defer end.Stop()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		elapsed := time.Since(start)
		if elapsed >= ph.Length() {
			return
		}
		target := int64(ph.Target(elapsed))
		for s.closedInFlight.Load() < target {
			if ctx.Err() != nil {
				return
			}
			s.spawn(ctx, sc, idx, elapsed, injection.ModelClosed)
		}

		select {
		case <-ctx.Done():
			return
		case <-end.C:
			return
		case <-ticker.C:
		case <-s.closedDone:
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context, sc *scenario.Scenario, idx int, offset time.Duration, model injection.Model) {
	vu := runner.NewVirtualUser(s.ids.Next(), sc, s.rc)

	s.wg.Add(1)
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	closed := model == injection.ModelClosed
	if closed {
		s.closedInFlight.Add(1)
	}

	s.mu.Lock()
	s.spawns = append(s.spawns, SpawnEvent{VUID: vu.ID, Phase: idx, Offset: offset, Model: model, At: time.Now()})
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		res := vu.Run(ctx)

		s.mu.Lock()
		s.results = append(s.results, res)
		s.mu.Unlock()

		s.inFlight.Add(-1)
		if closed {
			s.closedInFlight.Add(-1)
			select {
			case s.closedDone <- struct{}{}:
			default:
			}
		}
	}()
}

// drain waits for every in-flight user. It returns false if ctx ended
// first.
func (s *Scheduler) drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// awaitUsers waits for the users still running after the last phase,
// stopping them once the graceful stop period is over.
func (s *Scheduler) awaitUsers(ctx context.Context, cancel context.CancelFunc, log logrus.FieldLogger) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.gracefulStop > 0 {
		timer := time.NewTimer(s.gracefulStop)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			log.WithField("inFlight", s.inFlight.Load()).Warn("Graceful stop period expired, stopping users")
			cancel()
		}
	}
	<-done
}

func (s *Scheduler) summarize(sum *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum.Spawns = append([]SpawnEvent{}, s.spawns...)
	sum.Results = append([]runner.Result{}, s.results...)
	sort.Slice(sum.Results, func(i, j int) bool { return sum.Results[i].VUID < sum.Results[j].VUID })
	sum.Spawned = len(sum.Spawns)
	sum.PeakConcurrency = int(s.peak.Load())

	for _, res := range sum.Results {
		switch res.State {
		case runner.StateCompleted:
			sum.Completed++
		case runner.StateFailed:
			sum.Failed++
		case runner.StateAborted:
			sum.Aborted++
		}
		for _, o := range res.Outcomes {
			sum.Requests = append(sum.Requests, o.Record(res.VUID, res.Scenario))
			if o.OK() {
				sum.RequestsOK++
			} else {
				sum.RequestsKO++
			}
		}
	}
	sort.SliceStable(sum.Requests, func(i, j int) bool {
		return sum.Requests[i].Timestamp.Before(sum.Requests[j].Timestamp)
	})
}

// sleepUntil waits for t. It returns false if ctx ended first.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
