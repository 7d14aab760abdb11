package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/session"
)

// State represents the lifecycle state of a virtual user.
type State int32

const (
	// StatePending indicates the user has been created but not started.
	StatePending State = iota
	// StateRunning indicates the user is executing its scenario.
	StateRunning
	// StateCompleted indicates every step ran.
	StateCompleted
	// StateFailed indicates a step failed the user.
	StateFailed
	// StateAborted indicates a run stop ended the user early.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the user has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

func (s State) event() metrics.UserEvent {
	switch s {
	case StateCompleted:
		return metrics.UserCompleted
	case StateFailed:
		return metrics.UserFailed
	case StateAborted:
		return metrics.UserAborted
	default:
		return metrics.UserStarted
	}
}

// Result is what a finished virtual user leaves behind.
type Result struct {
	VUID     int              `json:"vuId"`
	Scenario string           `json:"scenario"`
	State    State            `json:"state"`
	Session  *session.Session `json:"-"`
	Outcomes []Outcome        `json:"-"`
	Err      error            `json:"-"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
}

// Duration is how long the user ran.
func (r Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// VirtualUser runs a scenario once, from a fresh session, on its own
// goroutine.
type VirtualUser struct {
	ID       int
	Scenario *scenario.Scenario

	rc     *RunContext
	state  atomic.Int32
	doneCh chan struct{}
	result Result
}

func NewVirtualUser(id int, sc *scenario.Scenario, rc *RunContext) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		Scenario: sc,
		rc:       rc,
		doneCh:   make(chan struct{}),
	}
}

// GetState returns the current state.
func (vu *VirtualUser) GetState() State {
	return State(vu.state.Load())
}

// Done is closed once the user reaches a terminal state.
func (vu *VirtualUser) Done() <-chan struct{} { return vu.doneCh }

// Run executes the scenario and blocks until the user finishes. The
// terminal state is reported to the sink exactly once; calling Run again
// waits for and returns the first run's result.
func (vu *VirtualUser) Run(ctx context.Context) Result {
	if !vu.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		<-vu.doneCh
		return vu.result
	}

	sink := vu.rc.sink()
	name := vu.Scenario.Name()
	start := time.Now()
	sink.RecordUser(metrics.UserRecord{VUID: vu.ID, Scenario: name, Event: metrics.UserStarted, Timestamp: start})

	sess, outcomes, err := NewExecutor(vu.rc, vu.ID).Execute(ctx, vu.Scenario, session.New(vu.ID, name))

	state := StateCompleted
	switch {
	case errors.Is(err, ErrAborted):
		state = StateAborted
	case err != nil:
		state = StateFailed
		vu.rc.Log().WithFields(logrus.Fields{"vu": vu.ID, "scenario": name}).WithError(err).Warn("virtual user failed")
	}

	end := time.Now()
	vu.result = Result{
		VUID:     vu.ID,
		Scenario: name,
		State:    state,
		Session:  sess,
		Outcomes: outcomes,
		Err:      err,
		Start:    start,
		End:      end,
	}
	rec := metrics.UserRecord{VUID: vu.ID, Scenario: name, Event: state.event(), Timestamp: end}
	if err != nil {
		rec.Error = err.Error()
	}
	sink.RecordUser(rec)

	vu.state.Store(int32(state))
	close(vu.doneCh)
	return vu.result
}
