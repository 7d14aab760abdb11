// Package runner executes scenarios for individual virtual users.
package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/rate"
)

// StopPolicy decides what happens to an in-flight request when a run stops.
type StopPolicy int

const (
	// FinishStep lets the in-flight request complete and be recorded; the
	// user then ends as aborted before its next step.
	FinishStep StopPolicy = iota
	// AbortNow cancels the in-flight request. It is not recorded.
	AbortNow
)

func (p StopPolicy) String() string {
	switch p {
	case AbortNow:
		return "abortNow"
	default:
		return "finishStep"
	}
}

// ParseStopPolicy accepts "finishStep" (or "") and "abortNow".
func ParseStopPolicy(s string) (StopPolicy, error) {
	switch strings.ToLower(s) {
	case "", "finishstep", "finish-step":
		return FinishStep, nil
	case "abortnow", "abort-now":
		return AbortNow, nil
	default:
		return FinishStep, fmt.Errorf("unknown stop policy %q", s)
	}
}

// RunContext carries the collaborators shared by every virtual user of a
// run. It replaces global state: two runs with different contexts do not
// interfere.
type RunContext struct {
	Client     swarmhttp.Sender
	Sink       metrics.Sink
	Logger     logrus.FieldLogger
	Throttle   *rate.LeakyBucket
	StopPolicy StopPolicy
	// Abort, when closed, cancels in-flight requests under either stop
	// policy. The request is not recorded.
	Abort <-chan struct{}
}

func (rc *RunContext) aborted() bool {
	if rc.Abort == nil {
		return false
	}
	select {
	case <-rc.Abort:
		return true
	default:
		return false
	}
}

func (rc *RunContext) sink() metrics.Sink {
	if rc.Sink == nil {
		return metrics.Discard
	}
	return rc.Sink
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Log returns the configured logger, or one that discards everything.
func (rc *RunContext) Log() logrus.FieldLogger {
	if rc.Logger == nil {
		return discardLogger
	}
	return rc.Logger
}
