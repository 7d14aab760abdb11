// Package metrics receives the outcomes virtual users emit and aggregates
// them.
//
// Every collector implements Sink and is safe for concurrent use: many
// virtual users record into the same sink at once.
package metrics

import (
	"time"
)

// Status is the verdict of a recorded request.
type Status string

const (
	StatusOK Status = "OK"
	StatusKO Status = "KO"
)

// RequestRecord is one executed (or failed-to-build) request.
type RequestRecord struct {
	VUID       int           `json:"vuId"`
	Scenario   string        `json:"scenario"`
	Step       string        `json:"step"`
	Status     Status        `json:"status"`
	StatusCode int           `json:"statusCode,omitempty"`
	Latency    time.Duration `json:"latency"`
	Timestamp  time.Time     `json:"timestamp"`
	Bytes      int64         `json:"bytes"`
	Error      string        `json:"error,omitempty"`
	// NotSent marks a KO that never reached the wire, such as an
	// unresolved variable. It has no latency.
	NotSent bool `json:"notSent,omitempty"`
}

// UserEvent is a virtual user lifecycle transition.
type UserEvent string

const (
	UserStarted   UserEvent = "started"
	UserCompleted UserEvent = "completed"
	UserFailed    UserEvent = "failed"
	UserAborted   UserEvent = "aborted"
)

// Terminal reports whether the event ends the user's life.
func (e UserEvent) Terminal() bool {
	return e == UserCompleted || e == UserFailed || e == UserAborted
}

// UserRecord reports a lifecycle transition. Every started user produces
// exactly one terminal record.
type UserRecord struct {
	VUID      int       `json:"vuId"`
	Scenario  string    `json:"scenario"`
	Event     UserEvent `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Sink receives outcomes.
type Sink interface {
	RecordRequest(r RequestRecord)
	RecordUser(u UserRecord)
}

// PhaseObserver is implemented by sinks that track injection phases.
type PhaseObserver interface {
	SetPhase(name string)
}

type fanout []Sink

// Fanout forwards every record to each of sinks in order. Nil sinks are
// skipped.
func Fanout(sinks ...Sink) Sink {
	var f fanout
	for _, s := range sinks {
		if s != nil {
			f = append(f, s)
		}
	}
	return f
}

func (f fanout) RecordRequest(r RequestRecord) {
	for _, s := range f {
		s.RecordRequest(r)
	}
}

func (f fanout) RecordUser(u UserRecord) {
	for _, s := range f {
		s.RecordUser(u)
	}
}

func (f fanout) SetPhase(name string) {
	for _, s := range f {
		if po, ok := s.(PhaseObserver); ok {
			po.SetPhase(name)
		}
	}
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) RecordRequest(RequestRecord) {}
func (discard) RecordUser(UserRecord) {}
