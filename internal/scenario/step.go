package scenario

import (
	"time"

	"github.com/wesleyorama2/swarm/internal/check"
	"github.com/wesleyorama2/swarm/internal/feeder"
	"github.com/wesleyorama2/swarm/internal/session"
	"github.com/wesleyorama2/swarm/internal/template"
)

// Step is one node of a scenario. The set of variants is closed:
// Request, Pause, Conditional, Repeat, SessionMutation, Feed and Group.
type Step interface {
	// StepName is used in logs and metrics.
	StepName() string
	step()
}

// Header is a request header whose value may contain placeholders.
type Header struct {
	Name  string
	Value *template.Template
}

// Request performs one HTTP exchange and evaluates its checks in order.
type Request struct {
	Name    *template.Template
	Method  string
	URL     *template.Template
	Headers []Header
	Body    *template.Template
	Checks  []check.Check
	// Timeout bounds this request only; zero uses the client timeout.
	Timeout time.Duration
	// Fatal ends the virtual user on a network error or failed check.
	Fatal bool
}

func (r *Request) StepName() string { return r.Name.String() }
func (*Request) step() {}

// Pause suspends the virtual user for Min, or for a uniformly random
// duration in [Min, Max) when Max > Min.
type Pause struct {
	Min time.Duration
	Max time.Duration
}

func (p *Pause) StepName() string { return "pause" }
func (*Pause) step() {}

// Predicate decides a Conditional from the current session.
type Predicate func(s *session.Session) bool

// Conditional runs Then when Predicate holds and Else otherwise.
type Conditional struct {
	Name      string
	Predicate Predicate
	Then      []Step
	Else      []Step
}

func (c *Conditional) StepName() string { return c.Name }
func (*Conditional) step() {}

// Repeat runs Body Times times. When Counter is set the 0-based iteration
// index is stored under that session key.
type Repeat struct {
	Times   int
	Counter string
	Body    []Step
}

func (r *Repeat) StepName() string { return "repeat" }
func (*Repeat) step() {}

// MutationFunc derives a new session. Returning an error fails the user.
type MutationFunc func(s *session.Session) (*session.Session, error)

// SessionMutation applies a pure function to the session.
type SessionMutation struct {
	Name string
	Fn   MutationFunc
}

func (m *SessionMutation) StepName() string { return m.Name }
func (*SessionMutation) step() {}

// Feed draws one row from Feeder and binds Columns (all columns when
// empty) into the session as strings.
type Feed struct {
	Feeder  *feeder.Feeder
	Columns []string
}

func (f *Feed) StepName() string { return "feed(" + f.Feeder.Name() + ")" }
func (*Feed) step() {}

// Group is a named sub-chain.
type Group struct {
	Name  string
	Steps []Step
}

func (g *Group) StepName() string { return g.Name }
func (*Group) step() {}

// Exists holds when key is set.
func Exists(key string) Predicate {
	return func(s *session.Session) bool { return s.Contains(key) }
}

// IsTrue holds when key is set to Bool(true).
func IsTrue(key string) Predicate {
	return func(s *session.Session) bool {
		b, err := s.Bool(key)
		return err == nil && b
	}
}

// Equals holds when key is set to a value equal to v.
func Equals(key string, v session.Value) Predicate {
	return func(s *session.Session) bool {
		got, ok := s.Get(key)
		return ok && got.Equal(v)
	}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return func(s *session.Session) bool { return !p(s) }
}
