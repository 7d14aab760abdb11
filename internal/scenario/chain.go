package scenario

import (
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/swarm/internal/feeder"
	"github.com/wesleyorama2/swarm/internal/session"
	"github.com/wesleyorama2/swarm/internal/template"
)

// Buildable is anything that expands into steps: a Chain or a request.
type Buildable interface {
	Build() ([]Step, error)
}

// Chain is an immutable sequence of steps. Every method returns a new
// Chain, so a chain value can be reused in several scenarios.
type Chain struct {
	steps []Step
	errs  []error
}

func NewChain() Chain { return Chain{} }

func (c Chain) with(st Step, err error) Chain {
	next := Chain{
		steps: append(append([]Step{}, c.steps...), st),
		errs:  append([]error{}, c.errs...),
	}
	if err != nil {
		next.errs = append(next.errs, err)
	}
	return next
}

// Build returns the steps or every construction error found.
func (c Chain) Build() ([]Step, error) {
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	return append([]Step{}, c.steps...), nil
}

func buildBody(op string, b Buildable) ([]Step, error) {
	if b == nil {
		return nil, fmt.Errorf("%s: nil body", op)
	}
	return b.Build()
}

// Exec appends requests or other chains.
func (c Chain) Exec(items ...Buildable) Chain {
	next := Chain{steps: append([]Step{}, c.steps...), errs: append([]error{}, c.errs...)}
	for _, item := range items {
		steps, err := buildBody("exec", item)
		if err != nil {
			next.errs = append(next.errs, err)
			continue
		}
		next.steps = append(next.steps, steps...)
	}
	return next
}

// Pause appends a fixed pause.
func (c Chain) Pause(d time.Duration) Chain {
	var err error
	if d < 0 {
		err = fmt.Errorf("pause: negative duration %v", d)
	}
	return c.with(&Pause{Min: d, Max: d}, err)
}

// PauseRange appends a pause drawn uniformly from [min, max).
func (c Chain) PauseRange(min, max time.Duration) Chain {
	var err error
	if min < 0 || max < min {
		err = fmt.Errorf("pause: invalid range %v..%v", min, max)
	}
	return c.with(&Pause{Min: min, Max: max}, err)
}

// DoIf runs then when p holds.
func (c Chain) DoIf(p Predicate, then Buildable) Chain {
	return c.DoIfOrElse(p, then, NewChain())
}

// DoIfOrElse runs then when p holds and otherwise.
func (c Chain) DoIfOrElse(p Predicate, then, otherwise Buildable) Chain {
	var errs []error
	if p == nil {
		errs = append(errs, errors.New("doIf: nil predicate"))
	}
	thenSteps, err := buildBody("doIf", then)
	if err != nil {
		errs = append(errs, err)
	}
	elseSteps, err := buildBody("doIf", otherwise)
	if err != nil {
		errs = append(errs, err)
	}
	return c.with(&Conditional{Name: "doIf", Predicate: p, Then: thenSteps, Else: elseSteps}, errors.Join(errs...))
}

// Repeat runs body n times.
func (c Chain) Repeat(n int, body Buildable) Chain {
	return c.RepeatCounter(n, "", body)
}

// RepeatCounter runs body n times, exposing the 0-based index under counter.
func (c Chain) RepeatCounter(n int, counter string, body Buildable) Chain {
	var errs []error
	if n < 0 {
		errs = append(errs, fmt.Errorf("repeat: negative count %d", n))
	}
	steps, err := buildBody("repeat", body)
	if err != nil {
		errs = append(errs, err)
	}
	return c.with(&Repeat{Times: n, Counter: counter, Body: steps}, errors.Join(errs...))
}

// Group appends a named sub-chain.
func (c Chain) Group(name string, body Buildable) Chain {
	steps, err := buildBody("group("+name+")", body)
	return c.with(&Group{Name: name, Steps: steps}, err)
}

// Feed draws a row from f and binds the given columns, or all of them.
func (c Chain) Feed(f *feeder.Feeder, columns ...string) Chain {
	if f == nil {
		return c.with(&Feed{Feeder: nil}, errors.New("feed: nil feeder"))
	}
	var errs []error
	for _, col := range columns {
		if !f.HasColumn(col) {
			errs = append(errs, fmt.Errorf("feed(%s): unknown column %q", f.Name(), col))
		}
	}
	return c.with(&Feed{Feeder: f, Columns: append([]string{}, columns...)}, errors.Join(errs...))
}

// Mutate appends a session mutation.
func (c Chain) Mutate(name string, fn MutationFunc) Chain {
	var err error
	if fn == nil {
		err = fmt.Errorf("mutation %q: nil function", name)
	}
	return c.with(&SessionMutation{Name: name, Fn: fn}, err)
}

// Set binds key to a constant value.
func (c Chain) Set(key string, v session.Value) Chain {
	return c.Mutate("set("+key+")", func(s *session.Session) (*session.Session, error) {
		return s.Set(key, v), nil
	})
}

// SetTemplate binds key to expr resolved against the session.
func (c Chain) SetTemplate(key, expr string) Chain {
	tpl, err := template.Parse(expr)
	if err != nil {
		return c.with(&SessionMutation{Name: "set(" + key + ")"}, err)
	}
	return c.Mutate("set("+key+")", func(s *session.Session) (*session.Session, error) {
		v, err := tpl.ResolveValue(s)
		if err != nil {
			return nil, err
		}
		return s.Set(key, v), nil
	})
}

// Unset removes keys from the session.
func (c Chain) Unset(keys ...string) Chain {
	return c.Mutate("unset", func(s *session.Session) (*session.Session, error) {
		return s.Remove(keys...), nil
	})
}

// Once runs body the first time it is reached in a virtual user's life
// and then sets flag to true. While flag is true the chain is skipped.
// Placing it at the head of every chain that needs a login token keeps
// the login to one request per user.
func Once(flag string, body Buildable) Chain {
	steps, err := buildBody("once("+flag+")", body)
	inner := Chain{steps: steps}
	if err != nil {
		inner.errs = []error{err}
	}
	inner = inner.Set(flag, session.Bool(true))
	return NewChain().DoIf(Not(IsTrue(flag)), inner)
}
