// Package scenario defines the step graph a virtual user walks and the
// builders that produce it.
//
// Scenarios are immutable once built. A Chain is a reusable, immutable
// sequence of steps; chains are composed into a scenario with a Builder:
//
//	auth := scenario.Once("authenticated", scenario.NewChain().Exec(
//		scenario.HTTP("Authenticate").Post("/api/authenticate").
//			Body(`{"username":"admin","password":"admin"}`).
//			Check(check.JMESPath("token").SaveAs("jwt")),
//	))
//	sc, err := scenario.NewBuilder("browse").
//		Protocol(scenario.Protocol{BaseURL: baseURL}).
//		Exec(auth, browse).
//		Build()
package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wesleyorama2/swarm/internal/template"
)

// Protocol holds settings shared by every request of a scenario.
type Protocol struct {
	BaseURL string
	Headers []Header
}

// ResolveURL joins a relative URL onto the base URL. Absolute URLs are
// returned unchanged.
func (p Protocol) ResolveURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || p.BaseURL == "" {
		return u
	}
	if u == "" {
		return p.BaseURL
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(u, "/")
}

// WithHeader returns a copy of p with a static default header added.
func (p Protocol) WithHeader(name, value string) Protocol {
	p.Headers = append(append([]Header{}, p.Headers...), Header{Name: name, Value: template.Literal(value)})
	return p
}

// Scenario is a named, immutable step sequence.
type Scenario struct {
	name     string
	protocol Protocol
	steps    []Step
}

func (s *Scenario) Name() string { return s.name }

func (s *Scenario) Protocol() Protocol { return s.protocol }

// Steps returns a copy of the top-level steps.
func (s *Scenario) Steps() []Step { return append([]Step{}, s.steps...) }

// Builder assembles a Scenario.
type Builder struct {
	name     string
	protocol Protocol
	chain    Chain
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

func (b *Builder) Protocol(p Protocol) *Builder {
	b.protocol = p
	return b
}

// Exec appends requests or chains.
func (b *Builder) Exec(items ...Buildable) *Builder {
	b.chain = b.chain.Exec(items...)
	return b
}

// Build validates the graph and returns the immutable scenario.
func (b *Builder) Build() (*Scenario, error) {
	var errs []error
	if strings.TrimSpace(b.name) == "" {
		errs = append(errs, errors.New("scenario name is required"))
	}
	steps, err := b.chain.Build()
	if err != nil {
		errs = append(errs, err)
	}
	if b.protocol.BaseURL == "" {
		walk(steps, func(st Step) {
			if r, ok := st.(*Request); ok && strings.HasPrefix(r.URL.String(), "/") {
				errs = append(errs, fmt.Errorf("request %q uses relative URL %q but no base URL is set", r.Name, r.URL))
			}
		})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("scenario %s: %w", b.name, errors.Join(errs...))
	}
	return &Scenario{name: b.name, protocol: b.protocol, steps: steps}, nil
}

// walk visits every step, depth first.
func walk(steps []Step, fn func(Step)) {
	for _, st := range steps {
		fn(st)
		switch s := st.(type) {
		case *Conditional:
			walk(s.Then, fn)
			walk(s.Else, fn)
		case *Repeat:
			walk(s.Body, fn)
		case *Group:
			walk(s.Steps, fn)
		}
	}
}

// CountRequests returns how many Request steps the scenario declares,
// counting nested ones once.
func (s *Scenario) CountRequests() int {
	n := 0
	walk(s.steps, func(st Step) {
		if _, ok := st.(*Request); ok {
			n++
		}
	})
	return n
}
