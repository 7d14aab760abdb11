package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesleyorama2/swarm/internal/check"
	"github.com/wesleyorama2/swarm/internal/engine"
	"github.com/wesleyorama2/swarm/internal/feeder"
	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/runner"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/scheduler"
	"github.com/wesleyorama2/swarm/internal/session"
)

// Build validates cfg and turns it into a runnable simulation. Feeder
// files are resolved relative to baseDir. Feeders are loaded eagerly and
// shared by every scenario that references them.
func Build(cfg *SimulationConfig, baseDir string) (*engine.Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &builder{feeders: make(map[string]*feeder.Feeder, len(cfg.Feeders))}
	for _, name := range sortedKeys(cfg.Feeders) {
		f, err := newFeeder(name, cfg.Feeders[name], baseDir)
		if err != nil {
			return nil, err
		}
		b.feeders[name] = f
	}

	protocol := scenario.Protocol{BaseURL: cfg.Protocol.BaseURL}
	for _, name := range sortedKeys(cfg.Protocol.Headers) {
		protocol = protocol.WithHeader(name, cfg.Protocol.Headers[name])
	}

	scenarios := make(map[string]*scenario.Scenario, len(cfg.Scenarios))
	var errs []error
	for _, name := range sortedKeys(cfg.Scenarios) {
		chain, err := b.chain(cfg.Scenarios[name].Steps)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", name, err))
			continue
		}
		sc, err := scenario.NewBuilder(name).Protocol(protocol).Exec(chain).Build()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		scenarios[name] = sc
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sim := &engine.Simulation{
		Name:        cfg.Name,
		Description: cfg.Description,
		Thresholds:  cfg.Thresholds,
	}
	for _, p := range cfg.Populations {
		var phases []injection.Phase
		for _, inj := range p.Injection {
			ph, err := inj.phase()
			if err != nil {
				return nil, err
			}
			phases = append(phases, ph)
		}
		sim.Populations = append(sim.Populations, engine.Population{
			Scenario: scenarios[p.Scenario],
			Profile:  injection.NewProfile(phases...),
		})
	}

	transition, _ := scheduler.ParsePhaseTransition(cfg.Options.PhaseTransition)
	sim.Options = engine.Options{
		Sequential:      cfg.Options.Sequential,
		PhaseTransition: transition,
		GracefulStop:    time.Duration(cfg.Options.GracefulStop),
		Tick:            time.Duration(cfg.Options.Tick),
		MaxRPS:          cfg.Options.MaxRPS,
	}
	return sim, nil
}

// HTTPConfig returns the client settings of the protocol section.
func (c *SimulationConfig) HTTPConfig() swarmhttp.Config {
	cfg := swarmhttp.DefaultConfig()
	cfg.Timeout = c.Protocol.Timeout.GetDuration(cfg.Timeout)
	if c.Protocol.MaxConnsPerHost > 0 {
		cfg.MaxConnsPerHost = c.Protocol.MaxConnsPerHost
	}
	if c.Protocol.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = c.Protocol.MaxIdleConnsPerHost
	}
	cfg.InsecureSkipVerify = c.Protocol.InsecureSkipVerify
	cfg.FollowRedirects = !c.Protocol.DisableRedirects
	return cfg
}

// StopPolicy returns the configured stop policy, FinishStep by default.
func (c *SimulationConfig) StopPolicy() runner.StopPolicy {
	p, _ := runner.ParseStopPolicy(c.Options.StopPolicy)
	return p
}

type builder struct {
	feeders map[string]*feeder.Feeder
}

func (b *builder) chain(steps []StepConfig) (scenario.Chain, error) {
	ch := scenario.NewChain()
	for i := range steps {
		st := &steps[i]
		switch {
		case st.Request != nil:
			rb, err := buildRequest(st.Request)
			if err != nil {
				return ch, err
			}
			ch = ch.Exec(rb)

		case st.Pause != nil:
			p := st.Pause
			switch {
			case p.Duration != 0:
				ch = ch.Pause(time.Duration(p.Duration))
			case p.Max > p.Min:
				ch = ch.PauseRange(time.Duration(p.Min), time.Duration(p.Max))
			default:
				ch = ch.Pause(time.Duration(p.Min))
			}

		case st.Feed != nil:
			ch = ch.Feed(b.feeders[st.Feed.Feeder], st.Feed.Columns...)

		case st.Repeat != nil:
			body, err := b.chain(st.Repeat.Steps)
			if err != nil {
				return ch, err
			}
			ch = ch.RepeatCounter(st.Repeat.Times, st.Repeat.Counter, body)

		case st.If != nil:
			pred, err := predicate(st.If)
			if err != nil {
				return ch, err
			}
			then, err := b.chain(st.If.Then)
			if err != nil {
				return ch, err
			}
			otherwise, err := b.chain(st.If.Else)
			if err != nil {
				return ch, err
			}
			ch = ch.DoIfOrElse(pred, then, otherwise)

		case st.Set != nil:
			for _, key := range sortedKeys(st.Set) {
				if s, ok := st.Set[key].(string); ok && strings.Contains(s, "#{") {
					ch = ch.SetTemplate(key, s)
					continue
				}
				v, err := valueOf(st.Set[key])
				if err != nil {
					return ch, fmt.Errorf("set %s: %w", key, err)
				}
				ch = ch.Set(key, v)
			}

		case st.Unset != nil:
			ch = ch.Unset(st.Unset...)

		case st.Group != nil:
			body, err := b.chain(st.Group.Steps)
			if err != nil {
				return ch, err
			}
			ch = ch.Group(st.Group.Name, body)

		case st.Once != nil:
			body, err := b.chain(st.Once.Steps)
			if err != nil {
				return ch, err
			}
			ch = ch.Exec(scenario.Once(st.Once.Flag, body))
		}
	}
	return ch, nil
}

func buildRequest(r *RequestConfig) (*scenario.RequestBuilder, error) {
	rb := scenario.HTTP(r.Name).Method(r.Method, r.URL)
	for _, name := range sortedKeys(r.Headers) {
		rb = rb.Header(name, r.Headers[name])
	}
	switch {
	case r.Body != "":
		rb = rb.Body(r.Body)
	case r.RawBody != "":
		rb = rb.RawBody(r.RawBody)
	}
	if r.Timeout > 0 {
		rb = rb.Timeout(time.Duration(r.Timeout))
	}
	if r.Fatal {
		rb = rb.Fatal()
	}
	for i, cc := range r.Checks {
		c, err := buildCheck(cc)
		if err != nil {
			return nil, fmt.Errorf("request %q check %d: %w", r.Name, i, err)
		}
		rb = rb.Check(c)
	}
	return rb, nil
}

func buildCheck(cc CheckConfig) (check.Check, error) {
	var c check.Check
	n := 0
	pick := func(next check.Check) {
		c = next
		n++
	}
	if cc.Status {
		pick(check.Status())
	}
	if cc.Header != "" {
		pick(check.Header(cc.Header))
	}
	if cc.JSONPath != "" {
		pick(check.JSONPath(cc.JSONPath))
	}
	if cc.JMESPath != "" {
		pick(check.JMESPath(cc.JMESPath))
	}
	if cc.Regex != "" {
		pick(check.Regex(cc.Regex))
	}
	if cc.BodyString {
		pick(check.BodyString())
	}
	if cc.JSONSchema != "" {
		pick(check.JSONSchema(cc.JSONSchema))
	}
	if n != 1 {
		return check.Check{}, fmt.Errorf("exactly one extractor must be set, got %d", n)
	}

	switch strings.ToLower(cc.As) {
	case "":
	case "string":
		c = c.OfString()
	case "int":
		c = c.OfInt()
	case "float":
		c = c.OfFloat()
	case "bool":
		c = c.OfBool()
	case "list":
		c = c.OfList()
	case "map":
		c = c.OfMap()
	default:
		return check.Check{}, fmt.Errorf("unknown conversion %q", cc.As)
	}

	validators := 0
	if cc.Is != nil {
		validators++
		if s, ok := cc.Is.(string); ok && strings.Contains(s, "#{") {
			c = c.IsTemplate(s)
		} else {
			v, err := valueOf(cc.Is)
			if err != nil {
				return check.Check{}, fmt.Errorf("is: %w", err)
			}
			c = c.Is(v)
		}
	}
	if len(cc.In) > 0 {
		validators++
		values := make([]session.Value, 0, len(cc.In))
		for _, raw := range cc.In {
			v, err := valueOf(raw)
			if err != nil {
				return check.Check{}, fmt.Errorf("in: %w", err)
			}
			values = append(values, v)
		}
		c = c.In(values...)
	}
	if cc.Between != nil {
		validators++
		if len(cc.Between) != 2 || cc.Between[0] > cc.Between[1] {
			return check.Check{}, fmt.Errorf("between needs [low, high], got %v", cc.Between)
		}
		c = c.InRange(cc.Between[0], cc.Between[1])
	}
	if cc.NotExists {
		validators++
		c = c.NotExists()
	}
	if validators > 1 {
		return check.Check{}, fmt.Errorf("at most one of is, in, between and notExists may be set")
	}

	if cc.SaveAs != "" {
		c = c.SaveAs(cc.SaveAs)
	}
	if cc.Fatal {
		c = c.Fatal()
	}
	return c, c.Err()
}

func predicate(c *IfConfig) (scenario.Predicate, error) {
	var p scenario.Predicate
	switch {
	case c.Exists != "":
		p = scenario.Exists(c.Exists)
	case c.IsTrue != "":
		p = scenario.IsTrue(c.IsTrue)
	case c.Equals != nil:
		v, err := valueOf(c.Equals.Value)
		if err != nil {
			return nil, err
		}
		p = scenario.Equals(c.Equals.Key, v)
	default:
		return nil, errors.New("if: no predicate")
	}
	if c.Not {
		p = scenario.Not(p)
	}
	return p, nil
}

// valueOf converts a decoded YAML or JSON value.
func valueOf(raw interface{}) (session.Value, error) {
	return session.FromAny(raw)
}

func (inj InjectionConfig) phase() (injection.Phase, error) {
	var phases []injection.Phase
	if inj.AtOnceUsers != nil {
		phases = append(phases, injection.AtOnceUsers{Users: *inj.AtOnceUsers})
	}
	if inj.NothingFor != nil {
		phases = append(phases, injection.NothingFor{Duration: time.Duration(*inj.NothingFor)})
	}
	if c := inj.RampUsers; c != nil {
		phases = append(phases, injection.RampUsers{Users: c.Users, During: time.Duration(c.During)})
	}
	if c := inj.ConstantUsersPerSec; c != nil {
		phases = append(phases, injection.ConstantUsersPerSec{Rate: c.Rate, During: time.Duration(c.During)})
	}
	if c := inj.RampUsersPerSec; c != nil {
		phases = append(phases, injection.RampUsersPerSec{From: c.From, To: c.To, During: time.Duration(c.During)})
	}
	if c := inj.ConstantConcurrentUsers; c != nil {
		phases = append(phases, injection.ConstantConcurrentUsers{Users: c.Users, During: time.Duration(c.During)})
	}
	if c := inj.RampConcurrentUsers; c != nil {
		phases = append(phases, injection.RampConcurrentUsers{From: c.From, To: c.To, During: time.Duration(c.During)})
	}
	if len(phases) != 1 {
		return nil, fmt.Errorf("exactly one injection kind must be set, got %d", len(phases))
	}
	return phases[0], nil
}

func feederFormat(f *FeederConfig) (string, error) {
	format := strings.ToLower(f.Format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(f.File)), ".")
	}
	switch format {
	case "csv", "tsv", "json":
		return format, nil
	}
	return "", fmt.Errorf("unsupported feeder format %q", format)
}

func newFeeder(name string, f *FeederConfig, baseDir string) (*feeder.Feeder, error) {
	strategy, err := feeder.ParseStrategy(f.Strategy)
	if err != nil {
		return nil, err
	}
	if len(f.Rows) > 0 {
		rows := make([]feeder.Row, 0, len(f.Rows))
		for _, r := range f.Rows {
			rows = append(rows, feeder.Row(r))
		}
		return feeder.New(name, feeder.Inline(rows...), strategy)
	}

	path := f.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	format, err := feederFormat(f)
	if err != nil {
		return nil, err
	}
	var src feeder.DataSource
	switch format {
	case "csv":
		src = feeder.CSVFile(path)
	case "tsv":
		src = feeder.TSVFile(path)
	case "json":
		src = feeder.JSONFile(path)
	}
	return feeder.New(name, src, strategy)
}
