package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/swarm/internal/engine"
	"github.com/wesleyorama2/swarm/internal/feeder"
	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/runner"
	"github.com/wesleyorama2/swarm/internal/scheduler"
	"github.com/wesleyorama2/swarm/internal/template"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields lists the invalid fields in the order they were found.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		fields = append(fields, err.Field)
	}
	return fields
}

// Validate validates the entire simulation file.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
// Map-keyed sections are checked in name order so the report is stable.
func (c *SimulationConfig) Validate() error {
	errs := &ValidationErrors{}

	if strings.TrimSpace(c.Name) == "" {
		errs.Add("name", "simulation name is required")
	}

	validateProtocol(&c.Protocol, errs)

	for _, name := range sortedKeys(c.Feeders) {
		validateFeeder(name, c.Feeders[name], errs)
	}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for _, name := range sortedKeys(c.Scenarios) {
		sc := c.Scenarios[name]
		field := fmt.Sprintf("scenarios.%s", name)
		if sc == nil || len(sc.Steps) == 0 {
			errs.Add(field+".steps", "at least one step is required")
			continue
		}
		validateSteps(field+".steps", sc.Steps, c, errs)
	}

	if len(c.Populations) == 0 {
		errs.Add("populations", "at least one population is required")
	}
	for i := range c.Populations {
		validatePopulation(i, &c.Populations[i], c, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateOptions(&c.Options, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateProtocol(p *ProtocolConfig, errs *ValidationErrors) {
	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("protocol.baseUrl", fmt.Sprintf("invalid base URL %q", p.BaseURL))
		}
	}
	if p.Timeout < 0 {
		errs.Add("protocol.timeout", "timeout must not be negative")
	}
	if p.MaxConnsPerHost < 0 {
		errs.Add("protocol.maxConnsPerHost", "must not be negative")
	}
	if p.MaxIdleConnsPerHost < 0 {
		errs.Add("protocol.maxIdleConnsPerHost", "must not be negative")
	}
}

func validateFeeder(name string, f *FeederConfig, errs *ValidationErrors) {
	field := fmt.Sprintf("feeders.%s", name)
	if f == nil {
		errs.Add(field, "feeder is empty")
		return
	}
	switch {
	case f.File == "" && len(f.Rows) == 0:
		errs.Add(field, "either file or rows is required")
	case f.File != "" && len(f.Rows) > 0:
		errs.Add(field, "file and rows are mutually exclusive")
	}
	if f.File != "" {
		if _, err := feederFormat(f); err != nil {
			errs.Add(field+".format", err.Error())
		}
	}
	if _, err := feeder.ParseStrategy(f.Strategy); err != nil {
		errs.Add(field+".strategy", err.Error())
	}
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodOptions: true,
}

func validateSteps(field string, steps []StepConfig, c *SimulationConfig, errs *ValidationErrors) {
	for i := range steps {
		validateStep(fmt.Sprintf("%s[%d]", field, i), &steps[i], c, errs)
	}
}

func validateStep(field string, st *StepConfig, c *SimulationConfig, errs *ValidationErrors) {
	if n := st.kinds(); n != 1 {
		errs.Add(field, fmt.Sprintf("exactly one step kind must be set, got %d", n))
		return
	}

	switch {
	case st.Request != nil:
		validateRequest(field+".request", st.Request, c, errs)
	case st.Pause != nil:
		p := st.Pause
		if p.Duration < 0 || p.Min < 0 || p.Max < 0 {
			errs.Add(field+".pause", "durations must not be negative")
		}
		if p.Duration != 0 && (p.Min != 0 || p.Max != 0) {
			errs.Add(field+".pause", "duration and min/max are mutually exclusive")
		}
		if p.Max != 0 && p.Max < p.Min {
			errs.Add(field+".pause.max", fmt.Sprintf("max %s is less than min %s", p.Max, p.Min))
		}
	case st.Feed != nil:
		f, ok := c.Feeders[st.Feed.Feeder]
		if !ok || f == nil {
			errs.Add(field+".feed.feeder", fmt.Sprintf("unknown feeder %q", st.Feed.Feeder))
		}
	case st.Repeat != nil:
		if st.Repeat.Times < 0 {
			errs.Add(field+".repeat.times", "times must not be negative")
		}
		validateSteps(field+".repeat.steps", st.Repeat.Steps, c, errs)
	case st.If != nil:
		validateIf(field+".if", st.If, c, errs)
	case st.Set != nil:
		for _, key := range sortedKeys(st.Set) {
			if strings.TrimSpace(key) == "" {
				errs.Add(field+".set", "empty session key")
			}
			if s, ok := st.Set[key].(string); ok {
				if _, err := template.Parse(s); err != nil {
					errs.Add(field+".set."+key, err.Error())
				}
			}
		}
	case st.Unset != nil:
		if len(st.Unset) == 0 {
			errs.Add(field+".unset", "at least one key is required")
		}
	case st.Group != nil:
		if strings.TrimSpace(st.Group.Name) == "" {
			errs.Add(field+".group.name", "group name is required")
		}
		validateSteps(field+".group.steps", st.Group.Steps, c, errs)
	case st.Once != nil:
		if strings.TrimSpace(st.Once.Flag) == "" {
			errs.Add(field+".once.flag", "flag is required")
		}
		if len(st.Once.Steps) == 0 {
			errs.Add(field+".once.steps", "at least one step is required")
		}
		validateSteps(field+".once.steps", st.Once.Steps, c, errs)
	}
}

func validateRequest(field string, r *RequestConfig, c *SimulationConfig, errs *ValidationErrors) {
	if !validMethods[r.Method] {
		errs.Add(field+".method", fmt.Sprintf("invalid HTTP method: %s", r.Method))
	}
	if strings.TrimSpace(r.URL) == "" {
		errs.Add(field+".url", "url is required")
	} else if strings.HasPrefix(r.URL, "/") && c.Protocol.BaseURL == "" {
		errs.Add(field+".url", "relative URL requires protocol.baseUrl")
	}
	if r.Body != "" && r.RawBody != "" {
		errs.Add(field+".body", "body and rawBody are mutually exclusive")
	}
	for _, tpl := range [][2]string{{"name", r.Name}, {"url", r.URL}, {"body", r.Body}} {
		if _, err := template.Parse(tpl[1]); err != nil {
			errs.Add(field+"."+tpl[0], err.Error())
		}
	}
	if r.Timeout < 0 {
		errs.Add(field+".timeout", "timeout must not be negative")
	}
	for i, cc := range r.Checks {
		if _, err := buildCheck(cc); err != nil {
			errs.Add(fmt.Sprintf("%s.checks[%d]", field, i), err.Error())
		}
	}
}

func validateIf(field string, c *IfConfig, sim *SimulationConfig, errs *ValidationErrors) {
	n := 0
	if c.Exists != "" {
		n++
	}
	if c.IsTrue != "" {
		n++
	}
	if c.Equals != nil {
		n++
		if c.Equals.Key == "" {
			errs.Add(field+".equals.key", "key is required")
		}
		if _, err := valueOf(c.Equals.Value); err != nil {
			errs.Add(field+".equals.value", err.Error())
		}
	}
	if n != 1 {
		errs.Add(field, "exactly one of exists, isTrue and equals must be set")
	}
	validateSteps(field+".then", c.Then, sim, errs)
	validateSteps(field+".else", c.Else, sim, errs)
}

func validatePopulation(i int, p *PopulationConfig, c *SimulationConfig, errs *ValidationErrors) {
	field := fmt.Sprintf("populations[%d]", i)
	if sc, ok := c.Scenarios[p.Scenario]; !ok || sc == nil {
		errs.Add(field+".scenario", fmt.Sprintf("unknown scenario %q", p.Scenario))
	}
	if len(p.Injection) == 0 {
		errs.Add(field+".injection", "at least one injection step is required")
	}
	for j, inj := range p.Injection {
		injField := fmt.Sprintf("%s.injection[%d]", field, j)
		ph, err := inj.phase()
		if err != nil {
			errs.Add(injField, err.Error())
			continue
		}
		var cfgErr *injection.ConfigurationError
		if err := injection.NewProfile(ph).Validate(); errors.As(err, &cfgErr) {
			for _, fe := range cfgErr.Errors {
				errs.Add(injField+strings.TrimPrefix(fe.Field, "phases[0]"), fe.Message)
			}
		}
	}
}

func validateThresholds(t *engine.Thresholds, errs *ValidationErrors) {
	validate := func(metric string, exprs []string) {
		for i, expr := range exprs {
			if err := engine.ValidateThreshold(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
	validate("responseTime", t.ResponseTime)
	validate("failedRequests", t.FailedRequests)
	validate("requests", t.Requests)
}

func validateOptions(o *OptionsConfig, errs *ValidationErrors) {
	if _, err := scheduler.ParsePhaseTransition(o.PhaseTransition); err != nil {
		errs.Add("options.phaseTransition", err.Error())
	}
	if _, err := runner.ParseStopPolicy(o.StopPolicy); err != nil {
		errs.Add("options.stopPolicy", err.Error())
	}
	if o.GracefulStop < 0 {
		errs.Add("options.gracefulStop", "must not be negative")
	}
	if o.Tick < 0 {
		errs.Add("options.tick", "must not be negative")
	}
	if o.MaxRPS < 0 {
		errs.Add("options.maxRps", "must not be negative")
	}
}

// kinds counts the step kinds that are set.
func (st *StepConfig) kinds() int {
	n := 0
	for _, set := range []bool{
		st.Request != nil, st.Pause != nil, st.Feed != nil, st.Repeat != nil, st.If != nil,
		st.Set != nil, st.Unset != nil, st.Group != nil, st.Once != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
