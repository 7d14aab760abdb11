// Package config provides the YAML/JSON simulation file format.
//
// A simulation file declares a protocol, named feeders, named scenarios
// built from steps, and the populations that inject those scenarios:
//
//	name: "Demostore API"
//	protocol:
//	  baseUrl: "http://localhost:8080"
//	  headers:
//	    Accept: application/json
//	feeders:
//	  categories:
//	    file: data/categories.csv
//	    strategy: random
//	scenarios:
//	  browse:
//	    steps:
//	      - feed: {feeder: categories}
//	      - request:
//	          name: "List products"
//	          url: "/api/product?category=#{categoryId}"
//	          checks:
//	            - jmesPath: "[0].id"
//	              saveAs: productId
//	      - pause: {min: 1s, max: 3s}
//	populations:
//	  - scenario: browse
//	    injection:
//	      - nothingFor: 5s
//	      - rampUsers: {users: 10, during: 20s}
package config

import (
	"time"

	"github.com/wesleyorama2/swarm/internal/engine"
)

// SimulationConfig is the root of a simulation file.
type SimulationConfig struct {
	// Name identifies the simulation in logs and results
	Name string `json:"name" yaml:"name"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Protocol holds settings shared by every scenario
	Protocol ProtocolConfig `json:"protocol" yaml:"protocol"`

	// Feeders are data sources referenced by name from feed steps
	Feeders map[string]*FeederConfig `json:"feeders,omitempty" yaml:"feeders,omitempty"`

	// Scenarios are step sequences referenced by name from populations
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Populations inject scenarios with an injection profile
	Populations []PopulationConfig `json:"populations" yaml:"populations"`

	// Thresholds define pass/fail criteria
	Thresholds *engine.Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Options OptionsConfig `json:"options,omitempty" yaml:"options,omitempty"`
}

// ProtocolConfig configures the HTTP protocol.
type ProtocolConfig struct {
	// BaseURL is joined to every relative request URL
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Headers are sent with every request unless the request overrides them
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout bounds a whole exchange (default 30s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	MaxConnsPerHost     int  `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	MaxIdleConnsPerHost int  `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	InsecureSkipVerify  bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	DisableRedirects    bool `json:"disableRedirects,omitempty" yaml:"disableRedirects,omitempty"`
}

// FeederConfig declares a feeder. Exactly one of File and Rows is set.
type FeederConfig struct {
	// File is a CSV, TSV or JSON file, relative to the simulation file
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Format overrides the format guessed from the file extension
	// (csv, tsv or json)
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Rows are inline records
	Rows []map[string]string `json:"rows,omitempty" yaml:"rows,omitempty"`

	// Strategy is queue (default), circular, random or shuffle
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// ScenarioConfig declares one scenario.
type ScenarioConfig struct {
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig is one step. Exactly one field is set.
type StepConfig struct {
	Request *RequestConfig         `json:"request,omitempty" yaml:"request,omitempty"`
	Pause   *PauseConfig           `json:"pause,omitempty" yaml:"pause,omitempty"`
	Feed    *FeedConfig            `json:"feed,omitempty" yaml:"feed,omitempty"`
	Repeat  *RepeatConfig          `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	If      *IfConfig              `json:"if,omitempty" yaml:"if,omitempty"`
	Set     map[string]interface{} `json:"set,omitempty" yaml:"set,omitempty"`
	Unset   []string               `json:"unset,omitempty" yaml:"unset,omitempty"`
	Group   *GroupConfig           `json:"group,omitempty" yaml:"group,omitempty"`
	Once    *OnceConfig            `json:"once,omitempty" yaml:"once,omitempty"`
}

// RequestConfig declares an HTTP request. Name, URL, header values and
// body may contain #{name} placeholders.
type RequestConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// RawBody is sent without placeholder expansion
	RawBody string `json:"rawBody,omitempty" yaml:"rawBody,omitempty"`

	Checks  []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
	Timeout Duration      `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Fatal ends the virtual user when the request fails
	Fatal bool `json:"fatal,omitempty" yaml:"fatal,omitempty"`
}

// CheckConfig declares a check: one extractor, an optional conversion,
// at most one validator and an optional saveAs key.
type CheckConfig struct {
	// Extractors
	Status     bool   `json:"status,omitempty" yaml:"status,omitempty"`
	Header     string `json:"header,omitempty" yaml:"header,omitempty"`
	JSONPath   string `json:"jsonPath,omitempty" yaml:"jsonPath,omitempty"`
	JMESPath   string `json:"jmesPath,omitempty" yaml:"jmesPath,omitempty"`
	Regex      string `json:"regex,omitempty" yaml:"regex,omitempty"`
	BodyString bool   `json:"bodyString,omitempty" yaml:"bodyString,omitempty"`
	JSONSchema string `json:"jsonSchema,omitempty" yaml:"jsonSchema,omitempty"`

	// As converts the extracted value: string, int, float, bool, list or map
	As string `json:"as,omitempty" yaml:"as,omitempty"`

	// Validators
	Is        interface{}   `json:"is,omitempty" yaml:"is,omitempty"`
	In        []interface{} `json:"in,omitempty" yaml:"in,omitempty"`
	Between   []int64       `json:"between,omitempty" yaml:"between,omitempty"`
	NotExists bool          `json:"notExists,omitempty" yaml:"notExists,omitempty"`

	SaveAs string `json:"saveAs,omitempty" yaml:"saveAs,omitempty"`
	Fatal  bool   `json:"fatal,omitempty" yaml:"fatal,omitempty"`
}

// PauseConfig is a fixed pause (Duration) or a random one in [Min, Max).
type PauseConfig struct {
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// FeedConfig draws a row from a named feeder.
type FeedConfig struct {
	Feeder  string   `json:"feeder" yaml:"feeder"`
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

type RepeatConfig struct {
	Times   int          `json:"times" yaml:"times"`
	Counter string       `json:"counter,omitempty" yaml:"counter,omitempty"`
	Steps   []StepConfig `json:"steps" yaml:"steps"`
}

// IfConfig runs Then when its predicate holds and Else otherwise.
// Exactly one of Exists, IsTrue and Equals is set.
type IfConfig struct {
	Exists string        `json:"exists,omitempty" yaml:"exists,omitempty"`
	IsTrue string        `json:"isTrue,omitempty" yaml:"isTrue,omitempty"`
	Equals *EqualsConfig `json:"equals,omitempty" yaml:"equals,omitempty"`
	// Not negates the predicate
	Not  bool         `json:"not,omitempty" yaml:"not,omitempty"`
	Then []StepConfig `json:"then" yaml:"then"`
	Else []StepConfig `json:"else,omitempty" yaml:"else,omitempty"`
}

type EqualsConfig struct {
	Key   string      `json:"key" yaml:"key"`
	Value interface{} `json:"value" yaml:"value"`
}

type GroupConfig struct {
	Name  string       `json:"name" yaml:"name"`
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// OnceConfig runs Steps once per virtual user, tracked by Flag.
type OnceConfig struct {
	Flag  string       `json:"flag" yaml:"flag"`
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// PopulationConfig injects a scenario.
type PopulationConfig struct {
	Scenario  string            `json:"scenario" yaml:"scenario"`
	Injection []InjectionConfig `json:"injection" yaml:"injection"`
}

// InjectionConfig is one injection phase. Exactly one field is set.
//
//	- atOnceUsers: 10
//	- nothingFor: 5s
//	- rampUsers: {users: 10, during: 20s}
//	- constantUsersPerSec: {rate: 2, during: 1m}
//	- rampUsersPerSec: {from: 1, to: 5, during: 1m}
//	- constantConcurrentUsers: {users: 5, during: 30s}
//	- rampConcurrentUsers: {from: 1, to: 10, during: 30s}
type InjectionConfig struct {
	AtOnceUsers             *int                  `json:"atOnceUsers,omitempty" yaml:"atOnceUsers,omitempty"`
	NothingFor              *Duration             `json:"nothingFor,omitempty" yaml:"nothingFor,omitempty"`
	RampUsers               *UsersDuringConfig    `json:"rampUsers,omitempty" yaml:"rampUsers,omitempty"`
	ConstantUsersPerSec     *RateDuringConfig     `json:"constantUsersPerSec,omitempty" yaml:"constantUsersPerSec,omitempty"`
	RampUsersPerSec         *RateRampConfig       `json:"rampUsersPerSec,omitempty" yaml:"rampUsersPerSec,omitempty"`
	ConstantConcurrentUsers *UsersDuringConfig    `json:"constantConcurrentUsers,omitempty" yaml:"constantConcurrentUsers,omitempty"`
	RampConcurrentUsers     *ConcurrentRampConfig `json:"rampConcurrentUsers,omitempty" yaml:"rampConcurrentUsers,omitempty"`
}

type UsersDuringConfig struct {
	Users  int      `json:"users" yaml:"users"`
	During Duration `json:"during" yaml:"during"`
}

type RateDuringConfig struct {
	Rate   float64  `json:"rate" yaml:"rate"`
	During Duration `json:"during" yaml:"during"`
}

type RateRampConfig struct {
	From   float64  `json:"from" yaml:"from"`
	To     float64  `json:"to" yaml:"to"`
	During Duration `json:"during" yaml:"during"`
}

type ConcurrentRampConfig struct {
	From   int      `json:"from" yaml:"from"`
	To     int      `json:"to" yaml:"to"`
	During Duration `json:"during" yaml:"during"`
}

// OptionsConfig tunes the run.
type OptionsConfig struct {
	// PhaseTransition is overlap (default) or drain
	PhaseTransition string `json:"phaseTransition,omitempty" yaml:"phaseTransition,omitempty"`

	// StopPolicy is finishStep (default) or abortNow
	StopPolicy string `json:"stopPolicy,omitempty" yaml:"stopPolicy,omitempty"`

	// GracefulStop bounds the wait for in-flight users after the last phase
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Tick is the closed-model controller period
	Tick Duration `json:"tick,omitempty" yaml:"tick,omitempty"`

	// MaxRPS caps the request rate of the whole run
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`

	// Sequential runs populations one after the other
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
