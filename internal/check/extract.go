package check

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/tidwall/gjson"

	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/session"
)

type statusExtractor struct{}

func (statusExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	return session.Int(int64(resp.StatusCode)), true, nil
}

func (statusExtractor) String() string { return "status" }

// Status extracts the HTTP status code as an Int.
func Status() Check { return New(statusExtractor{}) }

type headerExtractor struct{ name string }

func (h headerExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	values := resp.Headers.Values(h.name)
	if len(values) == 0 {
		return session.Null(), false, nil
	}
	return session.String(values[0]), true, nil
}

func (h headerExtractor) String() string { return "header(" + h.name + ")" }

// Header extracts the first value of the named response header.
func Header(name string) Check { return New(headerExtractor{name: name}) }

type bodyExtractor struct{}

func (bodyExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	return session.String(string(resp.Body)), true, nil
}

func (bodyExtractor) String() string { return "bodyString" }

// BodyString extracts the whole body as a String.
func BodyString() Check { return New(bodyExtractor{}) }

type regexExtractor struct{ re *regexp.Regexp }

func (r regexExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	m := r.re.FindSubmatch(resp.Body)
	if m == nil {
		return session.Null(), false, nil
	}
	if len(m) > 1 {
		return session.String(string(m[1])), true, nil
	}
	return session.String(string(m[0])), true, nil
}

func (r regexExtractor) String() string { return "regex(" + r.re.String() + ")" }

// Regex extracts the first capture group of pattern, or the whole match
// when the pattern has no group.
func Regex(pattern string) Check {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Check{extractor: regexExtractor{re: regexp.MustCompile("$^")}, validator: exists(), err: err}
	}
	return New(regexExtractor{re: re})
}

type jmesPathExtractor struct {
	expr string
	jp   *jmespath.JMESPath
}

func (j jmesPathExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return session.Null(), false, fmt.Errorf("response is not JSON: %w", err)
	}
	result, err := j.jp.Search(doc)
	if err != nil {
		return session.Null(), false, err
	}
	if result == nil {
		return session.Null(), false, nil
	}
	v, err := session.FromAny(result)
	if err != nil {
		return session.Null(), false, err
	}
	return v, true, nil
}

func (j jmesPathExtractor) String() string { return "jmesPath(" + j.expr + ")" }

// JMESPath evaluates expr against the JSON body. A null result counts as
// not found.
func JMESPath(expr string) Check {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return Check{extractor: jmesPathExtractor{expr: expr}, validator: exists(), err: fmt.Errorf("jmesPath %q: %w", expr, err)}
	}
	return New(jmesPathExtractor{expr: expr, jp: jp})
}

type jsonPathExtractor struct {
	path  string
	gpath string
}

func (j jsonPathExtractor) Extract(resp *swarmhttp.Response) (session.Value, bool, error) {
	if !gjson.ValidBytes(resp.Body) {
		return session.Null(), false, fmt.Errorf("response is not JSON")
	}
	result := gjson.GetBytes(resp.Body, j.gpath)
	if !result.Exists() || result.Type == gjson.Null {
		return session.Null(), false, nil
	}
	v, err := session.FromAny(result.Value())
	if err != nil {
		return session.Null(), false, err
	}
	return v, true, nil
}

func (j jsonPathExtractor) String() string { return "jsonPath(" + j.path + ")" }

// JSONPath evaluates a simple JSONPath ($.users[0].name) against the body.
func JSONPath(path string) Check {
	return New(jsonPathExtractor{path: path, gpath: toGJSONPath(path)})
}

// toGJSONPath converts $.users[0].name to users.0.name.
func toGJSONPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "", "[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}

// OfString renders the value as text (lists and maps as JSON).
func (c Check) OfString() Check {
	return c.withConv(conversion{name: "ofString", fn: func(v session.Value) (session.Value, error) {
		return session.String(v.String()), nil
	}})
}

// OfInt requires an integral number or a string holding one.
func (c Check) OfInt() Check {
	return c.withConv(conversion{name: "ofInt", fn: func(v session.Value) (session.Value, error) {
		switch v.Kind() {
		case session.KindInt:
			return v, nil
		case session.KindFloat:
			f, _ := v.AsFloat()
			if f == float64(int64(f)) {
				return session.Int(int64(f)), nil
			}
		case session.KindString:
			s, _ := v.AsString()
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return session.Int(i), nil
			}
		}
		return session.Null(), fmt.Errorf("%#v is not an int", v)
	}})
}

// OfFloat requires a number or a string holding one.
func (c Check) OfFloat() Check {
	return c.withConv(conversion{name: "ofFloat", fn: func(v session.Value) (session.Value, error) {
		if f, ok := v.AsFloat(); ok {
			return session.Float(f), nil
		}
		if s, ok := v.AsString(); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return session.Float(f), nil
			}
		}
		return session.Null(), fmt.Errorf("%#v is not a number", v)
	}})
}

// OfBool requires a boolean or a string holding one.
func (c Check) OfBool() Check {
	return c.withConv(conversion{name: "ofBool", fn: func(v session.Value) (session.Value, error) {
		if b, ok := v.AsBool(); ok {
			return session.Bool(b), nil
		}
		if s, ok := v.AsString(); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return session.Bool(b), nil
			}
		}
		return session.Null(), fmt.Errorf("%#v is not a bool", v)
	}})
}

// OfList requires a list.
func (c Check) OfList() Check {
	return c.withConv(conversion{name: "ofList", fn: func(v session.Value) (session.Value, error) {
		if v.Kind() != session.KindList {
			return session.Null(), fmt.Errorf("%#v is not a list", v)
		}
		return v, nil
	}})
}

// OfMap requires an object.
func (c Check) OfMap() Check {
	return c.withConv(conversion{name: "ofMap", fn: func(v session.Value) (session.Value, error) {
		if v.Kind() != session.KindMap {
			return session.Null(), fmt.Errorf("%#v is not a map", v)
		}
		return v, nil
	}})
}
