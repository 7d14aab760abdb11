// Package check validates HTTP responses and captures values from them
// into the virtual user's session.
//
// A Check is an extractor, an optional conversion, a validator and an
// optional saveAs key. Checks are values: every builder method returns a
// modified copy, so a Check can be shared by any number of requests.
//
//	check.Status().Is(session.Int(200))
//	check.JMESPath("token").SaveAs("jwt")
//	check.JMESPath("[? id == `6`].name").OfList().Is(session.Strings("For Her"))
package check

import (
	"errors"
	"fmt"
	"strings"

	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/session"
	"github.com/wesleyorama2/swarm/internal/template"
)

// ErrCheckFailed matches every *Error.
var ErrCheckFailed = errors.New("check failed")

// Error reports a failed check.
type Error struct {
	Check  string
	Reason string
	Fatal  bool
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("check %s failed: %s: %v", e.Check, e.Reason, e.Err)
	}
	return fmt.Sprintf("check %s failed: %s", e.Check, e.Reason)
}

func (e *Error) Is(target error) bool { return target == ErrCheckFailed }

func (e *Error) Unwrap() error { return e.Err }

// Extractor pulls a value out of a response. found is false when the
// target does not exist; err reports a malformed response.
type Extractor interface {
	Extract(resp *swarmhttp.Response) (v session.Value, found bool, err error)
	String() string
}

type conversion struct {
	name string
	fn   func(session.Value) (session.Value, error)
}

type validator struct {
	name string
	fn   func(resp *swarmhttp.Response, v session.Value, found bool, s *session.Session) error
}

// Check is an immutable response assertion.
type Check struct {
	name      string
	extractor Extractor
	convs     []conversion
	validator validator
	saveAs    string
	fatal     bool
	err       error
}

// New builds a check from any extractor. The default validator is Exists.
func New(ex Extractor) Check {
	return Check{extractor: ex, validator: exists()}
}

// Err reports a construction problem such as an invalid expression.
// A check with an error always fails.
func (c Check) Err() error { return c.err }

// IsStatus reports whether the check inspects the HTTP status code.
func (c Check) IsStatus() bool {
	_, ok := c.extractor.(statusExtractor)
	return ok
}

func (c Check) IsFatal() bool { return c.fatal }

func (c Check) SaveAsKey() string { return c.saveAs }

// String describes the check, e.g. jmesPath(token).exists.
func (c Check) String() string {
	if c.name != "" {
		return c.name
	}
	var b strings.Builder
	if c.extractor != nil {
		b.WriteString(c.extractor.String())
	}
	for _, conv := range c.convs {
		b.WriteString(".")
		b.WriteString(conv.name)
	}
	b.WriteString(".")
	b.WriteString(c.validator.name)
	if c.saveAs != "" {
		b.WriteString(".saveAs(")
		b.WriteString(c.saveAs)
		b.WriteString(")")
	}
	return b.String()
}

// Named overrides the generated description.
func (c Check) Named(name string) Check {
	c.name = name
	return c
}

// SaveAs stores the extracted value under key when the check passes.
func (c Check) SaveAs(key string) Check {
	c.saveAs = key
	return c
}

// Fatal makes a failure of this check terminate the virtual user.
func (c Check) Fatal() Check {
	c.fatal = true
	return c
}

func (c Check) withConv(conv conversion) Check {
	c.convs = append(append([]conversion{}, c.convs...), conv)
	return c
}

func (c Check) withValidator(v validator) Check {
	c.validator = v
	return c
}

// Evaluate runs the check. On success the returned session carries the
// saveAs value; on failure it is s unchanged and err is an *Error.
func (c Check) Evaluate(resp *swarmhttp.Response, s *session.Session) (*session.Session, error) {
	if c.err != nil {
		return s, c.fail("invalid check", c.err)
	}
	v, found, err := c.extractor.Extract(resp)
	if err != nil {
		return s, c.fail("extraction failed", err)
	}
	if found {
		for _, conv := range c.convs {
			if v, err = conv.fn(v); err != nil {
				return s, c.fail(conv.name+" failed", err)
			}
		}
	}
	if err := c.validator.fn(resp, v, found, s); err != nil {
		return s, c.fail(err.Error(), nil)
	}
	if c.saveAs != "" && found {
		s = s.Set(c.saveAs, v)
	}
	return s, nil
}

func (c Check) fail(reason string, err error) error {
	return &Error{Check: c.String(), Reason: reason, Fatal: c.fatal, Err: err}
}

// Transform applies fn to the extracted value before validation.
func (c Check) Transform(name string, fn func(session.Value) (session.Value, error)) Check {
	return c.withConv(conversion{name: "transform(" + name + ")", fn: fn})
}

// Exists passes when the extractor found something. It is the default.
func (c Check) Exists() Check { return c.withValidator(exists()) }

// NotExists passes when the extractor found nothing.
func (c Check) NotExists() Check {
	return c.withValidator(validator{
		name: "notExists",
		fn: func(_ *swarmhttp.Response, v session.Value, found bool, _ *session.Session) error {
			if found {
				return fmt.Errorf("found %s, expected nothing", v)
			}
			return nil
		},
	})
}

// Is passes when the extracted value equals want.
func (c Check) Is(want session.Value) Check {
	return c.withValidator(validator{
		name: fmt.Sprintf("is(%#v)", want),
		fn: func(_ *swarmhttp.Response, v session.Value, found bool, _ *session.Session) error {
			if !found {
				return fmt.Errorf("found nothing, expected %#v", want)
			}
			if !v.Equal(want) {
				return fmt.Errorf("found %#v, expected %#v", v, want)
			}
			return nil
		},
	})
}

// IsTemplate resolves expr against the session at evaluation time and
// compares with it. A string on either side compares by rendered text.
func (c Check) IsTemplate(expr string) Check {
	tpl, err := template.Parse(expr)
	if err != nil {
		c.err = err
		return c
	}
	return c.withValidator(validator{
		name: fmt.Sprintf("is(%s)", expr),
		fn: func(_ *swarmhttp.Response, v session.Value, found bool, s *session.Session) error {
			want, err := tpl.ResolveValue(s)
			if err != nil {
				return fmt.Errorf("expected value: %w", err)
			}
			if !found {
				return fmt.Errorf("found nothing, expected %#v", want)
			}
			if !looseEqual(v, want) {
				return fmt.Errorf("found %#v, expected %#v", v, want)
			}
			return nil
		},
	})
}

// In passes when the extracted value equals one of values.
func (c Check) In(values ...session.Value) Check {
	return c.withValidator(validator{
		name: fmt.Sprintf("in(%#v)", session.List(values...)),
		fn: func(_ *swarmhttp.Response, v session.Value, found bool, _ *session.Session) error {
			if !found {
				return fmt.Errorf("found nothing")
			}
			for _, want := range values {
				if v.Equal(want) {
					return nil
				}
			}
			return fmt.Errorf("found %#v, expected one of %#v", v, session.List(values...))
		},
	})
}

// InRange passes for numbers in [lo, hi].
func (c Check) InRange(lo, hi int64) Check {
	return c.withValidator(validator{
		name: fmt.Sprintf("in(%d..%d)", lo, hi),
		fn: func(_ *swarmhttp.Response, v session.Value, found bool, _ *session.Session) error {
			if !found {
				return fmt.Errorf("found nothing")
			}
			f, ok := v.AsFloat()
			if !ok || f < float64(lo) || f > float64(hi) {
				return fmt.Errorf("found %#v, expected %d..%d", v, lo, hi)
			}
			return nil
		},
	})
}

func exists() validator {
	return validator{
		name: "exists",
		fn: func(_ *swarmhttp.Response, _ session.Value, found bool, _ *session.Session) error {
			if !found {
				return fmt.Errorf("found nothing")
			}
			return nil
		},
	}
}

func looseEqual(a, b session.Value) bool {
	if a.Equal(b) {
		return true
	}
	if a.Kind() == session.KindString || b.Kind() == session.KindString {
		return a.String() == b.String()
	}
	return false
}

// HasStatusCheck reports whether any of checks inspects the status code.
func HasStatusCheck(checks []Check) bool {
	for _, c := range checks {
		if c.IsStatus() {
			return true
		}
	}
	return false
}

// DefaultStatus is applied to requests that declare no status check.
func DefaultStatus() Check {
	return Status().InRange(200, 399)
}
