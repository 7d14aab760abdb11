package scenario

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wesleyorama2/swarm/internal/check"
	"github.com/wesleyorama2/swarm/internal/template"
)

// RequestBuilder describes one HTTP request. Name, URL, header values and
// body may contain #{name} placeholders.
type RequestBuilder struct {
	name    string
	method  string
	url     string
	headers [][2]string
	body    *string
	rawBody bool
	checks  []check.Check
	timeout time.Duration
	fatal   bool
}

// HTTP starts a request named name.
func HTTP(name string) *RequestBuilder {
	return &RequestBuilder{name: name}
}

func (r *RequestBuilder) Method(method, url string) *RequestBuilder {
	r.method = strings.ToUpper(method)
	r.url = url
	return r
}

func (r *RequestBuilder) Get(url string) *RequestBuilder { return r.Method(http.MethodGet, url) }
func (r *RequestBuilder) Post(url string) *RequestBuilder { return r.Method(http.MethodPost, url) }
func (r *RequestBuilder) Put(url string) *RequestBuilder { return r.Method(http.MethodPut, url) }
func (r *RequestBuilder) Patch(url string) *RequestBuilder { return r.Method(http.MethodPatch, url) }
func (r *RequestBuilder) Delete(url string) *RequestBuilder { return r.Method(http.MethodDelete, url) }

// Header adds a header; value may hold placeholders.
func (r *RequestBuilder) Header(name, value string) *RequestBuilder {
	r.headers = append(r.headers, [2]string{name, value})
	return r
}

// Body sets a body template.
func (r *RequestBuilder) Body(body string) *RequestBuilder {
	r.body = &body
	r.rawBody = false
	return r
}

// RawBody sets a body sent verbatim, without placeholder expansion.
func (r *RequestBuilder) RawBody(body string) *RequestBuilder {
	r.body = &body
	r.rawBody = true
	return r
}

// Check appends checks, evaluated in order.
func (r *RequestBuilder) Check(checks ...check.Check) *RequestBuilder {
	r.checks = append(r.checks, checks...)
	return r
}

func (r *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	r.timeout = d
	return r
}

// Fatal ends the virtual user when this request fails for any reason.
func (r *RequestBuilder) Fatal() *RequestBuilder {
	r.fatal = true
	return r
}

// Build compiles the request into a single step. A request without a
// status check gets check.DefaultStatus.
func (r *RequestBuilder) Build() ([]Step, error) {
	var errs []error
	if r.method == "" {
		errs = append(errs, errors.New("no method"))
	}
	if strings.TrimSpace(r.url) == "" {
		errs = append(errs, errors.New("no URL"))
	}
	if r.timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", r.timeout))
	}

	parse := func(what, s string) *template.Template {
		t, err := template.Parse(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
			return template.Literal(s)
		}
		return t
	}

	req := &Request{
		Name:    parse("name", r.name),
		Method:  r.method,
		URL:     parse("url", r.url),
		Timeout: r.timeout,
		Fatal:   r.fatal,
	}
	for _, h := range r.headers {
		req.Headers = append(req.Headers, Header{Name: h[0], Value: parse("header "+h[0], h[1])})
	}
	if r.body != nil {
		if r.rawBody {
			req.Body = template.Literal(*r.body)
		} else {
			req.Body = parse("body", *r.body)
		}
	}
	for _, c := range r.checks {
		if err := c.Err(); err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", c, err))
		}
	}
	if !check.HasStatusCheck(r.checks) {
		req.Checks = append(req.Checks, check.DefaultStatus())
	}
	req.Checks = append(req.Checks, r.checks...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("request %q: %w", r.name, errors.Join(errs...))
	}
	return []Step{req}, nil
}
