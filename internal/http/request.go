package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Request is a fully resolved HTTP request: no placeholders remain.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest creates a request with an empty header set.
func NewRequest(method, url string) *Request {
	return &Request{Method: method, URL: url, Header: make(http.Header)}
}

// WithHeader sets a header on the request.
func (r *Request) WithHeader(key, value string) *Request {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(key, value)
	return r
}

// WithBody sets the raw request body.
func (r *Request) WithBody(body []byte) *Request {
	r.Body = body
	return r
}

func (r *Request) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", r.Method, r.URL, err)
	}
	for key, values := range r.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	return httpReq, nil
}
