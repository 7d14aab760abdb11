// Package template compiles request text containing #{name} placeholders
// and resolves it against a session.
//
// A placeholder names a session key, optionally followed by dotted
// segments that walk into maps (by key) and lists (by index):
//
//	/api/product/#{productId}
//	#{product.name}
//	#{allProductIds.0}
package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wesleyorama2/swarm/internal/session"
)

// ErrUnresolvedVariable matches every *UnresolvedVariableError.
var ErrUnresolvedVariable = errors.New("unresolved variable")

// UnresolvedVariableError names the placeholder that could not be resolved.
type UnresolvedVariableError struct {
	Name string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable #{%s}", e.Name)
}

func (e *UnresolvedVariableError) Is(target error) bool {
	return target == ErrUnresolvedVariable
}

type segment struct {
	literal string
	expr    string   // full placeholder text, empty for literals
	path    []string // expr split on '.'
}

// Template is a compiled, immutable piece of text. Safe for concurrent use.
type Template struct {
	raw      string
	segments []segment
}

// Parse compiles s. It fails on an unterminated or empty placeholder.
func Parse(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for {
		start := strings.Index(rest, "#{")
		if start < 0 {
			if rest != "" {
				t.segments = append(t.segments, segment{literal: rest})
			}
			return t, nil
		}
		if start > 0 {
			t.segments = append(t.segments, segment{literal: rest[:start]})
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return nil, fmt.Errorf("template %q: unterminated placeholder at offset %d", s, len(s)-len(rest)+start)
		}
		expr := strings.TrimSpace(rest[start+2 : start+end])
		if expr == "" {
			return nil, fmt.Errorf("template %q: empty placeholder", s)
		}
		path := strings.Split(expr, ".")
		for _, p := range path {
			if p == "" {
				return nil, fmt.Errorf("template %q: malformed placeholder #{%s}", s, expr)
			}
		}
		t.segments = append(t.segments, segment{expr: expr, path: path})
		rest = rest[start+end+1:]
	}
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(s string) *Template {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Literal returns a template that resolves to s verbatim, even if s
// contains placeholder syntax.
func Literal(s string) *Template {
	if s == "" {
		return &Template{}
	}
	return &Template{raw: s, segments: []segment{{literal: s}}}
}

func (t *Template) String() string { return t.raw }

// IsStatic reports whether the template contains no placeholders.
func (t *Template) IsStatic() bool {
	for _, seg := range t.segments {
		if seg.expr != "" {
			return false
		}
	}
	return true
}

// Variables lists the session keys the template reads.
func (t *Template) Variables() []string {
	var names []string
	for _, seg := range t.segments {
		if seg.expr != "" {
			names = append(names, seg.path[0])
		}
	}
	return names
}

// Resolve renders the template. Every placeholder must resolve.
func (t *Template) Resolve(s *session.Session) (string, error) {
	if len(t.segments) == 1 && t.segments[0].expr == "" {
		return t.segments[0].literal, nil
	}
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.expr == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, err := lookup(s, seg)
		if err != nil {
			return "", err
		}
		b.WriteString(v.String())
	}
	return b.String(), nil
}

// ResolveValue keeps the stored type when the whole template is a single
// placeholder, and otherwise returns the rendered string.
func (t *Template) ResolveValue(s *session.Session) (session.Value, error) {
	if len(t.segments) == 1 && t.segments[0].expr != "" {
		return lookup(s, t.segments[0])
	}
	str, err := t.Resolve(s)
	if err != nil {
		return session.Null(), err
	}
	return session.String(str), nil
}

func lookup(s *session.Session, seg segment) (session.Value, error) {
	v, ok := s.Get(seg.path[0])
	if !ok {
		return session.Null(), &UnresolvedVariableError{Name: seg.expr}
	}
	for _, p := range seg.path[1:] {
		switch v.Kind() {
		case session.KindMap:
			v, ok = v.Field(p)
		case session.KindList:
			idx, err := strconv.Atoi(p)
			if err != nil {
				return session.Null(), &UnresolvedVariableError{Name: seg.expr}
			}
			v, ok = v.Index(idx)
		default:
			ok = false
		}
		if !ok {
			return session.Null(), &UnresolvedVariableError{Name: seg.expr}
		}
	}
	return v, nil
}
