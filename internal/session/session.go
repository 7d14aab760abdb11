// Package session holds the per-virtual-user state threaded through a
// scenario's steps.
package session

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMissingKey is returned by the typed getters when the key is absent.
	ErrMissingKey = errors.New("session: missing key")
	// ErrTypeMismatch is returned when the stored value has another kind.
	ErrTypeMismatch = errors.New("session: type mismatch")
)

// Session is an immutable attribute map owned by one virtual user.
// Every mutator returns a new Session and leaves the receiver untouched.
type Session struct {
	vuID     int
	scenario string
	attrs    map[string]Value
}

// New creates the empty session a virtual user starts with.
func New(vuID int, scenario string) *Session {
	return &Session{vuID: vuID, scenario: scenario, attrs: map[string]Value{}}
}

func (s *Session) VUID() int { return s.vuID }

func (s *Session) Scenario() string { return s.scenario }

func (s *Session) Len() int { return len(s.attrs) }

// Get returns the raw value stored under key.
func (s *Session) Get(key string) (Value, bool) {
	v, ok := s.attrs[key]
	return v, ok
}

// Contains reports whether key is set, whatever its value.
func (s *Session) Contains(key string) bool {
	_, ok := s.attrs[key]
	return ok
}

// Keys returns the attribute names in sorted order.
func (s *Session) Keys() []string {
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set returns a copy of the session with key bound to v.
func (s *Session) Set(key string, v Value) *Session {
	next := s.clone(1)
	next.attrs[key] = v
	return next
}

// SetAll returns a copy of the session with every entry of values bound.
func (s *Session) SetAll(values map[string]Value) *Session {
	next := s.clone(len(values))
	for k, v := range values {
		next.attrs[k] = v
	}
	return next
}

// Remove returns a copy of the session without the given keys.
func (s *Session) Remove(keys ...string) *Session {
	next := s.clone(0)
	for _, k := range keys {
		delete(next.attrs, k)
	}
	return next
}

func (s *Session) clone(extra int) *Session {
	attrs := make(map[string]Value, len(s.attrs)+extra)
	for k, v := range s.attrs {
		attrs[k] = v
	}
	return &Session{vuID: s.vuID, scenario: s.scenario, attrs: attrs}
}

func (s *Session) lookup(key string, want Kind) (Value, error) {
	v, ok := s.attrs[key]
	if !ok {
		return Null(), fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	if v.Kind() != want {
		return Null(), fmt.Errorf("%w: %s is %s, not %s", ErrTypeMismatch, key, v.Kind(), want)
	}
	return v, nil
}

func (s *Session) String(key string) (string, error) {
	v, err := s.lookup(key, KindString)
	if err != nil {
		return "", err
	}
	str, _ := v.AsString()
	return str, nil
}

func (s *Session) Int(key string) (int64, error) {
	v, err := s.lookup(key, KindInt)
	if err != nil {
		return 0, err
	}
	i, _ := v.AsInt()
	return i, nil
}

func (s *Session) Bool(key string) (bool, error) {
	v, err := s.lookup(key, KindBool)
	if err != nil {
		return false, err
	}
	b, _ := v.AsBool()
	return b, nil
}

func (s *Session) List(key string) ([]Value, error) {
	v, err := s.lookup(key, KindList)
	if err != nil {
		return nil, err
	}
	l, _ := v.AsList()
	return l, nil
}

func (s *Session) Map(key string) (map[string]Value, error) {
	v, err := s.lookup(key, KindMap)
	if err != nil {
		return nil, err
	}
	m, _ := v.AsMap()
	return m, nil
}
