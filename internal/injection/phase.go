// Package injection describes when virtual users start.
//
// A Profile is an ordered list of phases. Open-model phases start users at
// computed offsets regardless of how many are running; closed-model
// phases hold the number of concurrently running users at a target.
package injection

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
	"time"
)

// Model tells the scheduler how to run a phase.
type Model int

const (
	// ModelNone phases start nobody.
	ModelNone Model = iota
	ModelOpen
	ModelClosed
)

func (m Model) String() string {
	switch m {
	case ModelOpen:
		return "open"
	case ModelClosed:
		return "closed"
	default:
		return "none"
	}
}

func (m Model) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Phase is one segment of an injection profile.
type Phase interface {
	Model() Model
	// Length is how long the phase occupies the schedule.
	Length() time.Duration
	String() string
	validate(field string, errs *ConfigurationError)
}

// OpenPhase starts users at fixed offsets from the phase start.
type OpenPhase interface {
	Phase
	// Arrivals yields start offsets in non-decreasing order, one at a
	// time, so a high rate over a long phase costs no memory.
	Arrivals() iter.Seq[time.Duration]
	// Offsets collects Arrivals into a slice.
	Offsets() []time.Duration
}

// ClosedPhase keeps a target number of users running.
type ClosedPhase interface {
	Phase
	// Target is the wanted concurrency after elapsed time in the phase.
	Target(elapsed time.Duration) int
}

// AtOnceUsers starts Users users immediately.
type AtOnceUsers struct {
	Users int
}

func (p AtOnceUsers) Model() Model { return ModelOpen }
func (p AtOnceUsers) Length() time.Duration { return 0 }
func (p AtOnceUsers) String() string { return fmt.Sprintf("atOnceUsers(%d)", p.Users) }

func (p AtOnceUsers) Arrivals() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		for i := 0; i < p.Users; i++ {
			if !yield(0) {
				return
			}
		}
	}
}

func (p AtOnceUsers) Offsets() []time.Duration { return slices.Collect(p.Arrivals()) }

func (p AtOnceUsers) validate(field string, errs *ConfigurationError) {
	if p.Users < 0 {
		errs.Add(field+".users", "must not be negative, got %d", p.Users)
	}
}

// NothingFor starts nobody for Duration.
type NothingFor struct {
	Duration time.Duration
}

func (p NothingFor) Model() Model { return ModelNone }
func (p NothingFor) Length() time.Duration { return p.Duration }
func (p NothingFor) String() string { return fmt.Sprintf("nothingFor(%s)", p.Duration) }

func (p NothingFor) validate(field string, errs *ConfigurationError) {
	if p.Duration < 0 {
		errs.Add(field+".duration", "must not be negative, got %s", p.Duration)
	}
}

// RampUsers starts Users users evenly over During: user i starts at
// i*During/Users.
type RampUsers struct {
	Users  int
	During time.Duration
}

func (p RampUsers) Model() Model { return ModelOpen }
func (p RampUsers) Length() time.Duration { return p.During }
func (p RampUsers) String() string {
	return fmt.Sprintf("rampUsers(%d) during %s", p.Users, p.During)
}

func (p RampUsers) Arrivals() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		if p.Users <= 0 {
			return
		}
		n := int64(p.Users)
		d := int64(p.During)
		q, r := d/n, d%n
		for i := int64(0); i < n; i++ {
			// i*d/n without overflowing int64
			if !yield(time.Duration(q*i + r*i/n)) {
				return
			}
		}
	}
}

func (p RampUsers) Offsets() []time.Duration { return slices.Collect(p.Arrivals()) }

func (p RampUsers) validate(field string, errs *ConfigurationError) {
	if p.Users < 0 {
		errs.Add(field+".users", "must not be negative, got %d", p.Users)
	}
	if p.During <= 0 {
		errs.Add(field+".during", "must be positive, got %s", p.During)
	}
}

// ConstantUsersPerSec starts Rate users per second for During. User k
// starts at k/Rate seconds, for every k with k/Rate < During.
type ConstantUsersPerSec struct {
	Rate   float64
	During time.Duration
}

func (p ConstantUsersPerSec) Model() Model { return ModelOpen }
func (p ConstantUsersPerSec) Length() time.Duration { return p.During }
func (p ConstantUsersPerSec) String() string {
	return fmt.Sprintf("constantUsersPerSec(%s) during %s", formatRate(p.Rate), p.During)
}

func (p ConstantUsersPerSec) Arrivals() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		if p.Rate <= 0 || p.During <= 0 {
			return
		}
		for k := 0; ; k++ {
			t := time.Duration(float64(k) * float64(time.Second) / p.Rate)
			if t >= p.During || !yield(t) {
				return
			}
		}
	}
}

func (p ConstantUsersPerSec) Offsets() []time.Duration { return slices.Collect(p.Arrivals()) }

func (p ConstantUsersPerSec) validate(field string, errs *ConfigurationError) {
	if !validRate(p.Rate) || p.Rate == 0 {
		errs.Add(field+".rate", "must be a positive number, got %v", p.Rate)
	}
	if p.During <= 0 {
		errs.Add(field+".during", "must be positive, got %s", p.During)
	}
}

// RampUsersPerSec moves the arrival rate linearly from From to To users
// per second over During. User k starts when the cumulative arrivals
// reach k.
type RampUsersPerSec struct {
	From   float64
	To     float64
	During time.Duration
}

func (p RampUsersPerSec) Model() Model { return ModelOpen }
func (p RampUsersPerSec) Length() time.Duration { return p.During }
func (p RampUsersPerSec) String() string {
	return fmt.Sprintf("rampUsersPerSec(%s to %s) during %s", formatRate(p.From), formatRate(p.To), p.During)
}

func (p RampUsersPerSec) Arrivals() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		if p.During <= 0 || p.From < 0 || p.To < 0 {
			return
		}
		d := p.During.Seconds()
		// arrivals(t) = From*t + (To-From)*t^2/(2d)
		a := (p.To - p.From) / (2 * d)
		b := p.From
		total := (p.From + p.To) / 2 * d

		for k := 0; float64(k) < total; k++ {
			disc := b*b + 4*a*float64(k)
			if disc < 0 {
				return
			}
			den := b + math.Sqrt(disc)
			t := 0.0
			if den > 0 {
				t = 2 * float64(k) / den
			}
			offset := time.Duration(t * float64(time.Second))
			if offset >= p.During || !yield(offset) {
				return
			}
		}
	}
}

func (p RampUsersPerSec) Offsets() []time.Duration { return slices.Collect(p.Arrivals()) }

func (p RampUsersPerSec) validate(field string, errs *ConfigurationError) {
	if !validRate(p.From) {
		errs.Add(field+".from", "must be a non-negative number, got %v", p.From)
	}
	if !validRate(p.To) {
		errs.Add(field+".to", "must be a non-negative number, got %v", p.To)
	}
	if p.From == 0 && p.To == 0 {
		errs.Add(field, "from and to cannot both be zero")
	}
	if p.During <= 0 {
		errs.Add(field+".during", "must be positive, got %s", p.During)
	}
}

// ConstantConcurrentUsers keeps Users users running for During. A user
// that finishes is replaced immediately.
type ConstantConcurrentUsers struct {
	Users  int
	During time.Duration
}

func (p ConstantConcurrentUsers) Model() Model { return ModelClosed }
func (p ConstantConcurrentUsers) Length() time.Duration { return p.During }
func (p ConstantConcurrentUsers) Target(time.Duration) int { return p.Users }
func (p ConstantConcurrentUsers) String() string {
	return fmt.Sprintf("constantConcurrentUsers(%d) during %s", p.Users, p.During)
}

func (p ConstantConcurrentUsers) validate(field string, errs *ConfigurationError) {
	if p.Users < 0 {
		errs.Add(field+".users", "must not be negative, got %d", p.Users)
	}
	if p.During <= 0 {
		errs.Add(field+".during", "must be positive, got %s", p.During)
	}
}

// RampConcurrentUsers moves the concurrency target linearly from From to
// To over During.
type RampConcurrentUsers struct {
	From   int
	To     int
	During time.Duration
}

func (p RampConcurrentUsers) Model() Model { return ModelClosed }
func (p RampConcurrentUsers) Length() time.Duration { return p.During }
func (p RampConcurrentUsers) String() string {
	return fmt.Sprintf("rampConcurrentUsers(%d to %d) during %s", p.From, p.To, p.During)
}

func (p RampConcurrentUsers) Target(elapsed time.Duration) int {
	progress := float64(elapsed) / float64(p.During)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	target := float64(p.From) + float64(p.To-p.From)*progress
	return int(target + 0.5) // round to nearest
}

func (p RampConcurrentUsers) validate(field string, errs *ConfigurationError) {
	if p.From < 0 {
		errs.Add(field+".from", "must not be negative, got %d", p.From)
	}
	if p.To < 0 {
		errs.Add(field+".to", "must not be negative, got %d", p.To)
	}
	if p.During <= 0 {
		errs.Add(field+".during", "must be positive, got %s", p.During)
	}
}

func validRate(r float64) bool {
	return r >= 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
