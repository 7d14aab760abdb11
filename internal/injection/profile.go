package injection

import (
	"fmt"
	"time"
)

// Profile is an ordered sequence of phases, run back to back.
type Profile struct {
	Phases []Phase
}

func NewProfile(phases ...Phase) Profile {
	return Profile{Phases: append([]Phase{}, phases...)}
}

// Validate returns a *ConfigurationError listing every invalid phase, or
// nil.
func (p Profile) Validate() error {
	errs := &ConfigurationError{}
	if len(p.Phases) == 0 {
		errs.Add("phases", "at least one phase is required")
	}
	for i, ph := range p.Phases {
		field := fmt.Sprintf("phases[%d]", i)
		if ph == nil {
			errs.Add(field, "phase is nil")
			continue
		}
		ph.validate(field, errs)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// TotalDuration is the sum of phase lengths: when the last spawn can happen.
func (p Profile) TotalDuration() time.Duration {
	var total time.Duration
	for _, ph := range p.Phases {
		total += ph.Length()
	}
	return total
}

// ExpectedUsers counts the users the open-model phases will start.
func (p Profile) ExpectedUsers() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(Offsets(ph))
	}
	return n
}

// MaxConcurrency is the highest closed-model target of the profile.
func (p Profile) MaxConcurrency() int {
	peak := 0
	for _, ph := range p.Phases {
		cp, ok := ph.(ClosedPhase)
		if !ok {
			continue
		}
		peak = max(peak, cp.Target(0), cp.Target(ph.Length()))
	}
	return peak
}

// Offsets returns the start offsets of an open-model phase, nil for any
// other phase.
func Offsets(ph Phase) []time.Duration {
	if op, ok := ph.(OpenPhase); ok {
		return op.Offsets()
	}
	return nil
}

// Target returns the concurrency target of a closed-model phase after
// elapsed, 0 for any other phase.
func Target(ph Phase, elapsed time.Duration) int {
	if cp, ok := ph.(ClosedPhase); ok {
		return cp.Target(elapsed)
	}
	return 0
}
