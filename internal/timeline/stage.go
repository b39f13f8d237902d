// Package timeline turns an ordered list of load-profile stages into an
// immutable, time-addressable timeline of segments.
//
// A Timeline is built once at test start and only read afterwards, so it is
// safe to query from any number of goroutines without locking.
package timeline

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies how a stage moves the actor count toward its target.
type Kind int

const (
	// KindStep jumps to the target count at the stage start and holds it.
	KindStep Kind = iota

	// KindRamp linearly interpolates from the previous stage's target to
	// this stage's target across the stage duration.
	KindRamp
)

func (k Kind) String() string {
	switch k {
	case KindStep:
		return "step"
	case KindRamp:
		return "ramp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a stage kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "step", "constant", "keep-constant":
		return KindStep, nil
	case "ramp", "ramping", "linear":
		return KindRamp, nil
	default:
		return 0, fmt.Errorf("unknown stage kind: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Stage is one user-declared piece of the load profile.
//
// Duration is stage-local; the absolute placement is computed by Build.
type Stage struct {
	Kind     Kind          `json:"kind" yaml:"kind"`
	Target   int           `json:"target" yaml:"target"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Name is optional and only used for reporting.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Step returns a stage that holds target actors for d.
func Step(target int, d time.Duration) Stage {
	return Stage{Kind: KindStep, Target: target, Duration: d}
}

// Ramp returns a stage that ramps linearly to target actors over d.
func Ramp(target int, d time.Duration) Stage {
	return Stage{Kind: KindRamp, Target: target, Duration: d}
}

func (s Stage) String() string {
	return fmt.Sprintf("%s(%d, %s)", s.Kind, s.Target, s.Duration)
}
