package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrInvalidStage is matched by every *ValidationError returned from Build.
	ErrInvalidStage = errors.New("invalid stage")

	// ErrInvariant reports a timeline whose structural invariants do not hold.
	// Scheduling on such a timeline is unsafe.
	ErrInvariant = errors.New("timeline invariant violated")
)

// MaxTarget is the largest actor count a stage may ask for.
const MaxTarget = math.MaxInt32

// ValidationError names the stage that prevented a timeline from being built.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on stage %d field '%s': %s", e.Index, e.Field, e.Message)
}

// Is reports whether target is ErrInvalidStage.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidStage
}

// Segment is a Stage placed on the timeline at an absolute offset.
type Segment struct {
	Index int
	Kind  Kind
	Name  string

	// Target is the stage's actor count; PrevTarget is the previous
	// segment's Target, or 0 for the first segment.
	Target     int
	PrevTarget int

	Duration time.Duration
	Start    time.Duration
	End      time.Duration
}

// Timeline is the ordered, contiguous set of segments spanning a run.
// The zero value is an empty timeline.
type Timeline struct {
	segments []Segment
}

// Build resolves stages into a Timeline.
//
// An empty stage list yields an empty timeline with zero total duration.
// A negative duration, a negative target or a target above MaxTarget fails
// the whole build.
func Build(stages []Stage) (*Timeline, error) {
	segments := make([]Segment, 0, len(stages))

	var offset time.Duration
	prevTarget := 0

	for i, stage := range stages {
		if stage.Duration < 0 {
			return nil, &ValidationError{Index: i, Field: "duration", Message: fmt.Sprintf("duration cannot be negative, got %s", stage.Duration)}
		}
		if stage.Target < 0 {
			return nil, &ValidationError{Index: i, Field: "target", Message: fmt.Sprintf("target cannot be negative, got %d", stage.Target)}
		}
		if stage.Target > MaxTarget {
			return nil, &ValidationError{Index: i, Field: "target", Message: fmt.Sprintf("target cannot exceed %d, got %d", MaxTarget, stage.Target)}
		}
		if stage.Kind != KindStep && stage.Kind != KindRamp {
			return nil, &ValidationError{Index: i, Field: "kind", Message: fmt.Sprintf("unsupported stage kind %s", stage.Kind)}
		}

		end := offset + stage.Duration
		if end < offset {
			return nil, &ValidationError{Index: i, Field: "duration", Message: "cumulative duration overflows"}
		}

		segments = append(segments, Segment{
			Index:      i,
			Kind:       stage.Kind,
			Name:       stage.Name,
			Target:     stage.Target,
			PrevTarget: prevTarget,
			Duration:   stage.Duration,
			Start:      offset,
			End:        end,
		})

		prevTarget = stage.Target
		offset = end
	}

	return &Timeline{segments: segments}, nil
}

// MustBuild is like Build but panics on error. Intended for tests and
// statically known profiles.
func MustBuild(stages ...Stage) *Timeline {
	tl, err := Build(stages)
	if err != nil {
		panic(err)
	}
	return tl
}

// Len returns the number of segments.
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.segments)
}

// Segment returns the i-th segment.
func (t *Timeline) Segment(i int) Segment {
	return t.segments[i]
}

// Segments returns a copy of all segments in order.
func (t *Timeline) Segments() []Segment {
	if t == nil {
		return nil
	}
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Sorted reports whether segments are ordered by End. Build always
// produces a sorted timeline.
func (t *Timeline) Sorted() bool {
	if t == nil {
		return true
	}
	return sort.SliceIsSorted(t.segments, func(i, j int) bool {
		return t.segments[i].End < t.segments[j].End
	})
}

// Verify re-checks the structural invariants of the timeline.
func (t *Timeline) Verify() error {
	if t == nil {
		return fmt.Errorf("%w: nil timeline", ErrInvariant)
	}

	if !t.Sorted() {
		return fmt.Errorf("%w: segments not ordered by end time", ErrInvariant)
	}

	var offset time.Duration
	prevTarget := 0

	for i, seg := range t.segments {
		switch {
		case seg.Index != i:
			return fmt.Errorf("%w: segment %d carries index %d", ErrInvariant, i, seg.Index)
		case seg.Duration < 0 || seg.Target < 0:
			return fmt.Errorf("%w: segment %d has negative duration or target", ErrInvariant, i)
		case seg.Target > MaxTarget:
			return fmt.Errorf("%w: segment %d target %d exceeds %d", ErrInvariant, i, seg.Target, MaxTarget)
		case seg.Start != offset:
			return fmt.Errorf("%w: segment %d starts at %s, expected %s", ErrInvariant, i, seg.Start, offset)
		case seg.End != seg.Start+seg.Duration:
			return fmt.Errorf("%w: segment %d ends at %s, expected %s", ErrInvariant, i, seg.End, seg.Start+seg.Duration)
		case seg.PrevTarget != prevTarget:
			return fmt.Errorf("%w: segment %d baseline is %d, expected %d", ErrInvariant, i, seg.PrevTarget, prevTarget)
		}
		offset = seg.End
		prevTarget = seg.Target
	}
	return nil
}
