package timeline

import (
	"math"
	"sort"
	"time"
)

// Phase classifies a segment for reporting.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
)

// Phase returns the reporting phase of the segment. Steps always hold a
// constant level once started, so they count as steady.
func (s Segment) Phase() Phase {
	if s.Kind == KindStep || s.Target == s.PrevTarget {
		return PhaseSteady
	}
	if s.Target > s.PrevTarget {
		return PhaseRampUp
	}
	return PhaseRampDown
}

// TargetAt returns the segment's concurrency target at elapsed, which is an
// absolute offset from the start of the timeline.
func (s Segment) TargetAt(elapsed time.Duration) int {
	if s.Kind == KindStep {
		return s.Target
	}

	fraction := 1.0
	if s.Duration > 0 {
		fraction = clamp01(float64(elapsed-s.Start) / float64(s.Duration))
	}

	value := float64(s.PrevTarget) + float64(s.Target-s.PrevTarget)*fraction
	return roundHalfUp(value)
}

// TotalDuration returns the planned length of the run.
func (t *Timeline) TotalDuration() time.Duration {
	if t.Len() == 0 {
		return 0
	}
	return t.segments[len(t.segments)-1].End
}

// SegmentAt returns the segment containing elapsed.
//
// Segments are half-open [Start, End) except the last one, which also owns
// its End instant. Negative elapsed or elapsed past the end returns false.
func (t *Timeline) SegmentAt(elapsed time.Duration) (Segment, bool) {
	n := t.Len()
	if n == 0 || elapsed < 0 {
		return Segment{}, false
	}

	total := t.segments[n-1].End
	if elapsed > total {
		return Segment{}, false
	}

	i := sort.Search(n, func(i int) bool {
		return t.segments[i].End > elapsed
	})
	if i == n {
		// elapsed == total
		return t.segments[n-1], true
	}
	return t.segments[i], true
}

// TargetConcurrency returns how many actors should be alive at elapsed.
// Outside the timeline the target is 0.
func (t *Timeline) TargetConcurrency(elapsed time.Duration) int {
	seg, ok := t.SegmentAt(elapsed)
	if !ok {
		return 0
	}
	return seg.TargetAt(elapsed)
}

// StageProgressPercent returns round(elapsedWithin/segmentDuration*100)
// bounded to [0,100]. A zero-length segment reports 0.
func StageProgressPercent(elapsedWithin, segmentDuration time.Duration) int {
	if segmentDuration <= 0 || elapsedWithin <= 0 {
		return 0
	}
	fraction := clamp01(float64(elapsedWithin) / float64(segmentDuration))
	return roundHalfUp(fraction * 100)
}

// Position is a snapshot of where elapsed falls on the timeline.
type Position struct {
	Elapsed      time.Duration
	Total        time.Duration
	Segment      Segment
	Found        bool
	StagePercent int
	Target       int
}

// Progress resolves elapsed into a Position for progress reporting.
func (t *Timeline) Progress(elapsed time.Duration) Position {
	pos := Position{
		Elapsed: elapsed,
		Total:   t.TotalDuration(),
	}

	seg, ok := t.SegmentAt(elapsed)
	if !ok {
		return pos
	}

	pos.Segment = seg
	pos.Found = true
	pos.StagePercent = StageProgressPercent(elapsed-seg.Start, seg.Duration)
	pos.Target = seg.TargetAt(elapsed)
	return pos
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// roundHalfUp rounds to the nearest integer, ties toward +Inf.
func roundHalfUp(f float64) int {
	return int(math.Floor(f + 0.5))
}
