package scheduler

import (
	"time"

	"github.com/wesleyorama2/tideline/internal/timeline"
)

// TickEvent is delivered to the Observer exactly once per scheduler tick.
type TickEvent struct {
	Seq     int64
	Time    time.Time
	Elapsed time.Duration
	Total   time.Duration

	// Segment is only meaningful when InTimeline is true.
	Segment      timeline.Segment
	InTimeline   bool
	StagePercent int

	Target   int
	Live     int
	Retiring int

	// Lag is how late this tick was processed relative to its nominal time.
	Lag time.Duration
}

// Progress returns the overall completion fraction in [0,1].
func (e TickEvent) Progress() float64 {
	if e.Total <= 0 {
		return 1
	}
	p := float64(e.Elapsed) / float64(e.Total)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// ConditionKind identifies a reportable runtime condition.
type ConditionKind string

const (
	// ConditionDrift is raised when a tick is processed later than the drift threshold.
	ConditionDrift ConditionKind = "scheduling-drift"
	// ConditionRetireTimeout is raised when an actor had to be force-stopped during drain.
	ConditionRetireTimeout ConditionKind = "actor-retire-timeout"
	// ConditionSpawnError is raised when the pool fails to start an actor.
	ConditionSpawnError ConditionKind = "spawn-error"
	// ConditionActorLost is raised when a live actor exits without being retired.
	ConditionActorLost ConditionKind = "actor-lost"
)

// Condition is a non-fatal event the scheduler recovered from locally.
type Condition struct {
	Kind    ConditionKind
	Time    time.Time
	Elapsed time.Duration
	ActorID int
	Lag     time.Duration
	Err     error
}

// Observer receives the scheduler's outward reports. Implementations must
// not block; they are called from the scheduling loop.
type Observer interface {
	OnTick(TickEvent)
	OnStateChange(from, to RunState)
	OnCondition(Condition)
}

// NopObserver ignores all reports.
type NopObserver struct{}

func (NopObserver) OnTick(TickEvent)               {}
func (NopObserver) OnStateChange(from, to RunState) {}
func (NopObserver) OnCondition(Condition)          {}

// Observers fans every report out to each member in order.
type Observers []Observer

func (o Observers) OnTick(e TickEvent) {
	for _, obs := range o {
		obs.OnTick(e)
	}
}

func (o Observers) OnStateChange(from, to RunState) {
	for _, obs := range o {
		obs.OnStateChange(from, to)
	}
}

func (o Observers) OnCondition(c Condition) {
	for _, obs := range o {
		obs.OnCondition(c)
	}
}
