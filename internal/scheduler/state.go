package scheduler

// RunState is the lifecycle state of a scheduled run.
type RunState int32

const (
	// StateNotStarted indicates Run has not been called yet.
	StateNotStarted RunState = iota
	// StateRunning indicates the tick loop is active.
	StateRunning
	// StateCompleted indicates the timeline ran to its end and all actors drained.
	StateCompleted
	// StateCancelled indicates the run was stopped before the timeline ended.
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}
