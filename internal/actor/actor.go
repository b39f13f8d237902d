// Package actor runs workloads in goroutines on behalf of the scheduler.
package actor

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of an actor.
type State int32

const (
	// StateIdle indicates the actor is between iterations.
	StateIdle State = iota
	// StateRunning indicates an iteration is in flight.
	StateRunning
	// StateRetiring indicates retirement was requested; the current
	// iteration may still be finishing.
	StateRetiring
	// StateStopped indicates the actor goroutine has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRetiring:
		return "retiring"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Actor is one concurrent unit of simulated load.
//
// An actor has its own data scope, which the workload can use to carry
// values such as session tokens from one iteration to the next.
type Actor struct {
	id    int
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	retireCh   chan struct{}
	retireOnce sync.Once
	doneCh     chan struct{}
	doneOnce   sync.Once

	iterations atomic.Int64

	data   map[string]any
	dataMu sync.RWMutex
}

func newActor(ctx context.Context, id int) *Actor {
	ctx, cancel := context.WithCancel(ctx)
	return &Actor{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		retireCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
		data:     make(map[string]any),
	}
}

func (a *Actor) ID() int { return a.id }

// Done is closed once the actor goroutine has exited.
func (a *Actor) Done() <-chan struct{} { return a.doneCh }

func (a *Actor) State() State { return State(a.state.Load()) }

// Iterations returns how many iterations the actor has started.
func (a *Actor) Iterations() int64 { return a.iterations.Load() }

// RequestRetire asks the actor to stop after its current iteration.
func (a *Actor) RequestRetire() {
	for {
		cur := State(a.state.Load())
		if cur == StateRetiring || cur == StateStopped {
			return
		}
		if a.state.CompareAndSwap(int32(cur), int32(StateRetiring)) {
			a.retireOnce.Do(func() { close(a.retireCh) })
			return
		}
	}
}

// ForceStop cancels the in-flight iteration. The actor exits promptly even
// if its workload ignores cancellation.
func (a *Actor) ForceStop() {
	a.RequestRetire()
	a.cancel()
}

func (a *Actor) retiring() bool {
	select {
	case <-a.retireCh:
		return true
	default:
		return a.ctx.Err() != nil
	}
}

// begin moves Idle to Running; it fails once retirement was requested.
func (a *Actor) begin() bool {
	return a.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
}

func (a *Actor) end() {
	a.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
}

func (a *Actor) markStopped() {
	a.state.Store(int32(StateStopped))
	a.cancel()
	a.doneOnce.Do(func() { close(a.doneCh) })
}

// Get reads a value from the actor's data scope.
func (a *Actor) Get(key string) (any, bool) {
	a.dataMu.RLock()
	defer a.dataMu.RUnlock()
	v, ok := a.data[key]
	return v, ok
}

// Set stores a value in the actor's data scope.
func (a *Actor) Set(key string, value any) {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	a.data[key] = value
}
