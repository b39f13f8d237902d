// Package workload defines the unit of work an actor repeats while it is
// live, plus the built-in workloads.
package workload

import (
	"context"
	"time"
)

// Scope is per-actor storage that survives across iterations.
type Scope interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// Iteration describes one execution of a workload by one actor.
type Iteration struct {
	ActorID int
	Number  int64
	Data    Scope
	// Retiring is closed when the actor has been asked to retire. Workloads
	// with several steps may check it between steps and return early.
	Retiring <-chan struct{}
}

// Workload is executed repeatedly by every live actor. Returning an error
// marks the iteration failed; the actor keeps running.
type Workload interface {
	Iterate(ctx context.Context, it *Iteration) error
}

// Func adapts a function to Workload.
type Func func(ctx context.Context, it *Iteration) error

func (f Func) Iterate(ctx context.Context, it *Iteration) error {
	return f(ctx, it)
}

// Idle only waits. It rehearses a profile without generating traffic.
type Idle struct {
	Think time.Duration
}

func (w Idle) Iterate(ctx context.Context, it *Iteration) error {
	think := w.Think
	if think <= 0 {
		think = time.Second
	}
	return sleep(ctx, it.Retiring, think)
}

// sleep waits for d, returning early without error on retire and with
// ctx.Err() on cancellation.
func sleep(ctx context.Context, retiring <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-retiring:
		return nil
	case <-timer.C:
		return nil
	}
}
