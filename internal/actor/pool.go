package actor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/tideline/internal/metrics"
	"github.com/wesleyorama2/tideline/internal/rate"
	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/workload"
)

// ErrPoolExhausted is returned by Spawn when MaxActors actors are running.
var ErrPoolExhausted = errors.New("actor pool exhausted")

// PacingType selects the wait between iterations.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacing configures the wait between two iterations of the same actor.
type Pacing struct {
	Type     PacingType
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

func (p Pacing) wait() time.Duration {
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		if diff := p.Max - p.Min; diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// Options configures a Pool.
type Options struct {
	// IterationTimeout abandons an iteration that runs longer. Zero disables it.
	IterationTimeout time.Duration
	Pacing           Pacing
	// MaxIterationRate caps iteration starts per second across all actors.
	// Zero means unlimited.
	MaxIterationRate float64
	// MaxActors bounds concurrently running actors, including retiring ones.
	// Zero means unlimited.
	MaxActors int

	Metrics *metrics.Engine
	Logger  *zap.Logger
}

// Pool starts one goroutine per actor, each repeating the workload until
// retired. It implements scheduler.Pool.
type Pool struct {
	workload workload.Workload
	opts     Options
	limiter  *rate.LeakyBucket
	logger   *zap.Logger

	nextID atomic.Int32
	active atomic.Int32
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[int]*Actor
}

var _ scheduler.Pool = (*Pool)(nil)

// NewPool creates a pool running w.
func NewPool(w workload.Workload, opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &Pool{
		workload: w,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("component", "actor-pool")),
		actors:   make(map[int]*Actor),
	}
	if opts.MaxIterationRate > 0 {
		p.limiter = rate.NewLeakyBucket(opts.MaxIterationRate)
	}
	return p
}

// Spawn starts a new actor.
func (p *Pool) Spawn(ctx context.Context) (scheduler.Handle, error) {
	if p.workload == nil {
		return nil, errors.New("actor pool has no workload")
	}
	if p.opts.MaxActors > 0 && int(p.active.Load()) >= p.opts.MaxActors {
		return nil, fmt.Errorf("%w: %d running", ErrPoolExhausted, p.opts.MaxActors)
	}

	a := newActor(ctx, int(p.nextID.Add(1)))

	p.mu.Lock()
	p.actors[a.id] = a
	p.mu.Unlock()

	p.active.Add(1)
	p.wg.Add(1)
	go p.run(a)

	return a, nil
}

// RequestRetire asks the actor behind h to stop after its current iteration.
func (p *Pool) RequestRetire(h scheduler.Handle) {
	if a, ok := h.(*Actor); ok {
		a.RequestRetire()
		return
	}
	p.mu.Lock()
	a := p.actors[h.ID()]
	p.mu.Unlock()
	if a != nil {
		a.RequestRetire()
	}
}

// Active returns the number of actor goroutines still running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Get returns a running actor by id.
func (p *Pool) Get(id int) (*Actor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.actors[id]
	return a, ok
}

// Limiter returns the shared iteration rate limiter, or nil.
func (p *Pool) Limiter() *rate.LeakyBucket {
	return p.limiter
}

// Wait blocks until every actor goroutine has exited or timeout elapses.
// It reports whether all actors exited.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Close force-stops every actor.
func (p *Pool) Close() {
	p.mu.Lock()
	actors := make([]*Actor, 0, len(p.actors))
	for _, a := range p.actors {
		actors = append(actors, a)
	}
	p.mu.Unlock()

	for _, a := range actors {
		a.ForceStop()
	}
}

func (p *Pool) run(a *Actor) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.actors, a.id)
		p.mu.Unlock()
		p.active.Add(-1)
		a.markStopped()
	}()

	log := p.logger.With(zap.Int("actor", a.id))
	log.Debug("actor started")

	for !a.retiring() {
		if p.limiter != nil && !p.sleepUntil(a, p.limiter.Next()) {
			break
		}
		if !a.begin() {
			break
		}

		outcome, err := p.iterate(a)
		a.end()

		switch {
		case a.ctx.Err() != nil:
			// Force-stopped: the iteration was cut short and is not counted.
		case p.opts.Metrics != nil:
			p.opts.Metrics.RecordIteration(outcome)
		}
		if err != nil && a.ctx.Err() == nil {
			log.Debug("iteration failed", zap.Int64("iteration", a.Iterations()), zap.Error(err))
		}

		if wait := p.opts.Pacing.wait(); wait > 0 && !p.sleepUntil(a, time.Now().Add(wait)) {
			break
		}
	}

	log.Debug("actor stopped", zap.Int64("iterations", a.Iterations()))
}

// iterate runs one iteration. The workload runs in its own goroutine so an
// iteration that ignores its context can still be abandoned on timeout or
// force stop.
func (p *Pool) iterate(a *Actor) (metrics.IterationOutcome, error) {
	ctx := a.ctx
	if p.opts.IterationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.IterationTimeout)
		defer cancel()
	}

	it := &workload.Iteration{
		ActorID:  a.id,
		Number:   a.iterations.Add(1),
		Data:     a,
		Retiring: a.retireCh,
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("workload panic: %v", r)
			}
		}()
		result <- p.workload.Iterate(ctx, it)
	}()

	select {
	case err := <-result:
		if err == nil {
			return metrics.IterationSuccess, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && a.ctx.Err() == nil {
			return metrics.IterationTimeout, err
		}
		return metrics.IterationFailure, err
	case <-ctx.Done():
		if a.ctx.Err() == nil {
			return metrics.IterationTimeout, fmt.Errorf("iteration %d abandoned after %s", it.Number, p.opts.IterationTimeout)
		}
		return metrics.IterationFailure, a.ctx.Err()
	}
}

// sleepUntil waits until t. It returns false if the actor was retired or
// stopped meanwhile.
func (p *Pool) sleepUntil(a *Actor, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return !a.retiring()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-a.ctx.Done():
		return false
	case <-a.retireCh:
		return false
	case <-timer.C:
		return true
	}
}
