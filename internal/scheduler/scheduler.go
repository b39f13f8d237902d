// Package scheduler drives an actor pool so that the number of live actors
// follows a timeline's target concurrency over wall-clock time.
//
// The scheduler owns exactly one goroutine (the one calling Run). It ticks at
// a fixed interval, recomputes elapsed time from the start instant on every
// tick, and reconciles the live actor count toward the target by spawning new
// actors or retiring the newest ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/tideline/internal/timeline"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("scheduler: run already started")

// Handle refers to one running actor.
type Handle interface {
	ID() int
	// Done is closed once the actor has fully stopped.
	Done() <-chan struct{}
	// ForceStop cancels the actor's in-flight work.
	ForceStop()
}

// Pool starts and retires actors on behalf of the scheduler.
type Pool interface {
	// Spawn starts a new actor. The context carries values only; the
	// scheduler never cancels it, actors are stopped through their handle.
	Spawn(ctx context.Context) (Handle, error)
	// RequestRetire asks the actor to stop after its current unit of work.
	// It must not block.
	RequestRetire(h Handle)
}

// Options tunes a Scheduler. Zero values select defaults.
type Options struct {
	// TickInterval is the reconciliation period. Default 100ms.
	TickInterval time.Duration
	// GracefulStop bounds how long drain waits for retiring actors. Default 30s.
	GracefulStop time.Duration
	// ForceStopWait bounds how long drain waits after force-stopping stragglers. Default 5s.
	ForceStopWait time.Duration
	// DriftThreshold is the tick lateness that raises a drift condition.
	// Default is TickInterval.
	DriftThreshold time.Duration
	// MaxDuration cancels the run when exceeded. Zero means no limit.
	MaxDuration time.Duration

	Logger   *zap.Logger
	Observer Observer
}

const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultGracefulStop  = 30 * time.Second
	DefaultForceStopWait = 5 * time.Second
)

func (o *Options) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.GracefulStop <= 0 {
		o.GracefulStop = DefaultGracefulStop
	}
	if o.ForceStopWait <= 0 {
		o.ForceStopWait = DefaultForceStopWait
	}
	if o.DriftThreshold <= 0 {
		o.DriftThreshold = o.TickInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
}

// Result summarizes a finished run.
type Result struct {
	State        RunState
	StartTime    time.Time
	EndTime      time.Time
	Elapsed      time.Duration
	Ticks        int64
	Spawned      int
	Retired      int
	ForceStopped int
	DriftEvents  int
	SpawnErrors  int
	Lost         int
	CancelReason string
}

// Scheduler reconciles a Pool against a Timeline.
type Scheduler struct {
	timeline *timeline.Timeline
	pool     Pool
	opts     Options
	logger   *zap.Logger
	observer Observer

	state  atomic.Int32
	target atomic.Int64
	live   atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	// Owned by the Run goroutine.
	actors   []Handle
	retiring []Handle
	actorCtx context.Context
	start    time.Time
	lastTick time.Time
	seq      int64
	result   Result
}

// New validates the timeline and returns a scheduler ready to Run.
func New(tl *timeline.Timeline, pool Pool, opts Options) (*Scheduler, error) {
	if pool == nil {
		return nil, errors.New("scheduler: pool is required")
	}
	if err := tl.Verify(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	opts.applyDefaults()

	return &Scheduler{
		timeline: tl,
		pool:     pool,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("component", "scheduler")),
		observer: opts.Observer,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// State returns the current run state.
func (s *Scheduler) State() RunState {
	return RunState(s.state.Load())
}

// Target returns the most recently computed target concurrency.
func (s *Scheduler) Target() int {
	return int(s.target.Load())
}

// Live returns the number of live (non-retiring) actors.
func (s *Scheduler) Live() int {
	return int(s.live.Load())
}

// Done is closed when Run has finished draining.
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}

// Stop requests cancellation. It is safe to call any number of times from
// any goroutine, before or during Run.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run executes the timeline and blocks until every actor has drained.
// Cancellation is not an error: the returned Result reports StateCancelled.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	defer close(s.doneCh)

	s.start = time.Now()
	s.lastTick = s.start
	s.result.StartTime = s.start
	s.actorCtx = context.WithoutCancel(ctx)

	total := s.timeline.TotalDuration()
	s.logger.Info("run started",
		zap.Int("stages", s.timeline.Len()),
		zap.Duration("total", total),
		zap.Duration("tick", s.opts.TickInterval),
	)
	s.observer.OnStateChange(StateNotStarted, StateRunning)

	final, reason := s.loop(ctx)

	if final == StateCancelled {
		s.transition(StateCancelled, reason)
	}
	s.drain()
	if final == StateCompleted {
		s.transition(StateCompleted, "")
	}

	s.result.State = final
	s.result.CancelReason = reason
	s.result.EndTime = time.Now()
	s.result.Elapsed = s.result.EndTime.Sub(s.start)

	s.logger.Info("run finished",
		zap.Stringer("state", final),
		zap.Duration("elapsed", s.result.Elapsed),
		zap.Int("spawned", s.result.Spawned),
		zap.Int("retired", s.result.Retired),
		zap.Int("force_stopped", s.result.ForceStopped),
	)

	res := s.result
	return &res, nil
}

// loop runs ticks until the timeline ends or the run is cancelled.
func (s *Scheduler) loop(ctx context.Context) (RunState, string) {
	if reason, cancelled := s.cancelled(ctx); cancelled {
		return StateCancelled, reason
	}

	if s.tick(s.start) {
		return StateCompleted, ""
	}

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.opts.MaxDuration > 0 {
		timer := time.NewTimer(s.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return StateCancelled, "context: " + ctx.Err().Error()
		case <-s.stopCh:
			return StateCancelled, "stop requested"
		case <-deadline:
			return StateCancelled, fmt.Sprintf("max duration %s reached", s.opts.MaxDuration)
		case <-ticker.C:
			// A stop that raced with the tick wins.
			if reason, cancelled := s.cancelled(ctx); cancelled {
				return StateCancelled, reason
			}
			if s.tick(time.Now()) {
				return StateCompleted, ""
			}
		}
	}
}

func (s *Scheduler) cancelled(ctx context.Context) (string, bool) {
	if err := ctx.Err(); err != nil {
		return "context: " + err.Error(), true
	}
	select {
	case <-s.stopCh:
		return "stop requested", true
	default:
		return "", false
	}
}

// tick performs one reconciliation and reports whether the timeline is over.
func (s *Scheduler) tick(now time.Time) bool {
	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}

	lag := time.Duration(0)
	if s.seq > 0 {
		lag = now.Sub(s.lastTick) - s.opts.TickInterval
		if lag < 0 {
			lag = 0
		}
	}
	s.lastTick = now
	s.seq++
	s.result.Ticks++

	if lag > s.opts.DriftThreshold {
		s.result.DriftEvents++
		s.logger.Warn("scheduling drift",
			zap.Duration("lag", lag),
			zap.Duration("threshold", s.opts.DriftThreshold),
			zap.Duration("elapsed", elapsed),
		)
		s.observer.OnCondition(Condition{
			Kind:    ConditionDrift,
			Time:    now,
			Elapsed: elapsed,
			Lag:     lag,
		})
	}

	s.pruneRetiring()
	s.detectLost(now, elapsed)

	total := s.timeline.TotalDuration()
	done := elapsed >= total

	pos := s.timeline.Progress(elapsed)
	target := pos.Target
	if done {
		target = 0
	} else {
		s.reconcile(target, now, elapsed)
	}
	s.target.Store(int64(target))

	s.logger.Debug("tick",
		zap.Int64("seq", s.seq),
		zap.Duration("elapsed", elapsed),
		zap.Int("target", target),
		zap.Int("live", len(s.actors)),
		zap.Int("retiring", len(s.retiring)),
	)

	s.observer.OnTick(TickEvent{
		Seq:          s.seq,
		Time:         now,
		Elapsed:      elapsed,
		Total:        total,
		Segment:      pos.Segment,
		InTimeline:   pos.Found,
		StagePercent: pos.StagePercent,
		Target:       target,
		Live:         len(s.actors),
		Retiring:     len(s.retiring),
		Lag:          lag,
	})

	return done
}

// reconcile spawns or retires actors until the live count equals target.
// Spawn failures stop this tick's spawning; the next tick retries.
func (s *Scheduler) reconcile(target int, now time.Time, elapsed time.Duration) {
	current := len(s.actors)

	switch {
	case target > current:
		for i := current; i < target; i++ {
			h, err := s.pool.Spawn(s.actorCtx)
			if err != nil {
				s.result.SpawnErrors++
				s.logger.Error("spawn failed",
					zap.Error(err),
					zap.Int("live", len(s.actors)),
					zap.Int("target", target),
				)
				s.observer.OnCondition(Condition{
					Kind:    ConditionSpawnError,
					Time:    now,
					Elapsed: elapsed,
					Err:     err,
				})
				break
			}
			s.actors = append(s.actors, h)
			s.result.Spawned++
		}
	case target < current:
		// Newest actors retire first.
		for i := current - 1; i >= target; i-- {
			s.retire(s.actors[i])
		}
		s.actors = s.actors[:target]
	}

	s.live.Store(int64(len(s.actors)))
}

func (s *Scheduler) retire(h Handle) {
	s.pool.RequestRetire(h)
	s.retiring = append(s.retiring, h)
	s.result.Retired++
}

// pruneRetiring forgets retiring actors that have finished.
func (s *Scheduler) pruneRetiring() {
	kept := s.retiring[:0]
	for _, h := range s.retiring {
		if !isDone(h) {
			kept = append(kept, h)
		}
	}
	clear(s.retiring[len(kept):])
	s.retiring = kept
}

// detectLost drops live actors that exited without being retired so the
// following reconcile replaces them.
func (s *Scheduler) detectLost(now time.Time, elapsed time.Duration) {
	kept := s.actors[:0]
	for _, h := range s.actors {
		if !isDone(h) {
			kept = append(kept, h)
			continue
		}
		s.result.Lost++
		s.logger.Warn("actor exited unexpectedly", zap.Int("actor", h.ID()))
		s.observer.OnCondition(Condition{
			Kind:    ConditionActorLost,
			Time:    now,
			Elapsed: elapsed,
			ActorID: h.ID(),
		})
	}
	clear(s.actors[len(kept):])
	s.actors = kept
	s.live.Store(int64(len(s.actors)))
}

// drain retires every live actor and waits for all retiring actors.
// Stragglers past GracefulStop are force-stopped and reported.
func (s *Scheduler) drain() {
	for i := len(s.actors) - 1; i >= 0; i-- {
		s.retire(s.actors[i])
	}
	s.actors = nil
	s.live.Store(0)
	s.target.Store(0)

	if len(s.retiring) == 0 {
		return
	}

	s.logger.Info("draining actors",
		zap.Int("retiring", len(s.retiring)),
		zap.Duration("grace", s.opts.GracefulStop),
	)

	stragglers := waitAll(s.retiring, s.opts.GracefulStop)
	if len(stragglers) == 0 {
		s.retiring = nil
		return
	}

	now := time.Now()
	for _, h := range stragglers {
		h.ForceStop()
		s.result.ForceStopped++
		s.logger.Warn("actor retire timeout, force stopping",
			zap.Int("actor", h.ID()),
			zap.Duration("grace", s.opts.GracefulStop),
		)
		s.observer.OnCondition(Condition{
			Kind:    ConditionRetireTimeout,
			Time:    now,
			Elapsed: now.Sub(s.start),
			ActorID: h.ID(),
		})
	}

	for _, h := range waitAll(stragglers, s.opts.ForceStopWait) {
		s.logger.Error("actor did not stop after force stop", zap.Int("actor", h.ID()))
	}
	s.retiring = nil
}

func (s *Scheduler) transition(to RunState, reason string) {
	from := RunState(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	s.logger.Info("run state changed", fields...)
	s.observer.OnStateChange(from, to)
}

// waitAll waits up to timeout for every handle and returns the ones still
// running.
func waitAll(handles []Handle, timeout time.Duration) []Handle {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i, h := range handles {
		select {
		case <-h.Done():
		case <-timer.C:
			var pending []Handle
			for _, rest := range handles[i:] {
				if !isDone(rest) {
					pending = append(pending, rest)
				}
			}
			return pending
		}
	}
	return nil
}

func isDone(h Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}
