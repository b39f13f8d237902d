package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

type fakeHandle struct {
	id       int
	done     chan struct{}
	once     sync.Once
	stubborn bool
	retired  bool
	forced   bool
}

func (h *fakeHandle) ID() int               { return h.id }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) stop()                 { h.once.Do(func() { close(h.done) }) }

func (h *fakeHandle) ForceStop() {
	h.forced = true
	h.stop()
}

type fakePool struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	stubborn  bool
	failFirst int
	attempts  int
}

func (p *fakePool) Spawn(ctx context.Context) (scheduler.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.attempts <= p.failFirst {
		return nil, errors.New("no capacity")
	}

	h := &fakeHandle{id: len(p.handles) + 1, done: make(chan struct{}), stubborn: p.stubborn}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePool) RequestRetire(h scheduler.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fh := h.(*fakeHandle)
	fh.retired = true
	if !fh.stubborn {
		fh.stop()
	}
}

func (p *fakePool) running() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, h := range p.handles {
		select {
		case <-h.done:
		default:
			n++
		}
	}
	return n
}

type recorder struct {
	mu         sync.Mutex
	ticks      []scheduler.TickEvent
	states     []scheduler.RunState
	conditions []scheduler.Condition
	onTick     func(scheduler.TickEvent)
}

func (r *recorder) OnTick(e scheduler.TickEvent) {
	r.mu.Lock()
	r.ticks = append(r.ticks, e)
	hook := r.onTick
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) OnStateChange(_, to scheduler.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recorder) OnCondition(c scheduler.Condition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions = append(r.conditions, c)
}

func (r *recorder) count(kind scheduler.ConditionKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.conditions {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func newScheduler(t *testing.T, tl *timeline.Timeline, pool scheduler.Pool, opts scheduler.Options) *scheduler.Scheduler {
	t.Helper()
	if opts.TickInterval == 0 {
		opts.TickInterval = 5 * time.Millisecond
	}
	s, err := scheduler.New(tl, pool, opts)
	require.NoError(t, err)
	return s
}

func TestNew_RequiresPool(t *testing.T) {
	_, err := scheduler.New(timeline.MustBuild(), nil, scheduler.Options{})
	assert.Error(t, err)
}

func TestNew_RejectsNilTimeline(t *testing.T) {
	_, err := scheduler.New(nil, &fakePool{}, scheduler.Options{})
	assert.ErrorIs(t, err, timeline.ErrInvariant)
}

func TestRun_EmptyTimelineCompletesImmediately(t *testing.T) {
	pool := &fakePool{}
	s := newScheduler(t, timeline.MustBuild(), pool, scheduler.Options{})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCompleted, res.State)
	assert.Equal(t, int64(1), res.Ticks)
	assert.Zero(t, res.Spawned)
	assert.Equal(t, scheduler.StateCompleted, s.State())
}

func TestRun_SecondRunFails(t *testing.T) {
	s := newScheduler(t, timeline.MustBuild(), &fakePool{}, scheduler.Options{})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrAlreadyStarted)
}

func TestRun_CompletesAndDrains(t *testing.T) {
	tl := timeline.MustBuild(
		timeline.Step(3, 60*time.Millisecond),
		timeline.Ramp(0, 40*time.Millisecond),
	)
	pool := &fakePool{}
	rec := &recorder{}
	s := newScheduler(t, tl, pool, scheduler.Options{Observer: rec})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCompleted, res.State)
	assert.Empty(t, res.CancelReason)
	assert.GreaterOrEqual(t, res.Spawned, 3)
	assert.Equal(t, res.Spawned, res.Retired)
	assert.Zero(t, res.ForceStopped)
	assert.Zero(t, pool.running())
	assert.Zero(t, s.Live())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}

	assert.Equal(t, []scheduler.RunState{scheduler.StateRunning, scheduler.StateCompleted}, rec.states)
}

func TestRun_LiveTracksTarget(t *testing.T) {
	tl := timeline.MustBuild(
		timeline.Ramp(8, 50*time.Millisecond),
		timeline.Step(4, 30*time.Millisecond),
		timeline.Ramp(0, 30*time.Millisecond),
	)
	rec := &recorder{}
	s := newScheduler(t, tl, &fakePool{}, scheduler.Options{Observer: rec})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, scheduler.StateCompleted, res.State)

	require.NotEmpty(t, rec.ticks)
	assert.Equal(t, int64(len(rec.ticks)), res.Ticks)

	for i, e := range rec.ticks[:len(rec.ticks)-1] {
		assert.Equal(t, e.Target, e.Live, "tick %d", i)
		assert.Equal(t, tl.TargetConcurrency(e.Elapsed), e.Target, "tick %d", i)
		assert.Equal(t, int64(i+1), e.Seq)
	}

	last := rec.ticks[len(rec.ticks)-1]
	assert.GreaterOrEqual(t, last.Elapsed, tl.TotalDuration())
	assert.Zero(t, last.Target)
}

func TestRun_StopCancelsWithinATick(t *testing.T) {
	tl := timeline.MustBuild(timeline.Step(5, time.Minute))
	pool := &fakePool{}
	rec := &recorder{}
	s := newScheduler(t, tl, pool, scheduler.Options{TickInterval: 10 * time.Millisecond, Observer: rec})

	var stoppedAt time.Time
	rec.onTick = func(e scheduler.TickEvent) {
		if e.Seq == 3 {
			stoppedAt = time.Now()
			go s.Stop()
		}
	}

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCancelled, res.State)
	assert.Equal(t, "stop requested", res.CancelReason)
	assert.Less(t, time.Since(stoppedAt), 500*time.Millisecond)
	assert.Equal(t, 5, res.Spawned)
	assert.Equal(t, 5, res.Retired)
	assert.Zero(t, pool.running())
	assert.Equal(t, scheduler.StateCancelled, s.State())
	assert.Equal(t, []scheduler.RunState{scheduler.StateRunning, scheduler.StateCancelled}, rec.states)
}

func TestRun_ContextCancellation(t *testing.T) {
	tl := timeline.MustBuild(timeline.Step(2, time.Minute))
	pool := &fakePool{}
	s := newScheduler(t, tl, pool, scheduler.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	res, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCancelled, res.State)
	assert.Contains(t, res.CancelReason, "deadline exceeded")
	assert.Zero(t, pool.running())
}

func TestRun_StopBeforeRunSpawnsNothing(t *testing.T) {
	pool := &fakePool{}
	s := newScheduler(t, timeline.MustBuild(timeline.Step(3, time.Minute)), pool, scheduler.Options{})
	s.Stop()
	s.Stop()

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCancelled, res.State)
	assert.Zero(t, res.Ticks)
	assert.Zero(t, res.Spawned)
}

func TestRun_MaxDuration(t *testing.T) {
	s := newScheduler(t, timeline.MustBuild(timeline.Step(1, time.Minute)), &fakePool{}, scheduler.Options{
		MaxDuration: 30 * time.Millisecond,
	})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCancelled, res.State)
	assert.Contains(t, res.CancelReason, "max duration")
}

func TestRun_ForceStopsStragglers(t *testing.T) {
	pool := &fakePool{stubborn: true}
	rec := &recorder{}
	core, logs := observer.New(zapcore.WarnLevel)

	s := newScheduler(t, timeline.MustBuild(timeline.Step(3, 20*time.Millisecond)), pool, scheduler.Options{
		GracefulStop:  20 * time.Millisecond,
		ForceStopWait: 100 * time.Millisecond,
		Observer:      rec,
		Logger:        zap.New(core),
	})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCompleted, res.State)
	assert.Equal(t, 3, res.ForceStopped)
	assert.Equal(t, 3, rec.count(scheduler.ConditionRetireTimeout))
	assert.Zero(t, pool.running())
	assert.Equal(t, 3, logs.FilterMessage("actor retire timeout, force stopping").Len())

	for _, h := range pool.handles {
		assert.True(t, h.retired)
		assert.True(t, h.forced)
	}
}

func TestRun_SpawnErrorsAreRetried(t *testing.T) {
	pool := &fakePool{failFirst: 2}
	rec := &recorder{}
	s := newScheduler(t, timeline.MustBuild(timeline.Step(2, 60*time.Millisecond)), pool, scheduler.Options{Observer: rec})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateCompleted, res.State)
	assert.Equal(t, 2, res.SpawnErrors)
	assert.Equal(t, 2, res.Spawned)
	assert.Equal(t, 2, rec.count(scheduler.ConditionSpawnError))
}

func TestRun_ReportsDrift(t *testing.T) {
	rec := &recorder{}
	core, logs := observer.New(zapcore.WarnLevel)

	s := newScheduler(t, timeline.MustBuild(timeline.Step(1, 80*time.Millisecond)), &fakePool{}, scheduler.Options{
		TickInterval:   5 * time.Millisecond,
		DriftThreshold: 10 * time.Millisecond,
		Observer:       rec,
		Logger:         zap.New(core),
	})

	rec.onTick = func(e scheduler.TickEvent) {
		if e.Seq == 1 {
			time.Sleep(30 * time.Millisecond)
		}
	}

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.DriftEvents, 1)
	assert.Equal(t, res.DriftEvents, rec.count(scheduler.ConditionDrift))
	assert.GreaterOrEqual(t, logs.FilterMessage("scheduling drift").Len(), 1)
}

func TestRun_ReplacesLostActors(t *testing.T) {
	pool := &fakePool{}
	rec := &recorder{}
	s := newScheduler(t, timeline.MustBuild(timeline.Step(2, 80*time.Millisecond)), pool, scheduler.Options{Observer: rec})

	rec.onTick = func(e scheduler.TickEvent) {
		if e.Seq == 3 {
			pool.mu.Lock()
			pool.handles[0].stop()
			pool.mu.Unlock()
		}
	}

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Lost)
	assert.Equal(t, 3, res.Spawned)
	assert.Equal(t, 1, rec.count(scheduler.ConditionActorLost))
}

func TestRunState_String(t *testing.T) {
	assert.Equal(t, "not-started", scheduler.StateNotStarted.String())
	assert.Equal(t, "running", scheduler.StateRunning.String())
	assert.Equal(t, "completed", scheduler.StateCompleted.String())
	assert.Equal(t, "cancelled", scheduler.StateCancelled.String())
	assert.True(t, scheduler.StateCancelled.Terminal())
	assert.False(t, scheduler.StateRunning.Terminal())
}

func TestTickEvent_Progress(t *testing.T) {
	assert.Equal(t, 0.5, scheduler.TickEvent{Elapsed: time.Second, Total: 2 * time.Second}.Progress())
	assert.Equal(t, 1.0, scheduler.TickEvent{Elapsed: 3 * time.Second, Total: 2 * time.Second}.Progress())
	assert.Equal(t, 1.0, scheduler.TickEvent{}.Progress())
}
