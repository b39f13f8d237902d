package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

func TestExporter_OnTick(t *testing.T) {
	engine := NewEngine()
	exp := NewExporter(engine)
	tl := timeline.MustBuild(timeline.Ramp(10, 10*time.Second), timeline.Step(10, 10*time.Second))

	pos := tl.Progress(5 * time.Second)
	exp.OnTick(scheduler.TickEvent{
		Seq:          1,
		Elapsed:      pos.Elapsed,
		Total:        pos.Total,
		Segment:      pos.Segment,
		InTimeline:   pos.Found,
		StagePercent: pos.StagePercent,
		Target:       pos.Target,
		Live:         4,
		Retiring:     1,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(exp.Ticks))
	assert.Equal(t, 5.0, testutil.ToFloat64(exp.TargetActors))
	assert.Equal(t, 4.0, testutil.ToFloat64(exp.LiveActors))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.RetiringActors))
	assert.Equal(t, 0.0, testutil.ToFloat64(exp.StageIndex))
	assert.Equal(t, 50.0, testutil.ToFloat64(exp.StageProgress))
	assert.Equal(t, 5.0, testutil.ToFloat64(exp.Elapsed))

	assert.Equal(t, PhaseRampUp, engine.Phase())
	assert.Equal(t, 4, engine.ActiveActors())

	exp.OnTick(scheduler.TickEvent{Elapsed: 21 * time.Second, Total: 20 * time.Second})
	assert.Equal(t, -1.0, testutil.ToFloat64(exp.StageIndex))
	assert.Equal(t, PhaseDrain, engine.Phase())
}

func TestExporter_Conditions(t *testing.T) {
	exp := NewExporter(nil)

	exp.OnCondition(scheduler.Condition{Kind: scheduler.ConditionDrift})
	exp.OnCondition(scheduler.Condition{Kind: scheduler.ConditionDrift})
	exp.OnCondition(scheduler.Condition{Kind: scheduler.ConditionRetireTimeout})
	exp.OnCondition(scheduler.Condition{Kind: scheduler.ConditionSpawnError})
	exp.OnCondition(scheduler.Condition{Kind: scheduler.ConditionActorLost})

	assert.Equal(t, 2.0, testutil.ToFloat64(exp.DriftEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.RetireTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.SpawnErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.LostActors))
}

func TestExporter_StateChange(t *testing.T) {
	engine := NewEngine()
	exp := NewExporter(engine)

	exp.OnStateChange(scheduler.StateNotStarted, scheduler.StateRunning)
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.RunState))

	exp.OnStateChange(scheduler.StateRunning, scheduler.StateCompleted)
	assert.Equal(t, 2.0, testutil.ToFloat64(exp.RunState))
	assert.Equal(t, PhaseDone, engine.Phase())
}

func TestExporter_EngineCollector(t *testing.T) {
	engine := NewEngine()
	engine.RecordIteration(IterationSuccess)
	engine.RecordIteration(IterationTimeout)
	engine.RecordLatency(time.Millisecond, "", true, 42)

	exp := NewExporter(engine)

	count, err := testutil.GatherAndCount(exp.Registry(), "tideline_iterations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(exp.Registry(), "tideline_request_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestExporter_Handler(t *testing.T) {
	exp := NewExporter(NewEngine())
	exp.OnTick(scheduler.TickEvent{Target: 3, Live: 3, Total: time.Second, InTimeline: true})

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tideline_target_actors 3")
	assert.Contains(t, string(body), "tideline_ticks_total 1")
	assert.Contains(t, string(body), `tideline_iterations_total{result="success"} 0`)
}
