package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tideline/internal/metrics"
	"github.com/wesleyorama2/tideline/internal/rate"
	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

func referenceTimeline() *timeline.Timeline {
	return timeline.MustBuild(
		timeline.Ramp(10, 20*time.Second),
		timeline.Step(20, 50*time.Second),
	)
}

func tickAt(tl *timeline.Timeline, start time.Time, elapsed time.Duration, live int) scheduler.TickEvent {
	pos := tl.Progress(elapsed)
	return scheduler.TickEvent{
		Time:         start.Add(elapsed),
		Elapsed:      elapsed,
		Total:        pos.Total,
		Segment:      pos.Segment,
		InTimeline:   pos.Found,
		StagePercent: pos.StagePercent,
		Target:       pos.Target,
		Live:         live,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"Manual", ModeManual, false},
		{"none", ModeNone, false},
		{"off", ModeNone, false},
		{"fancy", ModeAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "manual", ModeManual.String())
}

func TestConsole_NonTTYThrottlesLines(t *testing.T) {
	tl := referenceTimeline()
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "ref", Writer: &buf, UpdateInterval: time.Second, Stages: tl.Len(), NoColor: true})
	require.False(t, c.IsTTY())

	start := time.Now()
	for ms := 0; ms <= 2500; ms += 100 {
		c.OnTick(tickAt(tl, start, time.Duration(ms)*time.Millisecond, 0))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3, "one line per update interval")
	assert.Contains(t, lines[0], "stage 1/2 ramp-up")
	assert.Contains(t, lines[0], "0ms / 1m 10s")
	assert.NotContains(t, buf.String(), "\r")
}

func TestConsole_AutoBarFillsWithElapsed(t *testing.T) {
	tl := referenceTimeline()
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, Stages: tl.Len(), NoColor: true})

	c.OnTick(tickAt(tl, time.Now(), 35*time.Second, 20))

	out := buf.String()
	assert.Contains(t, out, "["+strings.Repeat(progressFilled, 20)+strings.Repeat(progressEmpty, 20)+"]")
	assert.Contains(t, out, " 50%")
	assert.Contains(t, out, "actors 20/20")
}

func TestConsole_ManualBarPerStage(t *testing.T) {
	tl := referenceTimeline()
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{
		Mode:        ModeManual,
		ManualTicks: 10,
		Writer:      &buf,
		ForceTTY:    true,
		NoColor:     true,
		Stages:      tl.Len(),
	})
	require.True(t, c.IsTTY())

	start := time.Now()
	c.OnTick(tickAt(tl, start, 10*time.Second, 5))
	assert.Contains(t, buf.String(), "[#####.....]  50%")
	assert.NotContains(t, buf.String(), "\n")

	c.OnTick(tickAt(tl, start, 15*time.Second, 8))
	assert.NotContains(t, buf.String(), "\n", "same stage redraws in place")

	c.OnTick(tickAt(tl, start, 20*time.Second, 20))
	out := buf.String()
	assert.Contains(t, out, "\n\r", "a new stage keeps the previous bar")
	assert.Contains(t, out, "stage 2/2 steady")
	assert.Contains(t, out, "[..........]   0%")
}

func TestConsole_ModeNoneDrawsNothing(t *testing.T) {
	tl := referenceTimeline()
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Mode: ModeNone, Writer: &buf, NoColor: true})

	c.OnTick(tickAt(tl, time.Now(), time.Second, 1))
	assert.Empty(t, buf.String())

	c.OnStateChange(scheduler.StateNotStarted, scheduler.StateRunning)
	assert.Equal(t, "state: not-started -> running\n", buf.String())
}

func TestConsole_StateAndConditionsEndProgressLine(t *testing.T) {
	tl := referenceTimeline()
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceTTY: true, NoColor: true, Stages: tl.Len()})

	c.OnTick(tickAt(tl, time.Now(), time.Second, 1))
	c.OnCondition(scheduler.Condition{
		Kind:    scheduler.ConditionDrift,
		Elapsed: 1500 * time.Millisecond,
		Lag:     150 * time.Millisecond,
	})
	c.OnCondition(scheduler.Condition{Kind: scheduler.ConditionRetireTimeout, ActorID: 7})
	c.OnCondition(scheduler.Condition{Kind: scheduler.ConditionSpawnError, Err: errors.New("boom")})
	c.OnStateChange(scheduler.StateRunning, scheduler.StateCancelled)

	out := buf.String()
	assert.Contains(t, out, clearToEnd+"\n! scheduling drift at 1.5s: tick 150ms late\n")
	assert.Contains(t, out, "! actor 7 did not retire in time, force stopped\n")
	assert.Contains(t, out, "spawn failed at 0ms: boom")
	assert.True(t, strings.HasSuffix(out, "state: running -> cancelled\n"))
}

func TestConsole_PrintHeader(t *testing.T) {
	tl := timeline.MustBuild(
		timeline.Ramp(10, 20*time.Second),
		timeline.Stage{Kind: timeline.KindStep, Target: 20, Duration: 50 * time.Second, Name: "plateau"},
	)
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "checkout", Writer: &buf, NoColor: true})

	c.PrintHeader(tl)

	out := buf.String()
	assert.Contains(t, out, "checkout - 2 stages, 1m 10s")
	assert.Contains(t, out, "1. ramp 0 -> 10 over 20.0s")
	assert.Contains(t, out, "2. step 20 for 50.0s (plateau)")
}

func TestConsole_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "ref", Writer: &buf, NoColor: true})

	c.PrintSummary(&scheduler.Result{
		State:        scheduler.StateCancelled,
		Elapsed:      12 * time.Second,
		Ticks:        1200,
		Spawned:      5,
		Retired:      5,
		ForceStopped: 1,
		DriftEvents:  2,
		CancelReason: "stop requested",
	}, &metrics.Snapshot{
		TotalRequests:    2000,
		Iterations:       400,
		FailedIterations: 3,
		ErrorRate:        0.01,
		RPS:              166.6,
		Latency:          metrics.LatencyStats{P95: 42 * time.Millisecond},
	})

	out := buf.String()
	assert.Contains(t, out, "ref - Cancelled (stop requested)")
	assert.Contains(t, out, "Ticks:         1,200")
	assert.Contains(t, out, "5 spawned, 5 retired, 1 force stopped")
	assert.Contains(t, out, "2 drift, 0 spawn errors, 0 lost actors")
	assert.Contains(t, out, "Iterations:    400 (3 failed, 0 timed out)")
	assert.Contains(t, out, "Requests:      2,000 (166.6/s)")
	assert.Contains(t, out, "Success Rate:  99.0%")
	assert.Contains(t, out, "P95:  42ms")
}

func TestConsole_PrintSummaryWithoutMetrics(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "dry", Writer: &buf, NoColor: true})

	c.PrintSummary(&scheduler.Result{State: scheduler.StateCompleted, Spawned: 3, Retired: 3}, nil)

	out := buf.String()
	assert.Contains(t, out, "dry - Completed")
	assert.NotContains(t, out, "Conditions")
	assert.NotContains(t, out, "Latency")
}

func TestConsole_PrintRateLimit(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "capped", Writer: &buf, NoColor: true})

	c.PrintRateLimit(rate.Stats{Rate: 50, Reserved: 1200, TotalWaitTime: 1500 * time.Millisecond})

	assert.Contains(t, buf.String(), "Rate Limit:    50.0/s, 1,200 iterations admitted, 1.50s spent waiting")
}

func TestRenderTicks(t *testing.T) {
	assert.Equal(t, "[....]", renderTicks(0, 4))
	assert.Equal(t, "[##..]", renderTicks(50, 4))
	assert.Equal(t, "[####]", renderTicks(100, 4))
	assert.Equal(t, "[####]", renderTicks(140, 4))
	assert.Equal(t, "[....]", renderTicks(-5, 4))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "1m 30s", formatDuration(90*time.Second))
	assert.Equal(t, "1h 02m 03s", formatDuration(time.Hour+2*time.Minute+3*time.Second))

	assert.Equal(t, "500µs", formatDurationShort(500*time.Microsecond))
	assert.Equal(t, "1.50s", formatDurationShort(1500*time.Millisecond))

	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-12,345", formatNumber(-12345))
}
