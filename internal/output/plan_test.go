package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tideline/internal/timeline"
)

func TestSamples(t *testing.T) {
	samples := Samples(referenceTimeline(), 10*time.Second)
	require.Len(t, samples, 8)

	want := []Sample{
		{Elapsed: 0, Stage: 1, StagePercent: 0, Target: 0},
		{Elapsed: 10 * time.Second, Stage: 1, StagePercent: 50, Target: 5},
		{Elapsed: 20 * time.Second, Stage: 2, StagePercent: 0, Target: 20},
		{Elapsed: 30 * time.Second, Stage: 2, StagePercent: 20, Target: 20},
	}
	assert.Equal(t, want, samples[:4])
	assert.Equal(t, Sample{Elapsed: 70 * time.Second, Stage: 2, StagePercent: 100, Target: 20}, samples[7])
}

func TestSamples_IncludesTotalWhenNotAligned(t *testing.T) {
	tl := timeline.MustBuild(timeline.Ramp(4, 5*time.Second))

	samples := Samples(tl, 2*time.Second)

	require.Len(t, samples, 4)
	assert.Equal(t, 5*time.Second, samples[3].Elapsed)
	assert.Equal(t, 4, samples[3].Target)
}

func TestSamples_EmptyTimeline(t *testing.T) {
	samples := Samples(timeline.MustBuild(), time.Second)
	assert.Equal(t, []Sample{{}}, samples)
}

func TestWritePlan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePlan(&buf, referenceTimeline(), 35*time.Second))

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "ramp-up")
	assert.Contains(t, out, "1m10s")
	assert.Contains(t, out, "35s")
}
