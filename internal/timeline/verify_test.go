package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wellFormed mirrors Build([Ramp(10, 20s), Step(20, 50s)]).
func wellFormed() []Segment {
	return []Segment{
		{Index: 0, Kind: KindRamp, Target: 10, PrevTarget: 0, Duration: 20 * time.Second, Start: 0, End: 20 * time.Second},
		{Index: 1, Kind: KindStep, Target: 20, PrevTarget: 10, Duration: 50 * time.Second, Start: 20 * time.Second, End: 70 * time.Second},
	}
}

func TestVerify_WellFormed(t *testing.T) {
	built, err := Build([]Stage{Ramp(10, 20*time.Second), Step(20, 50*time.Second)})
	require.NoError(t, err)
	assert.Equal(t, wellFormed(), built.segments)

	assert.NoError(t, (&Timeline{segments: wellFormed()}).Verify())
	assert.NoError(t, (&Timeline{}).Verify())
}

func TestVerify_CorruptedSegments(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(segs []Segment)
		wantMsg string
	}{
		{
			name:    "unordered end times",
			corrupt: func(segs []Segment) { segs[0].End = 80 * time.Second },
			wantMsg: "not ordered",
		},
		{
			name:    "index mismatch",
			corrupt: func(segs []Segment) { segs[1].Index = 5 },
			wantMsg: "carries index 5",
		},
		{
			name: "negative duration",
			corrupt: func(segs []Segment) {
				segs[0].Duration = -time.Second
				segs[0].End = -time.Second
			},
			wantMsg: "negative",
		},
		{
			name:    "negative target",
			corrupt: func(segs []Segment) { segs[1].Target = -1 },
			wantMsg: "negative",
		},
		{
			name:    "target above max",
			corrupt: func(segs []Segment) {
				segs[1].Target = MaxTarget
				segs[1].Target++
			},
			wantMsg: "exceeds",
		},
		{
			name: "start does not follow previous end",
			corrupt: func(segs []Segment) {
				segs[1].Start = 21 * time.Second
				segs[1].End = 71 * time.Second
			},
			wantMsg: "starts at 21s",
		},
		{
			name:    "end is not start plus duration",
			corrupt: func(segs []Segment) { segs[0].End = 19 * time.Second },
			wantMsg: "ends at 19s",
		},
		{
			name:    "broken baseline chain",
			corrupt: func(segs []Segment) { segs[1].PrevTarget = 3 },
			wantMsg: "baseline is 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := wellFormed()
			tt.corrupt(segs)

			err := (&Timeline{segments: segs}).Verify()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvariant))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
