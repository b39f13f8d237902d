package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wesleyorama2/tideline/internal/timeline"
)

// Sample is the timeline resolved at one instant.
type Sample struct {
	Elapsed      time.Duration `json:"elapsed"`
	Stage        int           `json:"stage"`
	StagePercent int           `json:"stagePercent"`
	Target       int           `json:"target"`
}

// Samples resolves the timeline every interval from zero up to and
// including its total duration. Stage is 1-based, 0 outside the timeline.
func Samples(tl *timeline.Timeline, every time.Duration) []Sample {
	total := tl.TotalDuration()
	if every <= 0 {
		every = time.Second
	}

	var out []Sample
	for at := time.Duration(0); ; at += every {
		if at > total {
			at = total
		}
		pos := tl.Progress(at)
		s := Sample{Elapsed: at, StagePercent: pos.StagePercent, Target: pos.Target}
		if pos.Found {
			s.Stage = pos.Segment.Index + 1
		}
		out = append(out, s)
		if at >= total {
			return out
		}
	}
}

// WritePlan prints the segment table followed by target samples.
func WritePlan(w io.Writer, tl *timeline.Timeline, every time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "#\tKIND\tPHASE\tFROM\tTO\tSTART\tEND\tDURATION\tNAME")
	for _, seg := range tl.Segments() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			seg.Index+1, seg.Kind, seg.Phase(), seg.PrevTarget, seg.Target,
			seg.Start, seg.End, seg.Duration, seg.Name)
	}
	fmt.Fprintf(tw, "\ntotal\t%s\n\n", tl.TotalDuration())

	fmt.Fprintln(tw, "ELAPSED\tSTAGE\tSTAGE%\tTARGET")
	for _, s := range Samples(tl, every) {
		stage := "-"
		if s.Stage > 0 {
			stage = fmt.Sprint(s.Stage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.Elapsed, stage, s.StagePercent, s.Target)
	}

	return tw.Flush()
}
