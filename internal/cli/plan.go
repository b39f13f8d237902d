package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/tideline/internal/output"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

type planSegment struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Phase    string `json:"phase"`
	Name     string `json:"name,omitempty"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Duration string `json:"duration"`
}

type planReport struct {
	Name     string          `json:"name"`
	Total    string          `json:"total"`
	Segments []planSegment   `json:"segments"`
	Samples  []output.Sample `json:"samples"`
}

func newPlanCmd() *cobra.Command {
	var (
		flags    profileFlags
		every    time.Duration
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the timeline and target concurrency without spawning actors",
		Long: `Plan builds the timeline of a profile and prints its segments followed by
the target actor count sampled at a fixed interval.

  tideline plan --stages "ramp:20s:10,step:50s:20" --every 5s
  tideline plan -c profile.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return configError(err)
			}
			tl, err := buildTimeline(cfg)
			if err != nil {
				return configError(err)
			}

			if jsonMode {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(newPlanReport(cfg.Name, tl, every))
			}
			return output.WritePlan(cmd.OutOrStdout(), tl, every)
		},
	}

	flags.registerSource(cmd)
	cmd.Flags().DurationVar(&every, "every", time.Second, "Sampling interval for target concurrency")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Print the plan as JSON")
	return cmd
}

func newPlanReport(name string, tl *timeline.Timeline, every time.Duration) planReport {
	r := planReport{
		Name:    name,
		Total:   tl.TotalDuration().String(),
		Samples: output.Samples(tl, every),
	}
	for _, seg := range tl.Segments() {
		r.Segments = append(r.Segments, planSegment{
			Index:    seg.Index,
			Kind:     seg.Kind.String(),
			Phase:    string(seg.Phase()),
			Name:     seg.Name,
			From:     seg.PrevTarget,
			To:       seg.Target,
			Start:    seg.Start.String(),
			End:      seg.End.String(),
			Duration: seg.Duration.String(),
		})
	}
	return r
}
