package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var flags profileFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a profile without running it",
		Long: `Validate checks a profile against the profile schema and the semantic
rules (stage kinds, non-negative targets and durations, request methods,
pacing bounds), then builds its timeline.

  tideline validate -c profile.yaml`,
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

			fmt.Fprintf(cmd.OutOrStdout(), "profile %q is valid: %d stages, %s total, %s workload\n",
				cfg.Name, tl.Len(), tl.TotalDuration(), cfg.Workload.Type)
			return nil
		},
	}

	flags.registerSource(cmd)
	return cmd
}
