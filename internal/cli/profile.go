package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/tideline/internal/config"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

// profileFlags are the flags that select and override a load profile.
type profileFlags struct {
	configPath string
	stages     string

	url    string
	method string

	tick          time.Duration
	gracefulStop  time.Duration
	forceStopWait time.Duration
	maxDuration   time.Duration

	progress      string
	manualTicks   int
	noColor       bool
	metricsListen string
	logLevel      string
	logFormat     string

	rate             float64
	maxActors        int
	iterationTimeout time.Duration
	think            time.Duration
}

// registerSource adds the flags every command needs to locate stages.
func (f *profileFlags) registerSource(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Profile file (YAML or JSON)")
	cmd.Flags().StringVar(&f.stages, "stages", "", `Stages as "kind:duration:target,..." e.g. "ramp:20s:10,step:50s:20"`)
}

// registerRun adds the flags that only matter when actually running.
func (f *profileFlags) registerRun(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.url, "url", "", "Target URL; replaces the profile's requests with a single request")
	fs.StringVar(&f.method, "method", "GET", "HTTP method used with --url")

	fs.DurationVar(&f.tick, "tick", 0, "Scheduler tick interval")
	fs.DurationVar(&f.gracefulStop, "graceful-stop", 0, "How long to wait for actors to retire before force stopping")
	fs.DurationVar(&f.forceStopWait, "force-stop-wait", 0, "How long to wait for force-stopped actors")
	fs.DurationVar(&f.maxDuration, "max-duration", 0, "Cancel the run after this long")

	fs.StringVar(&f.progress, "progress", "", "Progress display: auto, manual or none")
	fs.IntVar(&f.manualTicks, "manual-ticks", 0, "Bar width in manual progress mode")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: console or json")

	fs.Float64Var(&f.rate, "rate", 0, "Maximum iterations per second across all actors")
	fs.IntVar(&f.maxActors, "max-actors", 0, "Upper bound on concurrently running actors")
	fs.DurationVar(&f.iterationTimeout, "iteration-timeout", 0, "Abandon iterations running longer than this")
	fs.DurationVar(&f.think, "think", 0, "Think time of the idle workload")
}

// load resolves the profile from --config and --stages, applies flag
// overrides and defaults, then validates it.
func (f *profileFlags) load(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config

	switch {
	case f.configPath != "":
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case f.stages != "":
		cfg = config.DefaultConfig()
		cfg.Name = "cli"
	default:
		return nil, errors.New("either --config or --stages is required")
	}

	if f.stages != "" {
		stages, err := ParseStages(f.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}

	f.apply(cmd, cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *profileFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if f.url != "" {
		cfg.Workload.Type = config.WorkloadHTTP
		cfg.Workload.Requests = []config.RequestConfig{{
			Name:   "cli-request",
			Method: strings.ToUpper(f.method),
			URL:    f.url,
		}}
	}

	if changed("tick") {
		cfg.Scheduler.TickInterval = config.Duration(f.tick)
	}
	if changed("graceful-stop") {
		cfg.Scheduler.GracefulStop = config.Duration(f.gracefulStop)
	}
	if changed("force-stop-wait") {
		cfg.Scheduler.ForceStopWait = config.Duration(f.forceStopWait)
	}
	if changed("max-duration") {
		cfg.Scheduler.MaxDuration = config.Duration(f.maxDuration)
	}
	if changed("progress") {
		cfg.Output.Progress = f.progress
	}
	if changed("manual-ticks") {
		cfg.Output.ManualTicks = f.manualTicks
	}
	if changed("no-color") {
		cfg.Output.NoColor = f.noColor
	}
	if changed("metrics-listen") {
		cfg.Metrics.Listen = f.metricsListen
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("rate") {
		cfg.Workload.MaxIterationRate = f.rate
	}
	if changed("max-actors") {
		cfg.Workload.MaxActors = f.maxActors
	}
	if changed("iteration-timeout") {
		cfg.Workload.IterationTimeout = config.Duration(f.iterationTimeout)
	}
	if changed("think") {
		cfg.Workload.Think = config.Duration(f.think)
	}
}

// ParseStages parses the compact stage syntax "kind:duration:target". The
// kind may be omitted ("duration:target"), in which case the stage ramps.
// Durations accept Go syntax or integer seconds.
func ParseStages(s string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ":")
		var kind, dur, target string
		switch len(fields) {
		case 2:
			dur, target = fields[0], fields[1]
		case 3:
			kind, dur, target = fields[0], fields[1], fields[2]
			if _, err := timeline.ParseKind(kind); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i+1, err)
			}
		default:
			return nil, fmt.Errorf("stage %d: expected 'kind:duration:target', got '%s'", i+1, part)
		}

		d, err := config.ParseDurationString(dur)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s'", i+1, target)
		}

		stages = append(stages, config.StageConfig{
			Kind:     strings.TrimSpace(kind),
			Target:   n,
			Duration: config.Duration(d),
		})
	}

	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	return stages, nil
}

// buildTimeline turns a validated profile into a timeline.
func buildTimeline(cfg *config.Config) (*timeline.Timeline, error) {
	stages, err := cfg.TimelineStages()
	if err != nil {
		return nil, err
	}
	return timeline.Build(stages)
}
