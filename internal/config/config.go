// Package config loads and validates load profiles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/tideline/internal/timeline"
)

// Config is the root of a load profile.
//
// Example YAML:
//
//	name: checkout-soak
//	stages:
//	  - kind: ramp
//	    target: 10
//	    duration: 20s
//	  - kind: step
//	    target: 20
//	    duration: 50s
//	workload:
//	  type: http
//	  baseUrl: https://shop.example.com
//	  requests:
//	    - name: home
//	      method: GET
//	      url: /
type Config struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []StageConfig   `json:"stages" yaml:"stages"`
	Scheduler   SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Workload    WorkloadConfig  `json:"workload,omitempty" yaml:"workload,omitempty"`
	Output      OutputConfig    `json:"output,omitempty" yaml:"output,omitempty"`
	Log         LogConfig       `json:"log,omitempty" yaml:"log,omitempty"`
	Metrics     MetricsConfig   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// StageConfig is one stage of the concurrency profile. An empty Kind means
// ramp.
type StageConfig struct {
	Kind     string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Target   int      `json:"target" yaml:"target"`
	Duration Duration `json:"duration" yaml:"duration"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// SchedulerConfig tunes the reconciliation loop.
type SchedulerConfig struct {
	TickInterval   Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
	GracefulStop   Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	ForceStopWait  Duration `json:"forceStopWait,omitempty" yaml:"forceStopWait,omitempty"`
	DriftThreshold Duration `json:"driftThreshold,omitempty" yaml:"driftThreshold,omitempty"`
	MaxDuration    Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`
}

// WorkloadConfig selects what each actor does per iteration.
type WorkloadConfig struct {
	// Type is "http" or "idle".
	Type             string            `json:"type,omitempty" yaml:"type,omitempty"`
	BaseURL          string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Variables        map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Timeout          Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	IterationTimeout Duration          `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`
	MaxIterationRate float64           `json:"maxIterationRate,omitempty" yaml:"maxIterationRate,omitempty"`
	MaxActors        int               `json:"maxActors,omitempty" yaml:"maxActors,omitempty"`
	Think            Duration          `json:"think,omitempty" yaml:"think,omitempty"`
	Pacing           *PacingConfig     `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	Requests         []RequestConfig   `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// PacingConfig controls the wait between iterations.
type PacingConfig struct {
	// Type is "none", "constant" or "random".
	Type     string   `json:"type" yaml:"type"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method    string            `json:"method" yaml:"method"`
	URL       string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body      string            `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ThinkTime Duration          `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	Extract   []ExtractConfig   `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractConfig copies part of a response into the actor's scope.
type ExtractConfig struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// OutputConfig controls console progress reporting.
type OutputConfig struct {
	// Progress is "auto", "manual" or "none".
	Progress       string   `json:"progress,omitempty" yaml:"progress,omitempty"`
	ManualTicks    int      `json:"manualTicks,omitempty" yaml:"manualTicks,omitempty"`
	UpdateInterval Duration `json:"updateInterval,omitempty" yaml:"updateInterval,omitempty"`
	NoColor        bool     `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

const (
	WorkloadHTTP = "http"
	WorkloadIdle = "idle"

	ProgressAuto   = "auto"
	ProgressManual = "manual"
	ProgressNone   = "none"
)

// DefaultConfig returns a profile with every optional field populated.
func DefaultConfig() *Config {
	return &Config{
		Name: "tideline",
		Scheduler: SchedulerConfig{
			TickInterval:  Duration(100 * time.Millisecond),
			GracefulStop:  Duration(30 * time.Second),
			ForceStopWait: Duration(5 * time.Second),
		},
		Workload: WorkloadConfig{
			Type:    WorkloadIdle,
			Timeout: Duration(30 * time.Second),
			Think:   Duration(time.Second),
		},
		Output: OutputConfig{
			Progress:       ProgressAuto,
			ManualTicks:    40,
			UpdateInterval: Duration(time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// ApplyDefaults fills unset optional fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Name == "" {
		c.Name = d.Name
	}

	s := &c.Scheduler
	if s.TickInterval == 0 {
		s.TickInterval = d.Scheduler.TickInterval
	}
	if s.GracefulStop == 0 {
		s.GracefulStop = d.Scheduler.GracefulStop
	}
	if s.ForceStopWait == 0 {
		s.ForceStopWait = d.Scheduler.ForceStopWait
	}

	w := &c.Workload
	if w.Type == "" {
		if len(w.Requests) > 0 {
			w.Type = WorkloadHTTP
		} else {
			w.Type = d.Workload.Type
		}
	}
	if w.Timeout == 0 {
		w.Timeout = d.Workload.Timeout
	}
	if w.Think == 0 {
		w.Think = d.Workload.Think
	}
	for i := range w.Requests {
		if w.Requests[i].Method == "" {
			w.Requests[i].Method = "GET"
		}
	}

	o := &c.Output
	if o.Progress == "" {
		o.Progress = d.Output.Progress
	}
	if o.ManualTicks == 0 {
		o.ManualTicks = d.Output.ManualTicks
	}
	if o.UpdateInterval == 0 {
		o.UpdateInterval = d.Output.UpdateInterval
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
}

// TimelineStages converts the profile's stages into timeline input.
func (c *Config) TimelineStages() ([]timeline.Stage, error) {
	stages := make([]timeline.Stage, 0, len(c.Stages))
	for i, sc := range c.Stages {
		kind := timeline.KindRamp
		if strings.TrimSpace(sc.Kind) != "" {
			k, err := timeline.ParseKind(sc.Kind)
			if err != nil {
				return nil, fmt.Errorf("stages[%d]: %w", i, err)
			}
			kind = k
		}
		stages = append(stages, timeline.Stage{
			Kind:     kind,
			Target:   sc.Target,
			Duration: sc.Duration.Std(),
			Name:     sc.Name,
		})
	}
	return stages, nil
}

// TotalDuration sums the stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration.Std()
	}
	return total
}
