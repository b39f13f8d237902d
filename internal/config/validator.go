package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/tideline/internal/timeline"
)

// ValidationError is a problem with one field of a profile.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors collects every problem found in a profile.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add appends an error for field.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any error was added.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field names in the order they were reported.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

var (
	validMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}
	validSources   = map[string]bool{"body": true, "header": true, "status": true}
	validPacing    = map[string]bool{"none": true, "constant": true, "random": true}
	validProgress  = map[string]bool{ProgressAuto: true, ProgressManual: true, ProgressNone: true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"console": true, "json": true}
)

// Validate checks the semantics of the profile.
//
// Returns nil if valid, or a *ValidationErrors listing every problem.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, s := range c.Stages {
		validateStage(fmt.Sprintf("stages[%d]", i), s, errs)
	}

	validateScheduler(&c.Scheduler, errs)
	validateWorkload(&c.Workload, errs)
	validateOutput(&c.Output, errs)

	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs.Add("log.level", fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}
	if c.Log.Format != "" && !validFormats[c.Log.Format] {
		errs.Add("log.format", fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs.Add("metrics.path", "path must start with /")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateStage(prefix string, s StageConfig, errs *ValidationErrors) {
	if strings.TrimSpace(s.Kind) != "" {
		if _, err := timeline.ParseKind(s.Kind); err != nil {
			errs.Add(prefix+".kind", err.Error())
		}
	}
	if s.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
	if s.Target > timeline.MaxTarget {
		errs.Add(prefix+".target", fmt.Sprintf("target cannot exceed %d", timeline.MaxTarget))
	}
	if s.Duration < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}
}

func validateScheduler(s *SchedulerConfig, errs *ValidationErrors) {
	for _, f := range []struct {
		name string
		v    Duration
	}{
		{"scheduler.tickInterval", s.TickInterval},
		{"scheduler.gracefulStop", s.GracefulStop},
		{"scheduler.forceStopWait", s.ForceStopWait},
		{"scheduler.driftThreshold", s.DriftThreshold},
		{"scheduler.maxDuration", s.MaxDuration},
	} {
		if f.v < 0 {
			errs.Add(f.name, "duration cannot be negative")
		}
	}
}

func validateWorkload(w *WorkloadConfig, errs *ValidationErrors) {
	switch w.Type {
	case "", WorkloadIdle:
	case WorkloadHTTP:
		if len(w.Requests) == 0 {
			errs.Add("workload.requests", "at least one request is required for http workload")
		}
	default:
		errs.Add("workload.type", fmt.Sprintf("unknown workload type: %s", w.Type))
	}

	if w.BaseURL != "" {
		if u, err := url.Parse(w.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("workload.baseUrl", fmt.Sprintf("invalid base URL: %s", w.BaseURL))
		}
	}
	if w.MaxIterationRate < 0 {
		errs.Add("workload.maxIterationRate", "maxIterationRate cannot be negative")
	}
	if w.MaxActors < 0 {
		errs.Add("workload.maxActors", "maxActors cannot be negative")
	}
	if w.IterationTimeout < 0 {
		errs.Add("workload.iterationTimeout", "duration cannot be negative")
	}
	if w.Timeout < 0 {
		errs.Add("workload.timeout", "duration cannot be negative")
	}
	if w.Think < 0 {
		errs.Add("workload.think", "duration cannot be negative")
	}

	if w.Pacing != nil {
		validatePacing("workload.pacing", w.Pacing, errs)
	}

	for i, req := range w.Requests {
		validateRequest(fmt.Sprintf("workload.requests[%d]", i), &req, w.BaseURL, errs)
	}
}

func validatePacing(prefix string, p *PacingConfig, errs *ValidationErrors) {
	if !validPacing[p.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", p.Type))
		return
	}

	switch p.Type {
	case "constant":
		if p.Duration <= 0 {
			errs.Add(prefix+".duration", "duration must be greater than 0 for constant pacing")
		}
	case "random":
		if p.Min < 0 {
			errs.Add(prefix+".min", "min cannot be negative")
		}
		if p.Max <= 0 {
			errs.Add(prefix+".max", "max must be greater than 0 for random pacing")
		}
		if p.Min > p.Max {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	}
}

func validateRequest(prefix string, req *RequestConfig, baseURL string, errs *ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	switch {
	case req.URL == "":
		errs.Add(prefix+".url", "url is required")
	case strings.HasPrefix(req.URL, "/") && baseURL == "":
		errs.Add(prefix+".url", "relative url requires workload.baseUrl")
	default:
		if _, err := url.Parse(stripPlaceholders(req.URL)); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if req.Timeout < 0 {
		errs.Add(prefix+".timeout", "duration cannot be negative")
	}
	if req.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "duration cannot be negative")
	}

	for i, ex := range req.Extract {
		p := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if ex.Name == "" {
			errs.Add(p+".name", "name is required")
		}
		if !validSources[ex.Source] {
			errs.Add(p+".source", fmt.Sprintf("invalid source: %s", ex.Source))
		}
		if ex.Source == "header" && ex.Path == "" {
			errs.Add(p+".path", "header name is required")
		}
	}
}

func validateOutput(o *OutputConfig, errs *ValidationErrors) {
	if o.Progress != "" && !validProgress[o.Progress] {
		errs.Add("output.progress", fmt.Sprintf("invalid progress mode: %s", o.Progress))
	}
	if o.ManualTicks < 0 {
		errs.Add("output.manualTicks", "manualTicks cannot be negative")
	}
	if o.UpdateInterval < 0 {
		errs.Add("output.updateInterval", "duration cannot be negative")
	}
}

// stripPlaceholders replaces {{var}} with a token so the URL parses.
func stripPlaceholders(s string) string {
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return s
		}
		s = s[:start] + "placeholder" + s[start+end+2:]
	}
}
