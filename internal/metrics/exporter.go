package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

// Exporter mirrors scheduler reports into Prometheus metrics. It is a
// scheduler.Observer and owns a private registry so several runs in one
// process never collide.
type Exporter struct {
	registry *prometheus.Registry
	engine   *Engine

	TargetActors   prometheus.Gauge
	LiveActors     prometheus.Gauge
	RetiringActors prometheus.Gauge
	StageIndex     prometheus.Gauge
	StageProgress  prometheus.Gauge
	Elapsed        prometheus.Gauge
	RunState       prometheus.Gauge
	Ticks          prometheus.Counter
	DriftEvents    prometheus.Counter
	RetireTimeouts prometheus.Counter
	SpawnErrors    prometheus.Counter
	LostActors     prometheus.Counter
	TickLag        prometheus.Histogram
}

// NewExporter registers the run metrics. When engine is non-nil its
// counters are exported too and its phase follows the timeline.
func NewExporter(engine *Engine) *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	e := &Exporter{
		registry: reg,
		engine:   engine,
		TargetActors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_target_actors",
			Help: "Target concurrency computed from the timeline on the last tick",
		}),
		LiveActors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_live_actors",
			Help: "Actors currently live and not retiring",
		}),
		RetiringActors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_retiring_actors",
			Help: "Actors asked to retire that have not finished yet",
		}),
		StageIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_stage_index",
			Help: "Index of the current stage, -1 outside the timeline",
		}),
		StageProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_stage_progress_percent",
			Help: "Progress through the current stage (0-100)",
		}),
		Elapsed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_elapsed_seconds",
			Help: "Seconds since the run started",
		}),
		RunState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tideline_run_state",
			Help: "Run state: 0 not started, 1 running, 2 completed, 3 cancelled",
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "tideline_ticks_total",
			Help: "Scheduler ticks processed",
		}),
		DriftEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "tideline_drift_events_total",
			Help: "Ticks processed later than the drift threshold",
		}),
		RetireTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tideline_retire_timeouts_total",
			Help: "Actors force-stopped after the graceful stop period",
		}),
		SpawnErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tideline_spawn_errors_total",
			Help: "Failed attempts to start an actor",
		}),
		LostActors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tideline_lost_actors_total",
			Help: "Actors that exited without being asked to retire",
		}),
		TickLag: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tideline_tick_lag_seconds",
			Help:    "Lateness of scheduler ticks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}

	if engine != nil {
		reg.MustRegister(newEngineCollector(engine))
	}
	return e
}

// Registry exposes the private registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) OnTick(ev scheduler.TickEvent) {
	e.Ticks.Inc()
	e.TargetActors.Set(float64(ev.Target))
	e.LiveActors.Set(float64(ev.Live))
	e.RetiringActors.Set(float64(ev.Retiring))
	e.Elapsed.Set(ev.Elapsed.Seconds())
	e.TickLag.Observe(ev.Lag.Seconds())

	if ev.InTimeline {
		e.StageIndex.Set(float64(ev.Segment.Index))
		e.StageProgress.Set(float64(ev.StagePercent))
	} else {
		e.StageIndex.Set(-1)
		e.StageProgress.Set(100)
	}

	if e.engine == nil {
		return
	}
	e.engine.SetActiveActors(ev.Live)
	if ev.Elapsed >= ev.Total {
		e.engine.SetPhase(PhaseDrain)
	} else if ev.InTimeline {
		e.engine.SetPhase(phaseOf(ev.Segment.Phase()))
	}
}

func (e *Exporter) OnStateChange(_, to scheduler.RunState) {
	e.RunState.Set(float64(to))
	if e.engine == nil {
		return
	}
	switch to {
	case scheduler.StateCancelled:
		e.engine.SetPhase(PhaseDrain)
	case scheduler.StateCompleted:
		e.engine.SetPhase(PhaseDone)
	}
}

func (e *Exporter) OnCondition(c scheduler.Condition) {
	switch c.Kind {
	case scheduler.ConditionDrift:
		e.DriftEvents.Inc()
	case scheduler.ConditionRetireTimeout:
		e.RetireTimeouts.Inc()
	case scheduler.ConditionSpawnError:
		e.SpawnErrors.Inc()
	case scheduler.ConditionActorLost:
		e.LostActors.Inc()
	}
}

func phaseOf(p timeline.Phase) Phase {
	switch p {
	case timeline.PhaseRampUp:
		return PhaseRampUp
	case timeline.PhaseRampDown:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// engineCollector reads Engine counters at scrape time.
type engineCollector struct {
	engine *Engine

	iterations *prometheus.Desc
	requests   *prometheus.Desc
	bytes      *prometheus.Desc
	latency    *prometheus.Desc
}

func newEngineCollector(engine *Engine) *engineCollector {
	return &engineCollector{
		engine: engine,
		iterations: prometheus.NewDesc(
			"tideline_iterations_total",
			"Finished actor iterations by result",
			[]string{"result"}, nil,
		),
		requests: prometheus.NewDesc(
			"tideline_requests_total",
			"Workload requests by result",
			[]string{"result"}, nil,
		),
		bytes: prometheus.NewDesc(
			"tideline_received_bytes_total",
			"Response bytes received by workloads",
			nil, nil,
		),
		latency: prometheus.NewDesc(
			"tideline_request_latency_seconds",
			"Request latency percentiles since the run started",
			[]string{"quantile"}, nil,
		),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.iterations
	ch <- c.requests
	ch <- c.bytes
	ch <- c.latency
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Snapshot()

	ok := float64(s.Iterations - s.FailedIterations)
	failed := float64(s.FailedIterations - s.TimedOutIteration)
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, ok, "success")
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, failed, "failure")
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(s.TimedOutIteration), "timeout")

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.SuccessRequests), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.FailedRequests), "failure")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.TotalBytes))

	for _, q := range []struct {
		label string
		value float64
	}{
		{"0.5", s.Latency.P50.Seconds()},
		{"0.9", s.Latency.P90.Seconds()},
		{"0.95", s.Latency.P95.Seconds()},
		{"0.99", s.Latency.P99.Seconds()},
	} {
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, q.value, q.label)
	}
}
