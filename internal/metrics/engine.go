// Package metrics records what actors did during a run and exposes the
// scheduler's view of the run to Prometheus.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase labels the part of the run a sample was taken in.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDrain    Phase = "drain"
	PhaseDone     Phase = "done"
)

// Engine aggregates request latencies and iteration outcomes.
//
// Engine is safe for concurrent use. Counters are atomic and histograms are
// guarded by a mutex because hdrhistogram is not thread-safe.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	iterations        atomic.Int64
	failedIterations  atomic.Int64
	timedOutIteration atomic.Int64

	activeActors atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	config    EngineConfig
}

// EngineConfig bounds the latency histograms, in microseconds.
type EngineConfig struct {
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig covers 1µs to 1h with 3 significant figures.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     int64(time.Hour / time.Microsecond),
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine with custom histogram bounds.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists: make(map[string]*hdrhistogram.Histogram),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

// RecordLatency records one request. An empty name skips the per-request
// breakdown.
func (e *Engine) RecordLatency(duration time.Duration, name string, success bool, bytes int64) {
	micros := e.clamp(duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if name != "" {
		e.requestHistsMu.Lock()
		hist, ok := e.requestHists[name]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requestHists[name] = hist
		}
		_ = hist.RecordValue(micros)
		e.requestHistsMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
}

// IterationOutcome classifies a finished unit of actor work.
type IterationOutcome int

const (
	IterationSuccess IterationOutcome = iota
	IterationFailure
	IterationTimeout
)

// RecordIteration counts one finished iteration. Timeouts also count as
// failures.
func (e *Engine) RecordIteration(outcome IterationOutcome) {
	e.iterations.Add(1)
	switch outcome {
	case IterationFailure:
		e.failedIterations.Add(1)
	case IterationTimeout:
		e.failedIterations.Add(1)
		e.timedOutIteration.Add(1)
	}
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// SetPhase records a phase transition. Repeating the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// PhaseHistory returns a copy of all recorded transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

func (e *Engine) SetActiveActors(n int) {
	e.activeActors.Store(int32(n))
}

func (e *Engine) ActiveActors() int {
	return int(e.activeActors.Load())
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:     total,
		SuccessRequests:   e.successRequests.Load(),
		FailedRequests:    failed,
		TotalBytes:        e.totalBytes.Load(),
		Iterations:        e.iterations.Load(),
		FailedIterations:  e.failedIterations.Load(),
		TimedOutIteration: e.timedOutIteration.Load(),
		Latency:           latency,
		RPS:               rps,
		ErrorRate:         errorRate,
		ActiveActors:      e.ActiveActors(),
		CurrentPhase:      e.Phase(),
		Elapsed:           elapsed,
		StartTime:         e.startTime,
		Timestamp:         time.Now(),
	}
}

// RequestStats returns latency statistics per request name.
func (e *Engine) RequestStats() map[string]LatencyStats {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	out := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		out[name] = statsOf(hist)
	}
	return out
}

// Reset clears every counter and histogram and restarts the clock.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.requestHistsMu.Lock()
	e.requestHists = make(map[string]*hdrhistogram.Histogram)
	e.requestHistsMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.totalBytes.Store(0)
	e.iterations.Store(0)
	e.failedIterations.Store(0)
	e.timedOutIteration.Store(0)
	e.activeActors.Store(0)

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = nil
	e.phaseMu.Unlock()

	e.startTime = time.Now()
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    us(h.Min()),
		Max:    us(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    us(h.ValueAtQuantile(50)),
		P90:    us(h.ValueAtQuantile(90)),
		P95:    us(h.ValueAtQuantile(95)),
		P99:    us(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests     int64         `json:"totalRequests"`
	SuccessRequests   int64         `json:"successRequests"`
	FailedRequests    int64         `json:"failedRequests"`
	TotalBytes        int64         `json:"totalBytes"`
	Iterations        int64         `json:"iterations"`
	FailedIterations  int64         `json:"failedIterations"`
	TimedOutIteration int64         `json:"timedOutIterations"`
	Latency           LatencyStats  `json:"latency"`
	RPS               float64       `json:"rps"`
	ErrorRate         float64       `json:"errorRate"`
	ActiveActors      int           `json:"activeActors"`
	CurrentPhase      Phase         `json:"currentPhase"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"startTime"`
	Timestamp         time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
