// Package output renders run progress and summaries to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/tideline/internal/metrics"
	"github.com/wesleyorama2/tideline/internal/rate"
	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/timeline"
)

const (
	clearToEnd = "\033[K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"

	autoBarWidth = 40
)

// Mode selects how progress is drawn.
type Mode int

const (
	// ModeAuto draws one bar for the whole run, filled by elapsed time.
	ModeAuto Mode = iota
	// ModeManual draws a fixed-width bar per stage, filled by stage progress.
	ModeManual
	// ModeNone disables progress lines.
	ModeNone
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeNone:
		return "none"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "auto", "manual" or "none".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "manual":
		return ModeManual, nil
	case "none", "off":
		return ModeNone, nil
	default:
		return ModeAuto, fmt.Errorf("unknown progress mode: %q", s)
	}
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Name           string
	Mode           Mode
	ManualTicks    int
	UpdateInterval time.Duration
	Writer         io.Writer
	NoColor        bool

	// ForceTTY redraws progress in place even when Writer is not a terminal.
	ForceTTY bool

	// Stages is the number of segments in the timeline, for "stage i/n".
	Stages int
}

// Console reports scheduler progress on a terminal or log stream. It
// implements scheduler.Observer.
type Console struct {
	cfg   ConsoleConfig
	w     io.Writer
	isTTY bool
	pal   *Palette

	mu          sync.Mutex
	lastPrint   time.Time
	printed     bool
	lastSegment int
	lineOpen    bool
}

var _ scheduler.Observer = (*Console)(nil)

// NewConsole creates a console reporter.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}
	if cfg.ManualTicks <= 0 {
		cfg.ManualTicks = 40
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	pal := PlainPalette()
	if !cfg.NoColor && isTTY && colorAllowed() {
		pal = DefaultPalette()
	}

	return &Console{
		cfg:         cfg,
		w:           cfg.Writer,
		isTTY:       isTTY,
		pal:         pal,
		lastSegment: -1,
	}
}

// IsTTY reports whether progress is redrawn in place.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// OnTick draws the progress line for ev.
func (c *Console) OnTick(ev scheduler.TickEvent) {
	if c.cfg.Mode == ModeNone {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	segment := -1
	if ev.InTimeline {
		segment = ev.Segment.Index
	}
	stageChanged := segment != c.lastSegment
	c.lastSegment = segment

	var line string
	if c.cfg.Mode == ModeManual {
		line = c.renderManual(ev)
	} else {
		line = c.renderAuto(ev)
	}

	if c.isTTY {
		if c.cfg.Mode == ModeManual && stageChanged && c.lineOpen {
			c.write("\n")
		}
		c.write("\r" + line + clearToEnd)
		c.lineOpen = true
		return
	}

	due := !c.printed || ev.Time.Sub(c.lastPrint) >= c.cfg.UpdateInterval
	if due || (c.cfg.Mode == ModeManual && stageChanged) {
		c.writeln(line)
		c.lastPrint = ev.Time
		c.printed = true
	}
}

// OnStateChange prints run state transitions.
func (c *Console) OnStateChange(from, to scheduler.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLine()

	col := c.pal.Dim
	switch to {
	case scheduler.StateCompleted:
		col = c.pal.Good
	case scheduler.StateCancelled:
		col = c.pal.Warn
	}
	c.writeln(fmt.Sprintf("state: %s -> %s", from, col.Sprint(to)))
}

// OnCondition prints drift, retire timeouts and other recovered problems.
func (c *Console) OnCondition(cond scheduler.Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLine()

	var msg string
	switch cond.Kind {
	case scheduler.ConditionDrift:
		msg = fmt.Sprintf("scheduling drift at %s: tick %s late", formatDuration(cond.Elapsed), formatDurationShort(cond.Lag))
	case scheduler.ConditionRetireTimeout:
		msg = fmt.Sprintf("actor %d did not retire in time, force stopped", cond.ActorID)
	case scheduler.ConditionSpawnError:
		msg = fmt.Sprintf("spawn failed at %s: %v", formatDuration(cond.Elapsed), cond.Err)
	case scheduler.ConditionActorLost:
		msg = fmt.Sprintf("actor %d exited unexpectedly at %s", cond.ActorID, formatDuration(cond.Elapsed))
	default:
		msg = string(cond.Kind)
	}
	c.writeln(c.pal.Warn.Sprint("! ") + msg)
}

// PrintHeader prints the run name and the stage plan.
func (c *Console) PrintHeader(tl *timeline.Timeline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.pal.Rule.Sprint(strings.Repeat(ruleChar, 56))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s stages, %s",
		c.pal.Title.Sprint(c.cfg.Name), formatNumber(int64(tl.Len())), formatDuration(tl.TotalDuration())))
	c.writeln(rule)
	for _, seg := range tl.Segments() {
		c.writeln("  " + describeSegment(seg))
	}
	c.writeln("")
}

// PrintSummary prints the final result. snap may be nil.
func (c *Console) PrintSummary(res *scheduler.Result, snap *metrics.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLine()

	status := c.pal.Good.Sprint("Completed")
	if res.State == scheduler.StateCancelled {
		status = c.pal.Warn.Sprint("Cancelled")
		if res.CancelReason != "" {
			status += c.pal.Dim.Sprintf(" (%s)", res.CancelReason)
		}
	}

	rule := c.pal.Rule.Sprint(strings.Repeat(ruleChar, 56))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.pal.Title.Sprint(c.cfg.Name), status))
	c.writeln(rule)

	c.writeln(fmt.Sprintf("Duration:      %s", formatDuration(res.Elapsed)))
	c.writeln(fmt.Sprintf("Ticks:         %s", formatNumber(res.Ticks)))
	c.writeln(fmt.Sprintf("Actors:        %d spawned, %d retired, %d force stopped",
		res.Spawned, res.Retired, res.ForceStopped))

	if res.DriftEvents > 0 || res.SpawnErrors > 0 || res.Lost > 0 {
		c.writeln(c.pal.Warn.Sprintf("Conditions:    %d drift, %d spawn errors, %d lost actors",
			res.DriftEvents, res.SpawnErrors, res.Lost))
	}

	if snap == nil {
		c.writeln("")
		return
	}

	if snap.Iterations > 0 {
		c.writeln(fmt.Sprintf("Iterations:    %s (%s failed, %s timed out)",
			formatNumber(snap.Iterations), formatNumber(snap.FailedIterations), formatNumber(snap.TimedOutIteration)))
	}

	if snap.TotalRequests > 0 {
		successRate := 1 - snap.ErrorRate
		col := c.pal.Good
		if successRate < 0.99 {
			col = c.pal.Warn
		}
		if successRate < 0.95 {
			col = c.pal.Bad
		}
		c.writeln(fmt.Sprintf("Requests:      %s (%.1f/s)", formatNumber(snap.TotalRequests), snap.RPS))
		c.writeln(fmt.Sprintf("Success Rate:  %s", col.Sprintf("%.1f%%", successRate*100)))
		c.writeln("")
		c.writeln(c.pal.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:  %s", formatDurationShort(snap.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:  %s", formatDurationShort(snap.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:  %s", formatDurationShort(snap.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:  %s", formatDurationShort(snap.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:  %s", formatDurationShort(snap.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:  %s", formatDurationShort(snap.Latency.Max)))
	}
	c.writeln("")
}

// PrintRateLimit reports how the iteration rate cap behaved during the run.
func (c *Console) PrintRateLimit(st rate.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("Rate Limit:    %.1f/s, %s iterations admitted, %s spent waiting",
		st.Rate, formatNumber(st.Reserved), formatDurationShort(st.TotalWaitTime)))
	c.writeln("")
}

func (c *Console) renderAuto(ev scheduler.TickEvent) string {
	p := ev.Progress()
	return fmt.Sprintf("%s %s | %s | %s | actors %d/%d",
		c.pal.Bar.Sprint(renderBar(p, autoBarWidth)),
		c.pal.Percent.Sprintf("%3.0f%%", p*100),
		c.pal.Dim.Sprintf("%s / %s", formatDuration(ev.Elapsed), formatDuration(ev.Total)),
		c.pal.Stage.Sprint(c.stageLabel(ev)),
		ev.Live, ev.Target)
}

func (c *Console) renderManual(ev scheduler.TickEvent) string {
	return fmt.Sprintf("%-22s %s %s | actors %d/%d",
		c.pal.Stage.Sprint(c.stageLabel(ev)),
		c.pal.Bar.Sprint(renderTicks(ev.StagePercent, c.cfg.ManualTicks)),
		c.pal.Percent.Sprintf("%3d%%", ev.StagePercent),
		ev.Live, ev.Target)
}

func (c *Console) stageLabel(ev scheduler.TickEvent) string {
	if !ev.InTimeline {
		return "finished"
	}
	label := fmt.Sprintf("stage %d/%d %s", ev.Segment.Index+1, c.cfg.Stages, ev.Segment.Phase())
	if ev.Segment.Name != "" {
		label += " " + ev.Segment.Name
	}
	return label
}

// endLine terminates an in-place progress line so the next write starts
// on a fresh line.
func (c *Console) endLine() {
	if c.lineOpen {
		c.write("\n")
		c.lineOpen = false
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.w, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

func describeSegment(seg timeline.Segment) string {
	s := fmt.Sprintf("%d. %-4s %d -> %d over %s", seg.Index+1, seg.Kind, seg.PrevTarget, seg.Target, formatDuration(seg.Duration))
	if seg.Kind == timeline.KindStep {
		s = fmt.Sprintf("%d. %-4s %d for %s", seg.Index+1, seg.Kind, seg.Target, formatDuration(seg.Duration))
	}
	if seg.Name != "" {
		s += " (" + seg.Name + ")"
	}
	return s
}

// renderBar draws a duration bar filled to progress in [0,1].
func renderBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// renderTicks draws a fixed-tick bar for a stage percentage in [0,100].
func renderTicks(percent, ticks int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * ticks / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", ticks-filled) + "]"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	str = strings.TrimPrefix(str, "-")
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}
