package output

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Palette holds the colors used by the console reporter.
type Palette struct {
	Title   *color.Color
	Rule    *color.Color
	Bar     *color.Color
	Percent *color.Color
	Dim     *color.Color
	Stage   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
}

// DefaultPalette returns the colored palette.
func DefaultPalette() *Palette {
	p := &Palette{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Bar:     color.New(color.FgGreen),
		Percent: color.New(color.Bold),
		Dim:     color.New(color.Faint),
		Stage:   color.New(color.FgMagenta),
		Good:    color.New(color.FgGreen, color.Bold),
		Warn:    color.New(color.FgYellow, color.Bold),
		Bad:     color.New(color.FgRed, color.Bold),
	}
	for _, c := range p.all() {
		c.EnableColor()
	}
	return p
}

// PlainPalette returns a palette with every color disabled.
func PlainPalette() *Palette {
	p := DefaultPalette()
	for _, c := range p.all() {
		c.DisableColor()
	}
	return p
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Title, p.Rule, p.Bar, p.Percent, p.Dim, p.Stage, p.Good, p.Warn, p.Bad}
}

// colorAllowed reports whether the environment permits ANSI colors.
func colorAllowed() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
