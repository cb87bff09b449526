package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

type styles struct {
	added    lipgloss.Style
	modified lipgloss.Style
	removed  lipgloss.Style
	missing  lipgloss.Style
	dir      lipgloss.Style
	label    lipgloss.Style
	dim      lipgloss.Style
	ok       lipgloss.Style
}

// newStyles returns styles for w. Colors are dropped when w is not a
// terminal.
func newStyles(w io.Writer, noColor bool) *styles {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return &styles{
		added:    r.NewStyle().Foreground(lipgloss.Color("10")),
		modified: r.NewStyle().Foreground(lipgloss.Color("11")),
		removed:  r.NewStyle().Foreground(lipgloss.Color("9")),
		missing:  r.NewStyle().Foreground(lipgloss.Color("13")),
		dir:      r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		label:    r.NewStyle().Bold(true).Width(14),
		dim:      r.NewStyle().Foreground(lipgloss.Color("8")),
		ok:       r.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

func (s *styles) marker(m string) string {
	switch m {
	case markAdded:
		return s.added.Render(m)
	case markModified:
		return s.modified.Render(m)
	case markRemoved:
		return s.removed.Render(m)
	case markMissing:
		return s.missing.Render(m)
	case markBehind:
		return s.modified.Render(m)
	}
	return m
}

const (
	markAdded    = "A"
	markModified = "M"
	markRemoved  = "D"
	markMissing  = "!"
	markConflict = "C"
	markBehind   = "R"
)

// progressBar draws a single line progress bar when w is a terminal.
type progressBar struct {
	w      io.Writer
	bar    progress.Model
	width  int
	active bool
}

func newProgressBar(w io.Writer, noColor bool) *progressBar {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width < 20 {
		width = 80
	}
	opts := []progress.Option{progress.WithWidth(min(40, width/2))}
	if noColor {
		opts = append(opts,
			progress.WithColorProfile(termenv.Ascii),
			progress.WithFillCharacters('#', '-'))
	} else {
		opts = append(opts, progress.WithDefaultGradient())
	}
	return &progressBar{w: w, bar: progress.New(opts...), width: width}
}

func (p *progressBar) update(done, total int, name string) {
	if total == 0 {
		return
	}
	room := p.width - p.bar.Width - 1
	if r := []rune(name); room > 0 && len(r) > room {
		name = string(r[len(r)-room:])
	} else if room <= 0 {
		name = ""
	}
	fmt.Fprintf(p.w, "\r\x1b[2K%s %s", p.bar.ViewAs(float64(done)/float64(total)), name)
	p.active = true
}

func (p *progressBar) finish() {
	if p == nil || !p.active {
		return
	}
	fmt.Fprint(p.w, "\r\x1b[2K")
	p.active = false
}
