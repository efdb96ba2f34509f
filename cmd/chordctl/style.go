package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type styles struct {
	title lipgloss.Style
	dim   lipgloss.Style
	key   lipgloss.Style
	tap   lipgloss.Style
	hold  lipgloss.Style
	pass  lipgloss.Style
	fail  lipgloss.Style
}

// newStyles returns colored styles when w is a terminal, or when forced
// by mode, and plain ones otherwise.
func newStyles(w io.Writer, mode string) styles {
	plain := lipgloss.NewStyle()
	s := styles{plain, plain, plain, plain, plain, plain, plain}
	if !useColor(w, mode) {
		return s
	}
	s.title = lipgloss.NewStyle().Bold(true)
	s.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	s.key = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	s.tap = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	s.hold = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	s.pass = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	s.fail = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	return s
}

func useColor(w io.Writer, mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s styles) outcome(o string) string {
	if o == "hold" {
		return s.hold.Render(o)
	}
	return s.tap.Render(o)
}
