package ui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/spx/internal/tasks"
)

var styles = NewPalette("#1DB954", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		label: NewStyle(h).Width(20),
		value: lipgloss.NewStyle().Bold(true),
	}
}

// event picks the style of a batch event line: failed lookups warn, failed commits are errors.
func (p *Palette) event(u tasks.ProgressUpdate) lipgloss.Style {
	switch {
	case u.Err == nil:
		return lipgloss.NewStyle()
	case u.Phase == tasks.CommitBatch:
		return p.err
	default:
		return p.warn
	}
}

// count renders a summary value, highlighting non-zero loss counters.
func (p *Palette) count(n int, loss bool) string {
	if loss && n > 0 {
		return p.warn.Render(strconv.Itoa(n))
	}
	return p.value.Render(strconv.Itoa(n))
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
