package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ProgressBar draws a byte-count progress bar on a terminal. On anything
// else it stays silent.
type ProgressBar struct {
	total      int64
	current    int64
	width      int
	message    string
	writer     io.Writer
	noColor    bool
	useUnicode bool
	enabled    bool
	lastDrawn  int
}

// NewProgressBar creates a new progress bar. total may be -1 when unknown.
func NewProgressBar(total int64, message string, noColor bool) *ProgressBar {
	tty := isTerminal()
	return &ProgressBar{
		total:      total,
		width:      40,
		message:    message,
		writer:     os.Stderr,
		noColor:    noColor,
		useUnicode: !noColor && tty,
		enabled:    tty,
		lastDrawn:  -1,
	}
}

// SetWriter redirects the bar and forces it on.
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.writer = w
	p.enabled = true
}

// Update records written bytes out of total. It matches
// connector.ProgressFunc.
func (p *ProgressBar) Update(written, total int64) {
	if !p.enabled {
		return
	}
	p.current = written
	if total > 0 {
		p.total = total
	}

	// Redraw only when the visible percentage changes.
	pct := p.percent()
	if pct >= 0 && pct == p.lastDrawn {
		return
	}
	p.lastDrawn = pct
	p.render()
}

// Finish completes the progress bar and ends the line.
func (p *ProgressBar) Finish() {
	if !p.enabled {
		return
	}
	if p.total > 0 {
		p.current = p.total
	}
	p.render()
	fmt.Fprintln(p.writer)
}

func (p *ProgressBar) percent() int {
	if p.total <= 0 {
		return -1
	}
	pct := int(p.current * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (p *ProgressBar) render() {
	pct := p.percent()
	if pct < 0 {
		fmt.Fprintf(p.writer, "\r%s %s", p.message, FormatBytes(p.current))
		return
	}

	filledWidth := p.width * pct / 100
	emptyWidth := p.width - filledWidth

	var bar string
	if p.useUnicode {
		bar = strings.Repeat("█", filledWidth) + strings.Repeat("░", emptyWidth)
	} else {
		bar = strings.Repeat("#", filledWidth) + strings.Repeat("-", emptyWidth)
	}

	percentStr := fmt.Sprintf("%3d%%", pct)
	sizes := fmt.Sprintf("(%s/%s)", FormatBytes(p.current), FormatBytes(p.total))

	var output string
	if p.noColor {
		output = fmt.Sprintf("\r[%s] %s %s %s", bar, percentStr, p.message, sizes)
	} else {
		barStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		percentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
		output = fmt.Sprintf("\r[%s] %s %s %s",
			barStyle.Render(bar),
			percentStyle.Render(percentStr),
			p.message,
			sizes)
	}

	fmt.Fprint(p.writer, output)
}

// FormatBytes renders n as B, KiB or MiB.
func FormatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// isTerminal checks if output is going to a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
