// Package ui provides terminal UI utilities for rich output formatting.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Colors returns true if colored output should be enabled.
// Respects NO_COLOR env var and --no-color flag.
func Colors(noColorFlag bool) bool {
	if noColorFlag {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return true
}

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Output writes step-by-step progress lines. Steps and info go to Out,
// warnings and errors to Err.
type Output struct {
	Out     io.Writer
	Err     io.Writer
	NoColor bool
	// Quiet drops Info lines.
	Quiet bool

	mu sync.Mutex
}

// NewOutput returns an Output on stdout/stderr.
func NewOutput(noColor bool) *Output {
	return &Output{Out: os.Stdout, Err: os.Stderr, NoColor: !Colors(noColor)}
}

func (o *Output) print(w io.Writer, style lipgloss.Style, prefix, format string, args ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	line := prefix + fmt.Sprintf(format, args...)
	if !o.NoColor {
		line = style.Render(line)
	}
	fmt.Fprintln(w, line)
}

func (o *Output) Info(format string, args ...interface{}) {
	if o.Quiet {
		return
	}
	o.print(o.Out, infoStyle, "", format, args...)
}

func (o *Output) Step(format string, args ...interface{}) {
	o.print(o.Out, stepStyle, "", format, args...)
}

func (o *Output) Success(format string, args ...interface{}) {
	o.print(o.Out, successStyle, symbol(StatusSuccess, o.NoColor)+" ", format, args...)
}

func (o *Output) Warn(format string, args ...interface{}) {
	o.print(o.Err, warnStyle, symbol(StatusWarning, o.NoColor)+" ", format, args...)
}

func (o *Output) Error(format string, args ...interface{}) {
	o.print(o.Err, errorStyle, symbol(StatusError, o.NoColor)+" ", format, args...)
}

// StatusIndicator renders status indicators with color.
type StatusIndicator string

const (
	StatusSuccess StatusIndicator = "success"
	StatusError   StatusIndicator = "error"
	StatusWarning StatusIndicator = "warning"
	StatusInfo    StatusIndicator = "info"
)

func symbol(status StatusIndicator, noColor bool) string {
	if noColor {
		switch status {
		case StatusSuccess:
			return "[OK]"
		case StatusError:
			return "[ERR]"
		case StatusWarning:
			return "[WARN]"
		case StatusInfo:
			return "[INFO]"
		default:
			return "[-]"
		}
	}
	switch status {
	case StatusSuccess:
		return "✓"
	case StatusError:
		return "✗"
	case StatusWarning:
		return "⚠"
	case StatusInfo:
		return "ℹ"
	default:
		return "•"
	}
}

// RenderStatus renders a status indicator with appropriate styling.
func RenderStatus(status StatusIndicator, noColor bool) string {
	s := symbol(status, noColor)
	if noColor {
		return s
	}

	var color string
	switch status {
	case StatusSuccess:
		color = "10"
	case StatusError:
		color = "9"
	case StatusWarning:
		color = "11"
	case StatusInfo:
		color = "12"
	default:
		color = "15"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render(s)
}

// TruncateWithEllipsis truncates a string to maxLen with ellipsis.
func TruncateWithEllipsis(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-1]) + "…"
}
