package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("42")
	colorError   = lipgloss.Color("196")
	colorWarning = lipgloss.Color("214")
	colorAccent  = lipgloss.Color("39")
	colorDim     = lipgloss.Color("240")

	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleStep    = lipgloss.NewStyle().Foreground(colorAccent)
	styleDimmed  = lipgloss.NewStyle().Foreground(colorDim)
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
)

const maxCellWidth = 40

func colorize(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleSuccess, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleError, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleWarning, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(styleBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleStep, "→ "+msg))
}

// renderResult writes a query result as an aligned table followed by a row
// count line.
func renderResult(w io.Writer, columns []string, rows [][]string, truncated bool) {
	if len(columns) == 0 {
		fmt.Fprintln(w, colorize(styleDimmed, "(no columns)"))
		return
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = utf8.RuneCountInString(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], utf8.RuneCountInString(cell))
			}
		}
	}
	for i := range widths {
		widths[i] = min(widths[i], maxCellWidth)
	}

	var header, separator strings.Builder
	for i, col := range columns {
		fmt.Fprintf(&header, " %s │", pad(col, widths[i]))
		separator.WriteString(strings.Repeat("─", widths[i]+2) + "┼")
	}
	fmt.Fprintln(w, colorize(styleHeader, strings.TrimSuffix(header.String(), "│")))
	fmt.Fprintln(w, colorize(styleDimmed, strings.TrimSuffix(separator.String(), "┼")))

	for _, row := range rows {
		var line strings.Builder
		for i := range columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fmt.Fprintf(&line, " %s │", pad(cell, widths[i]))
		}
		fmt.Fprintln(w, strings.TrimSuffix(line.String(), "│"))
	}

	status := fmt.Sprintf("(%d row%s)", len(rows), plural(len(rows)))
	if truncated {
		status += " truncated"
	}
	fmt.Fprintln(w, colorize(styleDimmed, status))
}

func pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n > width {
		r := []rune(s)
		return string(r[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-n)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
