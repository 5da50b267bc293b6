package app

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

const statusLinePadding = 2

func padLines(lines []string, width int) string {
	if width <= 0 {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		lineWidth := xansi.StringWidth(line)
		if lineWidth < width {
			line += strings.Repeat(" ", width-lineWidth)
		} else if lineWidth > width {
			line = xansi.Truncate(line, width, "")
		}
		out[i] = line
	}
	return strings.Join(out, "\n")
}

// fitBlock pads or cuts block to exactly width x height cells.
func fitBlock(block string, width, height int) string {
	lines := strings.Split(block, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return padLines(lines, width)
}

func renderStatusLine(width int, help, status string) string {
	if width <= 0 {
		return help + " " + status
	}
	padding := width - lipgloss.Width(help) - lipgloss.Width(status)
	if padding < statusLinePadding {
		padding = statusLinePadding
	}
	return xansi.Truncate(help+strings.Repeat(" ", padding)+status, width, "")
}

func renderInputDivider(width int, scrollable bool) string {
	if width <= 0 {
		return ""
	}
	indicator := ""
	if scrollable {
		indicator = " ^v"
	}
	lineWidth := width
	if indicator != "" && width > len(indicator) {
		lineWidth = width - len(indicator)
	}
	line := strings.Repeat("─", max(1, lineWidth)) + indicator
	if lipgloss.Width(line) > width {
		line = strings.Repeat("─", width)
	}
	return dividerStyle.Render(line)
}

func renderVerticalDivider(height int) string {
	if height <= 0 {
		return ""
	}
	lines := make([]string, height)
	for i := range lines {
		lines[i] = "│"
	}
	return dividerStyle.Render(strings.Join(lines, "\n"))
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
