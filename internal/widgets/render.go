// Package widgets renders dashboard widgets as terminal blocks.
package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"chatbi/internal/types"
)

const (
	defaultWidth = 60
	minWidth     = 20
)

type Options struct {
	Width int
	// DevMode shows SQL widgets; they render nothing otherwise.
	DevMode bool
}

var (
	cardStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	sqlCardStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("237")).Padding(0, 1)
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	mutedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	trendUpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true)
	trendDownStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	barStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("105"))
	headerCellStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("251"))
	badgeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("239"))
	codeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	sqlTitleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Bold(true)
	emptyWidgetStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// Render draws one widget framed to opts.Width columns. Unknown types, and
// SQL widgets outside dev mode, render as the empty string.
func Render(widget types.DashboardWidget, opts Options) string {
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}
	if width < minWidth {
		width = minWidth
	}
	inner := width - 4
	var body string
	switch widget.Type {
	case types.WidgetKPI:
		body = renderKPI(widget, inner)
	case types.WidgetChart:
		body = renderChart(widget, inner)
	case types.WidgetTable:
		body = renderTable(widget, inner)
	case types.WidgetSQL:
		if !opts.DevMode {
			return ""
		}
		return sqlCardStyle.Width(width - 2).Render(renderSQL(widget, inner))
	default:
		return ""
	}
	if body == "" {
		return ""
	}
	return cardStyle.Width(width - 2).Render(body)
}

// RenderAll stacks the rendered widgets in order, skipping those that render
// nothing.
func RenderAll(list []types.DashboardWidget, opts Options) string {
	blocks := make([]string, 0, len(list))
	for _, widget := range list {
		if block := Render(widget, opts); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n")
}

func header(widget types.DashboardWidget, width int) []string {
	lines := []string{titleStyle.Render(truncate(widget.Title, width))}
	if widget.Description != "" {
		lines = append(lines, mutedStyle.Render(truncate(widget.Description, width)))
	}
	return lines
}

func truncate(text string, width int) string {
	if width <= 0 {
		return ""
	}
	return xansi.Truncate(text, width, "…")
}
