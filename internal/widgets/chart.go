package widgets

import (
	"fmt"
	"math"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/tidwall/gjson"

	"chatbi/internal/types"
)

type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
	ChartArea ChartType = "area"
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

type point struct {
	label string
	value float64
}

func chartType(config gjson.Result) ChartType {
	switch ChartType(strings.ToLower(config.Get("chartType").String())) {
	case ChartLine:
		return ChartLine
	case ChartArea:
		return ChartArea
	default:
		return ChartBar
	}
}

// chartPoints reads rows as (xKey, yKey) pairs. Missing keys fall back to the
// first string field and the first numeric field of the first row.
func chartPoints(data, config gjson.Result) []point {
	rows := data.Array()
	if len(rows) == 0 {
		return nil
	}
	xKey := config.Get("xKey").String()
	yKey := config.Get("yKey").String()
	if xKey == "" || yKey == "" {
		rows[0].ForEach(func(key, value gjson.Result) bool {
			switch {
			case xKey == "" && value.Type == gjson.String:
				xKey = key.String()
			case yKey == "" && value.Type == gjson.Number:
				yKey = key.String()
			}
			return xKey == "" || yKey == ""
		})
	}
	if yKey == "" {
		return nil
	}
	points := make([]point, 0, len(rows))
	for i, row := range rows {
		y := row.Get(gjson.Escape(yKey))
		if y.Type != gjson.Number && !(y.Type == gjson.String && isNumber(y.String())) {
			continue
		}
		label := row.Get(gjson.Escape(xKey)).String()
		if xKey == "" || label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		points = append(points, point{label: label, value: y.Float()})
	}
	return points
}

func renderChart(widget types.DashboardWidget, width int) string {
	config := gjson.ParseBytes(widget.Config)
	if widget.Description == "" {
		widget.Description = config.Get("description").String()
	}
	lines := header(widget, width)
	points := chartPoints(gjson.ParseBytes(widget.Data), config)
	if len(points) == 0 {
		lines = append(lines, emptyWidgetStyle.Render("no data"))
		return strings.Join(lines, "\n")
	}
	switch chartType(config) {
	case ChartLine, ChartArea:
		lines = append(lines, sparkline(points, width)...)
	default:
		lines = append(lines, bars(points, width)...)
	}
	return strings.Join(lines, "\n")
}

func bars(points []point, width int) []string {
	labelWidth := 0
	valueWidth := 0
	maxValue := 0.0
	for _, p := range points {
		labelWidth = max(labelWidth, runewidth.StringWidth(p.label))
		valueWidth = max(valueWidth, len(formatFloat(p.value)))
		maxValue = math.Max(maxValue, math.Abs(p.value))
	}
	labelWidth = min(labelWidth, width/3)
	barWidth := width - labelWidth - valueWidth - 2
	if barWidth < 1 {
		barWidth = 1
	}
	out := make([]string, 0, len(points))
	for _, p := range points {
		n := 0
		if maxValue > 0 {
			n = int(math.Round(math.Abs(p.value) / maxValue * float64(barWidth)))
		}
		label := runewidth.FillRight(runewidth.Truncate(p.label, labelWidth, "…"), labelWidth)
		bar := barStyle.Render(strings.Repeat("█", n)) + strings.Repeat(" ", barWidth-n)
		out = append(out, label+" "+bar+" "+formatFloat(p.value))
	}
	return out
}

func sparkline(points []point, width int) []string {
	if len(points) > width {
		points = points[len(points)-width:]
	}
	lo, hi := points[0].value, points[0].value
	for _, p := range points {
		lo = math.Min(lo, p.value)
		hi = math.Max(hi, p.value)
	}
	var line strings.Builder
	for _, p := range points {
		idx := len(sparkLevels) - 1
		if hi > lo {
			idx = int((p.value - lo) / (hi - lo) * float64(len(sparkLevels)-1))
		}
		line.WriteRune(sparkLevels[idx])
	}
	first, last := points[0], points[len(points)-1]
	legend := fmt.Sprintf("%s %s … %s %s", first.label, formatFloat(first.value), last.label, formatFloat(last.value))
	return []string{
		barStyle.Render(line.String()),
		mutedStyle.Render(truncate(legend, width)),
	}
}
