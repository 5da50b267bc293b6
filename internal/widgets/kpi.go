package widgets

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"chatbi/internal/types"
)

const defaultTrendLabel = "vs previous period"

func renderKPI(widget types.DashboardWidget, width int) string {
	data := gjson.ParseBytes(widget.Data)
	lines := header(widget, width)

	value := data.Get("value")
	if !value.Exists() || value.Type == gjson.Null {
		lines = append(lines, emptyWidgetStyle.Render("no value"))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, valueStyle.Render(truncate(formatValue(value), width)))

	trend := data.Get("trend")
	if trend.Type == gjson.Number || (trend.Type == gjson.String && isNumber(trend.String())) {
		pct := trend.Float()
		label := strings.TrimSpace(data.Get("trendLabel").String())
		if label == "" {
			label = defaultTrendLabel
		}
		arrow, style := "▼", trendDownStyle
		if pct > 0 {
			arrow, style = "▲", trendUpStyle
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s %s%%", arrow, formatFloat(math.Abs(pct))))+" "+mutedStyle.Render(label))
	}
	return strings.Join(lines, "\n")
}

func formatValue(value gjson.Result) string {
	if value.Type == gjson.Number {
		return formatFloat(value.Float())
	}
	return value.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isNumber(text string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	return err == nil
}
