package widgets

import (
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
	"github.com/tidwall/gjson"

	"chatbi/internal/types"
)

const maxSQLLines = 15

// SQLText returns the query carried by a sql widget. A bare string payload
// is accepted as the query itself.
func SQLText(widget types.DashboardWidget) string {
	if widget.Type != types.WidgetSQL {
		return ""
	}
	data := gjson.ParseBytes(widget.Data)
	if data.Type == gjson.String {
		return data.String()
	}
	return data.Get("sql").String()
}

func renderSQL(widget types.DashboardWidget, width int) string {
	title := widget.Title
	if title == "" {
		title = "SQL Query"
	}
	lines := []string{sqlTitleStyle.Render(truncate("</> "+title, width))}
	sql := strings.TrimSpace(SQLText(widget))
	if sql == "" {
		lines = append(lines, emptyWidgetStyle.Render("no query"))
		return strings.Join(lines, "\n")
	}
	wrapped := strings.Split(xansi.Wrap(sql, width, " ,"), "\n")
	if len(wrapped) > maxSQLLines {
		wrapped = append(wrapped[:maxSQLLines-1], mutedStyle.Render("…"))
	}
	for _, line := range wrapped {
		lines = append(lines, codeStyle.Render(line))
	}
	return strings.Join(lines, "\n")
}
