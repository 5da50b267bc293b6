package app

import (
	"fmt"
	"strings"

	"chatbi/internal/types"
	"chatbi/internal/widgets"
)

const (
	canvasTitle       = "Dashboard"
	canvasReady       = "Ready for analysis."
	emptyCanvasTitle  = "Empty Canvas"
	emptyCanvasDetail = "Start a new conversation on the right."
	clearCanvasLabel  = "[Clear Canvas ctrl+l]"
)

// canvasHeader is the two-line title block above the widgets.
func canvasHeader(list []types.DashboardWidget, width int) string {
	subtitle := canvasReady
	if len(list) > 0 {
		subtitle = fmt.Sprintf("Showing %d widgets", len(list))
	}
	title := headerStyle.Render(canvasTitle)
	if len(list) > 0 {
		title = renderStatusLine(width, title, clearButtonStyle.Render(clearCanvasLabel))
	}
	return title + "\n" + subtitleStyle.Render(subtitle)
}

func canvasBody(list []types.DashboardWidget, devMode bool, width int) string {
	body := ""
	if len(list) > 0 {
		body = widgets.RenderAll(list, widgets.Options{Width: width, DevMode: devMode})
	}
	if body == "" {
		return "\n" + emptyCanvasStyle.Render(emptyCanvasTitle) + "\n" + helpStyle.Render(emptyCanvasDetail)
	}
	return body
}

// latestSQL returns the text of the newest sql widget.
func latestSQL(list []types.DashboardWidget) string {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Type != types.WidgetSQL {
			continue
		}
		if sql := strings.TrimSpace(widgets.SQLText(list[i])); sql != "" {
			return sql
		}
	}
	return ""
}
