package types

import "encoding/json"

type WidgetType string

const (
	WidgetKPI   WidgetType = "kpi"
	WidgetChart WidgetType = "chart"
	WidgetTable WidgetType = "table"
	WidgetSQL   WidgetType = "sql"
)

// DashboardWidget is one renderable unit on the canvas. Data and Config are
// type-dependent and kept as raw JSON.
type DashboardWidget struct {
	ID          string          `json:"id"`
	Type        WidgetType      `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type ActiveToolStatus string

const (
	ActiveToolRunning ActiveToolStatus = "running"
	ActiveToolDone    ActiveToolStatus = "done"
)

// ActiveTool is the agent's report of its most recent backend tool call.
type ActiveTool struct {
	ID     string           `json:"id,omitempty"`
	Name   string           `json:"name"`
	Args   json.RawMessage  `json:"args,omitempty"`
	Status ActiveToolStatus `json:"status"`
	Result json.RawMessage  `json:"result,omitempty"`
}
