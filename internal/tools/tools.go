// Package tools defines the client side of the chat BI tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"chatbi/internal/agentstate"
	"chatbi/internal/approval"
	"chatbi/internal/toolcall"
	"chatbi/internal/types"
)

const (
	ShowSQLName = "show_sql"
	KBChatName  = "kb_chat"

	ShowSQLResult   = "SQL displayed on dashboard"
	defaultSQLTitle = "SQL Query"
)

// WidgetAppender is the slice of the state channel show_sql writes to.
type WidgetAppender interface {
	AppendWidget(w types.DashboardWidget) (types.DashboardWidget, error)
}

// ShowSQL appends a sql widget to the canvas.
type ShowSQL struct {
	State WidgetAppender
}

func (ShowSQL) Definition() toolcall.Definition {
	return toolcall.Definition{
		Name:        ShowSQLName,
		Description: "Show a SQL query on the dashboard.",
		Parameters: []toolcall.Parameter{
			{Name: "sql", Type: toolcall.TypeString, Description: "The SQL query to display.", Required: true},
			{Name: "title", Type: toolcall.TypeString, Description: "Title for the SQL widget."},
		},
		Frontend: true,
	}
}

func (s ShowSQL) Execute(_ context.Context, call toolcall.Call) (toolcall.Result, error) {
	args := call.Args()
	sql := args.String("sql")
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("sql is required")
	}
	title := args.String("title")
	if title == "" {
		title = defaultSQLTitle
	}
	data, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		return nil, err
	}
	if _, err := s.State.AppendWidget(types.DashboardWidget{
		Type:  types.WidgetSQL,
		Title: title,
		Data:  data,
	}); err != nil {
		return nil, err
	}
	return toolcall.TextResult{Text: ShowSQLResult}, nil
}

// KBChat is the knowledge-base tool the agent runs itself. It is registered
// so its calls render with their question and answer.
type KBChat struct{}

func (KBChat) Definition() toolcall.Definition {
	return toolcall.Definition{
		Name:        KBChatName,
		Description: "Search the knowledge base for relevant knowledge.",
		Parameters: []toolcall.Parameter{
			{Name: "question", Type: toolcall.TypeString, Description: "The question to look up.", Required: true},
			{Name: "file_name", Type: toolcall.TypeString, Description: "Restrict the search to one file."},
		},
	}
}

// Execute satisfies toolcall.Handler. The router only runs frontend tools,
// so it is never called for kb_chat.
func (KBChat) Execute(context.Context, toolcall.Call) (toolcall.Result, error) {
	return nil, nil
}

// Register installs the chat BI tools on router, bound to channel. The
// returned handler owns the approval gates.
func Register(router *toolcall.Router, channel *agentstate.Channel, opts ...approval.GateOption) (*approval.Handler, error) {
	gates := approval.NewHandler(channel, router, opts...)
	for _, handler := range []toolcall.Handler{ShowSQL{State: channel}, gates, KBChat{}} {
		if err := router.Register(handler); err != nil {
			return nil, err
		}
	}
	return gates, nil
}

// Catalog lists every tool definition without binding any state.
func Catalog() []toolcall.Definition {
	return []toolcall.Definition{
		ShowSQL{}.Definition(),
		approval.NewHandler(nil, nil).Definition(),
		KBChat{}.Definition(),
	}
}
