package app

import (
	"strings"
	"testing"

	xansi "github.com/charmbracelet/x/ansi"

	"chatbi/internal/toolcall"
	"chatbi/internal/types"
)

func TestRenderToolCardStatuses(t *testing.T) {
	running := xansi.Strip(renderToolCard(toolcall.Call{ID: "c1", Name: "kb_chat", Status: toolcall.StatusRunning}, false, 60, nil))
	if !strings.Contains(running, "kb_chat") || !strings.Contains(running, toolLabelActive) {
		t.Fatalf("unexpected running card:\n%s", running)
	}

	failed := xansi.Strip(renderToolCard(toolcall.Call{ID: "c2", Name: "show_sql", Status: toolcall.StatusError, Err: "sql is required"}, false, 60, nil))
	if !strings.Contains(failed, "Failed: sql is required") {
		t.Fatalf("unexpected failed card:\n%s", failed)
	}

	done := toolcall.Call{
		ID:       "c3",
		Name:     "kb_chat",
		Status:   toolcall.StatusComplete,
		ArgsText: `{"query":"refunds"}`,
		Result:   toolcall.AnswerResult{Answer: "Refunds are accepted within 30 days.", Sources: []string{"refund-policy.md"}},
	}
	collapsed := xansi.Strip(renderToolCard(done, false, 60, nil))
	for _, want := range []string{toolLabelDone, "Refunds are accepted", "Sources: refund-policy.md"} {
		if !strings.Contains(collapsed, want) {
			t.Fatalf("expected %q in card:\n%s", want, collapsed)
		}
	}
	if strings.Contains(collapsed, "Arguments") {
		t.Fatalf("collapsed card should hide arguments:\n%s", collapsed)
	}
	expanded := xansi.Strip(renderToolCard(done, true, 60, nil))
	if !strings.Contains(expanded, "Arguments") || !strings.Contains(expanded, `"query": "refunds"`) {
		t.Fatalf("unexpected expanded card:\n%s", expanded)
	}
}

func TestRenderTranscriptRebuildsEarlierTurns(t *testing.T) {
	messages := []types.Message{
		{ID: "m1", Role: types.RoleUser, Content: "show sql"},
		{ID: "m2", Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{
			ID:       "old-call",
			Type:     "function",
			Function: types.FunctionCall{Name: "show_sql", Arguments: `{"sql":"SELECT 1"}`},
		}}},
		{ID: "m3", Role: types.RoleTool, ToolCallID: "old-call", Content: "SQL displayed on dashboard"},
	}
	view := xansi.Strip(renderTranscript(transcriptView{
		messages:    messages,
		calls:       []toolcall.Call{{ID: "state-only", Name: "kb_chat", Status: toolcall.StatusRunning, Origin: toolcall.OriginState}},
		expandTools: true,
		thinking:    thinkingLabel,
		width:       60,
	}))
	for _, want := range []string{"You", "show sql", "show_sql", toolLabelDone, "SQL displayed on dashboard", "kb_chat", toolLabelActive, thinkingLabel} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in transcript:\n%s", want, view)
		}
	}
	if strings.Contains(view, greeting) {
		t.Fatalf("greeting should only show for an empty transcript")
	}
}

func TestRenderTranscriptShowsGreetingAndError(t *testing.T) {
	view := xansi.Strip(renderTranscript(transcriptView{width: 60, lastErr: "agent run failed"}))
	if !strings.Contains(view, "Hello!") || !strings.Contains(view, "Error: agent run failed") {
		t.Fatalf("unexpected transcript:\n%s", view)
	}
}

func TestMarkdownCacheReusesRender(t *testing.T) {
	cache := newMarkdownCache()
	first := cache.render("m1", "**bold**", 40)
	if entry := cache.entries["m1"]; entry.out != first || entry.width != 40 {
		t.Fatalf("expected cached entry, got %+v", entry)
	}
	cache.render("m1", "**bold** text", 40)
	if cache.entries["m1"].text != "**bold** text" {
		t.Fatalf("expected cache refresh on new text")
	}
	cache.reset()
	if len(cache.entries) != 0 {
		t.Fatalf("expected empty cache after reset")
	}
}

func TestCanvasHeaderAndBody(t *testing.T) {
	header := xansi.Strip(canvasHeader(nil, 60))
	if !strings.Contains(header, canvasTitle) || !strings.Contains(header, canvasReady) || strings.Contains(header, "Clear Canvas") {
		t.Fatalf("unexpected empty header:\n%s", header)
	}
	list := []types.DashboardWidget{{ID: "w1", Type: types.WidgetKPI}, {ID: "w2", Type: types.WidgetChart}}
	header = xansi.Strip(canvasHeader(list, 60))
	if !strings.Contains(header, "Showing 2 widgets") || !strings.Contains(header, "Clear Canvas") {
		t.Fatalf("unexpected header:\n%s", header)
	}
	body := xansi.Strip(canvasBody(nil, true, 60))
	if !strings.Contains(body, emptyCanvasTitle) || !strings.Contains(body, emptyCanvasDetail) {
		t.Fatalf("unexpected empty body:\n%s", body)
	}
}

func TestLatestSQLPicksNewest(t *testing.T) {
	list := []types.DashboardWidget{
		sqlWidget(t, "SELECT 1"),
		{ID: "k", Type: types.WidgetKPI},
		sqlWidget(t, "SELECT 2"),
	}
	if got := latestSQL(list); got != "SELECT 2" {
		t.Fatalf("unexpected sql %q", got)
	}
	if got := latestSQL(list[1:2]); got != "" {
		t.Fatalf("expected no sql, got %q", got)
	}
}
