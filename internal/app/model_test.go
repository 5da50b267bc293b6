package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	xansi "github.com/charmbracelet/x/ansi"

	"chatbi/internal/approval"
	"chatbi/internal/client"
	"chatbi/internal/conversation"
	"chatbi/internal/mockagent"
	"chatbi/internal/sessions"
	"chatbi/internal/types"
)

func counter(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestModel(t *testing.T, devMode bool) *Model {
	t.Helper()
	server := httptest.NewServer(mockagent.NewServer(mockagent.WithDelay(0), mockagent.WithIDGenerator(counter("srv"))).Handler())
	t.Cleanup(server.Close)
	store := sessions.New("thread-1", sessions.WithIDGenerator(counter("t")))
	manager, err := conversation.NewManager(conversation.ManagerConfig{
		Sessions: store,
		Agent:    client.New(server.URL, mockagent.DefaultAgent),
		NewID:    counter("cli"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(manager.Close)
	m := NewModel(Config{Manager: manager, DevMode: devMode})
	m.Update(tea.WindowSizeMsg{Width: 160, Height: 48})
	return &m
}

// deliver runs cmd synchronously and feeds its messages back, dropping ticks.
func deliver(m *Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	msg := cmd()
	switch msg := msg.(type) {
	case tea.BatchMsg:
		for _, sub := range msg {
			deliver(m, sub)
		}
	case tickMsg, nil:
	default:
		m.Update(msg)
	}
}

func waitFor(t *testing.T, m *Model, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		deliver(m, m.consumeTick(time.Now()))
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached; status=%q", m.status)
}

func press(m *Model, key tea.KeyType) tea.Cmd {
	return m.handleKey(tea.KeyMsg{Type: key})
}

func pressRune(m *Model, r rune) tea.Cmd {
	return m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
}

func sendText(m *Model, text string) {
	m.input.SetValue(text)
	deliver(m, press(m, tea.KeyEnter))
}

func idle(m *Model) func() bool {
	return func() bool {
		rt := m.manager.Current()
		return rt != nil && !rt.Running()
	}
}

func stripped(m *Model) string {
	return xansi.Strip(m.View())
}

func TestInitialViewShowsPanes(t *testing.T) {
	m := newTestModel(t, true)
	view := stripped(m)
	for _, want := range []string{appTitle, canvasTitle, canvasReady, emptyCanvasTitle, chatTitle, "Thread: thread-1", "Hello! I'm ready"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestSendStreamsAnswerIntoTranscript(t *testing.T) {
	m := newTestModel(t, true)
	sendText(m, "hello there")
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
	waitFor(t, m, idle(m))

	messages := m.manager.Current().Messages()
	if len(messages) < 2 || messages[0].Content != "hello there" || messages[len(messages)-1].Role != types.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", messages)
	}
	if m.statusErr || m.status != "ready" {
		t.Fatalf("unexpected status %q (error=%v)", m.status, m.statusErr)
	}
	if strings.Contains(stripped(m), "Hello! I'm ready") {
		t.Fatalf("greeting should disappear once the transcript has messages")
	}
}

func TestEmptyInputIsNotSent(t *testing.T) {
	m := newTestModel(t, true)
	m.input.SetValue("   ")
	if cmd := press(m, tea.KeyEnter); cmd != nil {
		t.Fatalf("expected no command for blank input")
	}
	if got := m.manager.Current().Messages(); len(got) != 0 {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestDataQueryApprovalFlowBuildsDashboard(t *testing.T) {
	m := newTestModel(t, true)
	sendText(m, "show gmv and orders")
	waitFor(t, m, func() bool { return m.form != nil && idle(m)() })

	if m.focus != focusApproval {
		t.Fatalf("expected approval focus, got %v", m.focus)
	}
	if view := stripped(m); !strings.Contains(view, approvalTitle) || !strings.Contains(view, "orders [x]") {
		t.Fatalf("expected approval form in view:\n%s", view)
	}

	gate := m.form.gate
	press(m, tea.KeyDown)
	pressRune(m, 'x')
	if params := gate.Params(); len(params.Indicators) != 1 || params.Indicators[0] != "gmv" {
		t.Fatalf("unexpected indicators after remove: %+v", params.Indicators)
	}

	cmd := press(m, tea.KeyCtrlS)
	if cmd == nil {
		t.Fatalf("expected confirm command")
	}
	deliver(m, cmd)
	if m.form != nil || m.focus != focusChat {
		t.Fatalf("expected form to close after confirm: form=%v focus=%v", m.form, m.focus)
	}

	rt := m.manager.Current()
	waitFor(t, m, func() bool { return len(rt.Channel().State().Widgets) == 4 && !rt.Running() })

	state := rt.Channel().State()
	if len(state.IndicatorList) != 1 || state.IndicatorList[0] != "gmv" {
		t.Fatalf("unexpected indicator list: %+v", state.IndicatorList)
	}
	view := stripped(m)
	for _, want := range []string{"Showing 4 widgets", "Clear Canvas", "Parameters confirmed", "show_sql", toolLabelDone} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
	if rt.LastError() != "" {
		t.Fatalf("unexpected run error %q", rt.LastError())
	}
}

func TestKnowledgeAnswerShowsSources(t *testing.T) {
	m := newTestModel(t, true)
	sendText(m, "what is the refund policy?")
	waitFor(t, m, idle(m))

	view := stripped(m)
	if !strings.Contains(view, "kb_chat") || !strings.Contains(view, "Sources: refund-policy.md") {
		t.Fatalf("expected kb_chat card with sources:\n%s", view)
	}
	press(m, tea.KeyCtrlT)
	if view := stripped(m); !strings.Contains(view, "Arguments") || !strings.Contains(view, "Result") {
		t.Fatalf("expected expanded tool details:\n%s", view)
	}
}

func sqlWidget(t *testing.T, sql string) types.DashboardWidget {
	t.Helper()
	data, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return types.DashboardWidget{Type: types.WidgetSQL, Title: "Revenue", Data: data}
}

func TestCopyAndClearCanvas(t *testing.T) {
	origWriteAll := clipboardWriteAll
	t.Cleanup(func() { clipboardWriteAll = origWriteAll })
	var copied string
	clipboardWriteAll = func(text string) error {
		copied = text
		return nil
	}

	m := newTestModel(t, true)
	rt := m.manager.Current()
	if _, err := rt.Channel().AppendWidget(sqlWidget(t, "SELECT 1")); err != nil {
		t.Fatalf("AppendWidget: %v", err)
	}
	deliver(m, m.consumeTick(time.Now()))
	if view := stripped(m); !strings.Contains(view, "</> Revenue") || !strings.Contains(view, "Showing 1 widgets") {
		t.Fatalf("expected sql widget in view:\n%s", view)
	}

	deliver(m, press(m, tea.KeyCtrlY))
	if copied != "SELECT 1" || m.status != "SQL copied" {
		t.Fatalf("unexpected copy: %q status=%q", copied, m.status)
	}

	press(m, tea.KeyCtrlL)
	if got := rt.Channel().State().Widgets; len(got) != 0 {
		t.Fatalf("expected empty canvas, got %+v", got)
	}
	if view := stripped(m); !strings.Contains(view, emptyCanvasTitle) || !strings.Contains(view, canvasReady) {
		t.Fatalf("expected empty canvas view:\n%s", view)
	}
}

func TestDevModeOffHidesSQL(t *testing.T) {
	m := newTestModel(t, false)
	rt := m.manager.Current()
	if _, err := rt.Channel().AppendWidget(sqlWidget(t, "SELECT 1")); err != nil {
		t.Fatalf("AppendWidget: %v", err)
	}
	deliver(m, m.consumeTick(time.Now()))
	if view := stripped(m); strings.Contains(view, "SELECT 1") {
		t.Fatalf("sql should be hidden outside dev mode:\n%s", view)
	}
	if cmd := press(m, tea.KeyCtrlY); cmd != nil || m.status != "SQL is hidden outside dev mode" {
		t.Fatalf("unexpected copy behaviour: status=%q", m.status)
	}
}

func TestSessionSwitchRebindsConversation(t *testing.T) {
	m := newTestModel(t, true)
	first := m.manager.Current()
	if _, err := first.Channel().AppendWidget(sqlWidget(t, "SELECT 1")); err != nil {
		t.Fatalf("AppendWidget: %v", err)
	}

	press(m, tea.KeyCtrlN)
	if m.sessions.Current() != "t-1" || m.manager.Current().ThreadID() != "t-1" {
		t.Fatalf("unexpected current thread %q", m.sessions.Current())
	}
	if !first.Channel().Closed() {
		t.Fatalf("expected the previous channel to be closed")
	}
	if view := stripped(m); !strings.Contains(view, emptyCanvasTitle) || !strings.Contains(view, "Thread: t-1") {
		t.Fatalf("expected a fresh canvas for the new thread:\n%s", view)
	}

	press(m, tea.KeyTab)
	if m.focus != focusSidebar || m.cursor != 0 {
		t.Fatalf("unexpected sidebar state: focus=%v cursor=%d", m.focus, m.cursor)
	}
	press(m, tea.KeyDown)
	press(m, tea.KeyEnter)
	if m.sessions.Current() != "thread-1" || m.manager.Current().ThreadID() != "thread-1" {
		t.Fatalf("expected switch back to thread-1, got %q", m.sessions.Current())
	}

	pressRune(m, 'd')
	if m.sessions.Current() != "t-1" || len(m.sessions.Sessions()) != 1 {
		t.Fatalf("unexpected sessions after delete: current=%q list=%+v", m.sessions.Current(), m.sessions.Sessions())
	}
}

func TestRunStartErrorIsReported(t *testing.T) {
	m := newTestModel(t, true)
	threadID := m.manager.Current().ThreadID()
	m.Update(runStartedMsg{threadID: threadID, err: errors.New("connection refused")})
	if !m.statusErr || !strings.Contains(m.status, "connection refused") {
		t.Fatalf("unexpected status %q", m.status)
	}
	m.Update(runStartedMsg{threadID: "other", err: errors.New("stale")})
	if strings.Contains(m.status, "stale") {
		t.Fatalf("results for other threads should be ignored")
	}
}

func openApproval(t *testing.T, m *Model) {
	t.Helper()
	sendText(m, "show gmv and orders")
	waitFor(t, m, func() bool { return m.form != nil && idle(m)() })
}

func TestChatSendWaitsForOpenApproval(t *testing.T) {
	m := newTestModel(t, true)
	openApproval(t, m)
	rt := m.manager.Current()
	before := len(rt.Messages())

	m.setFocus(focusChat)
	m.input.SetValue("and refunds?")
	if cmd := press(m, tea.KeyEnter); cmd != nil {
		t.Fatalf("expected no send while the approval is open")
	}
	if m.status != "confirm the query parameters first" || m.focus != focusApproval {
		t.Fatalf("unexpected state: status=%q focus=%v", m.status, m.focus)
	}
	if m.input.Value() != "and refunds?" {
		t.Fatalf("input should be kept, got %q", m.input.Value())
	}
	if got := len(rt.Messages()); got != before {
		t.Fatalf("transcript changed: %d -> %d", before, got)
	}

	m.Update(runStartedMsg{threadID: rt.ThreadID(), err: conversation.ErrApprovalPending})
	if m.statusErr || m.status != "confirm the query parameters first" {
		t.Fatalf("unexpected status %q (error=%v)", m.status, m.statusErr)
	}
}

func TestConfirmedApprovalExpandsSummary(t *testing.T) {
	m := newTestModel(t, true)
	openApproval(t, m)
	gate := m.form.gate
	deliver(m, press(m, tea.KeyCtrlS))
	rt := m.manager.Current()
	waitFor(t, m, func() bool { return len(rt.Channel().State().Widgets) == 4 && !rt.Running() })
	deliver(m, m.consumeTick(time.Now()))

	if m.form != nil {
		t.Fatalf("confirmed gate should not keep the form")
	}
	if view := stripped(m); strings.Contains(view, "Indicators: ") || !strings.Contains(view, "ctrl+e shows the parameters") {
		t.Fatalf("expected collapsed summary:\n%s", view)
	}
	press(m, tea.KeyCtrlE)
	if !gate.Expanded() {
		t.Fatalf("expected ctrl+e to expand the confirmed gate")
	}
	view := stripped(m)
	for _, line := range gate.Summary() {
		if !strings.Contains(view, line) {
			t.Fatalf("expected %q in view:\n%s", line, view)
		}
	}
	press(m, tea.KeyCtrlE)
	if gate.Expanded() {
		t.Fatalf("expected ctrl+e to collapse again")
	}
}

func TestRepeatedConfirmKeepsStatus(t *testing.T) {
	m := newTestModel(t, true)
	m.setStatus("parameters confirmed")
	m.Update(approvalSentMsg{callID: "q1", err: approval.ErrAlreadyConfirmed})
	m.Update(approvalSentMsg{callID: "q1", retry: true, err: approval.ErrNotFailed})
	if m.statusErr || m.status != "parameters confirmed" {
		t.Fatalf("unexpected status %q (error=%v)", m.status, m.statusErr)
	}
}

func TestExpandWithoutConfirmedApproval(t *testing.T) {
	m := newTestModel(t, true)
	press(m, tea.KeyCtrlE)
	if m.status != "no confirmed parameters yet" {
		t.Fatalf("unexpected status %q", m.status)
	}
}
