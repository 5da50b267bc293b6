package app

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatbi/internal/approval"
	"chatbi/internal/conversation"
	"chatbi/internal/logging"
	"chatbi/internal/sessions"
	"chatbi/internal/types"
)

const (
	tickInterval    = 100 * time.Millisecond
	minSidebarWidth = 18
	maxSidebarWidth = 30
	minPaneWidth    = 24
	chatHeaderLines = 2
	inputLines      = 2
	canvasHeadLines = 2
)

type focusArea int

const (
	focusChat focusArea = iota
	focusSidebar
	focusApproval
)

const (
	chatHelp     = "enter send • tab focus • ctrl+n new • ctrl+l clear • ctrl+y copy sql • ctrl+t details • ctrl+e params • esc stop • ctrl+c quit"
	sidebarHelp  = "↑/↓ select • enter open • d delete • n new • tab focus"
	approvalHelp = "↑/↓ move • ←/→ pick • x remove • enter edit • ctrl+s confirm • tab focus"
)

type Config struct {
	Manager *conversation.Manager
	DevMode bool
	// Theme is "dark" or "light"; it picks the markdown palette.
	Theme  string
	Logger logging.Logger
}

type Model struct {
	manager  *conversation.Manager
	sessions *sessions.Store
	logger   logging.Logger
	devMode  bool

	width        int
	height       int
	sidebarWidth int
	canvasWidth  int
	chatWidth    int
	bodyHeight   int

	focus      focusArea
	cursor     int
	input      *ChatInput
	chatView   viewport.Model
	canvasView viewport.Model
	spinner    spinner.Model
	cache      *markdownCache
	form       *approvalForm

	expandTools bool
	follow      bool
	status      string
	statusErr   bool

	renderedThread string
	canvasVersion  uint64
	sessionVersion uint64
}

func NewModel(cfg Config) Model {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	setMarkdownBackgroundDark(!strings.EqualFold(strings.TrimSpace(cfg.Theme), "light"))

	input := NewChatInput(minPaneWidth)
	input.SetPlaceholder("Ask about your data...")
	input.Focus()
	m := Model{
		manager:    cfg.Manager,
		sessions:   cfg.Manager.Sessions(),
		logger:     logging.Component(logger, "ui"),
		devMode:    cfg.DevMode,
		input:      input,
		chatView:   viewport.New(minPaneWidth, 10),
		canvasView: viewport.New(minPaneWidth, 10),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		cache:      newMarkdownCache(),
		follow:     true,
		status:     "ready",
	}
	m.syncCursor()
	return m
}

func Run(cfg Config) error {
	if cfg.Manager == nil {
		return errors.New("conversation manager is required")
	}
	model := NewModel(cfg)
	p := tea.NewProgram(&model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil
	case tickMsg:
		cmd := m.consumeTick(time.Time(msg))
		return m, tea.Batch(cmd, tickCmd())
	case runStartedMsg:
		m.onRunStarted(msg)
		return m, nil
	case approvalSentMsg:
		m.onApprovalSent(msg)
		return m, nil
	case clipboardResultMsg:
		if msg.err != nil {
			m.setStatusError("copy failed: " + msg.err.Error())
		} else {
			m.setStatus(msg.success)
		}
		return m, nil
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		m.follow = m.chatView.AtBottom()
		return m, cmd
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, m.input.Update(msg)
}

// consumeTick drains the current run and schedules a resume when tool
// results are waiting.
func (m *Model) consumeTick(now time.Time) tea.Cmd {
	rt := m.manager.Current()
	if rt == nil {
		return nil
	}
	result := rt.ConsumeTick()
	var cmd tea.Cmd
	if result.NeedsResume {
		cmd = resumeCmd(rt)
	}
	if result.Finished {
		if errMsg := rt.LastError(); errMsg != "" {
			m.setStatusError("run failed: " + errMsg)
		} else if !result.NeedsResume {
			m.setStatus("ready")
		}
	}
	formChanged := m.syncApprovalForm(rt)

	generic, trailing := rt.Router().Thinking(rt.Running())
	thinking := generic || trailing
	if thinking {
		m.spinner, _ = m.spinner.Update(spinner.TickMsg{Time: now, ID: m.spinner.ID()})
	}
	if result.Changed || thinking || formChanged || m.stale(rt) {
		m.refresh()
	}
	return cmd
}

func (m *Model) stale(rt *conversation.Runtime) bool {
	return rt.ThreadID() != m.renderedThread ||
		rt.Channel().Version() != m.canvasVersion ||
		m.sessions.Version() != m.sessionVersion
}

// syncApprovalForm binds the form to the active gate. A new gate takes
// focus so the run can continue.
func (m *Model) syncApprovalForm(rt *conversation.Runtime) bool {
	gate := rt.Approvals().Active()
	if gate == nil {
		if m.form == nil {
			return false
		}
		m.form = nil
		if m.focus == focusApproval {
			m.setFocus(focusChat)
		}
		return true
	}
	if m.form != nil && m.form.gate == gate {
		return false
	}
	m.form = newApprovalForm(gate, m.formInputWidth())
	m.setFocus(focusApproval)
	return true
}

func (m *Model) onRunStarted(msg runStartedMsg) {
	if rt := m.manager.Current(); rt == nil || rt.ThreadID() != msg.threadID {
		return
	}
	switch {
	case msg.err == nil:
		m.setStatus("running")
	case errors.Is(msg.err, conversation.ErrRunInProgress):
		m.setStatus("a run is already in progress")
	case errors.Is(msg.err, conversation.ErrApprovalPending):
		m.setStatus("confirm the query parameters first")
	case errors.Is(msg.err, conversation.ErrClosed):
	default:
		m.logger.Warn("run start failed", logging.F("resume", msg.resume), logging.Err(msg.err))
		m.setStatusError(msg.err.Error())
	}
	m.refresh()
}

func (m *Model) onApprovalSent(msg approvalSentMsg) {
	// A repeated ctrl+s or r reaches a gate that already answered.
	if errors.Is(msg.err, approval.ErrAlreadyConfirmed) || errors.Is(msg.err, approval.ErrNotFailed) {
		return
	}
	if msg.err != nil {
		m.setStatusError("approval delivery failed: " + msg.err.Error())
	} else if msg.retry {
		m.setStatus("approval resent")
	} else {
		m.setStatus("parameters confirmed")
	}
	if rt := m.manager.Current(); rt != nil {
		m.syncApprovalForm(rt)
	}
	m.refresh()
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	if key == "ctrl+c" {
		return tea.Quit
	}
	if m.focus == focusApproval && m.form != nil && m.form.editing {
		cmd, _ := m.form.handleKey(msg)
		m.refresh()
		return cmd
	}
	switch key {
	case "tab":
		m.cycleFocus()
		m.refresh()
		return nil
	case "ctrl+n":
		m.sessions.Create()
		m.afterSessionChange()
		return nil
	case "ctrl+l":
		m.clearCanvas()
		return nil
	case "ctrl+y":
		return m.copySQL()
	case "ctrl+t":
		m.expandTools = !m.expandTools
		m.refresh()
		return nil
	case "ctrl+e":
		m.toggleConfirmedParams()
		return nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		m.follow = m.chatView.AtBottom()
		return cmd
	}

	switch m.focus {
	case focusSidebar:
		return m.handleSidebarKey(key)
	case focusApproval:
		if m.form == nil {
			return nil
		}
		cmd, handled := m.form.handleKey(msg)
		if handled {
			m.refresh()
		}
		return cmd
	default:
		return m.handleChatKey(msg)
	}
}

func (m *Model) handleChatKey(msg tea.KeyMsg) tea.Cmd {
	rt := m.manager.Current()
	switch msg.String() {
	case "esc":
		if rt != nil && rt.Running() {
			rt.Cancel()
			m.setStatus("run stopped")
			m.refresh()
		}
		return nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || rt == nil {
			return nil
		}
		if rt.Running() {
			m.setStatus("wait for the current answer to finish")
			return nil
		}
		if rt.Approvals().Active() != nil {
			m.setStatus("confirm the query parameters first")
			m.syncApprovalForm(rt)
			m.setFocus(focusApproval)
			m.refresh()
			return nil
		}
		m.input.Clear()
		m.follow = true
		m.setStatus("sending")
		return sendCmd(rt, text)
	}
	return m.input.Update(msg)
}

func (m *Model) handleSidebarKey(key string) tea.Cmd {
	list := m.sessions.Sessions()
	switch key {
	case "up", "k":
		m.cursor = clamp(m.cursor-1, 0, max(0, len(list)-1))
	case "down", "j":
		m.cursor = clamp(m.cursor+1, 0, max(0, len(list)-1))
	case "enter":
		if m.cursor < len(list) && m.sessions.Switch(list[m.cursor].ID) {
			m.afterSessionChange()
			return nil
		}
	case "d", "delete":
		if m.cursor < len(list) {
			m.sessions.Delete(list[m.cursor].ID)
			m.afterSessionChange()
			return nil
		}
	case "n":
		m.sessions.Create()
		m.afterSessionChange()
		return nil
	default:
		return nil
	}
	m.refresh()
	return nil
}

// afterSessionChange resets per-thread UI state. The manager has already
// rebound the runtime by the time the store call returns.
func (m *Model) afterSessionChange() {
	m.form = nil
	if m.focus == focusApproval {
		m.setFocus(focusChat)
	}
	m.follow = true
	m.syncCursor()
	if err := m.manager.Err(); err != nil {
		m.setStatusError("conversation unavailable: " + err.Error())
	} else {
		m.setStatus("thread " + shortID(m.sessions.Current()))
	}
	m.logger.Info("session changed", logging.F("thread_id", m.sessions.Current()))
	m.refresh()
}

func (m *Model) syncCursor() {
	current := m.sessions.Current()
	for i, session := range m.sessions.Sessions() {
		if session.ID == current {
			m.cursor = i
			return
		}
	}
	m.cursor = 0
}

// toggleConfirmedParams expands or collapses the summary of the newest
// confirmed approval.
func (m *Model) toggleConfirmedParams() {
	rt := m.manager.Current()
	if rt == nil {
		return
	}
	gate := rt.Approvals().LatestConfirmed()
	if gate == nil {
		m.setStatus("no confirmed parameters yet")
		return
	}
	gate.ToggleExpanded()
	m.refresh()
}

func (m *Model) clearCanvas() {
	rt := m.manager.Current()
	if rt == nil {
		return
	}
	if err := rt.ClearCanvas(); err != nil {
		m.setStatusError("clear canvas failed: " + err.Error())
		return
	}
	m.setStatus("canvas cleared")
	m.refresh()
}

func (m *Model) copySQL() tea.Cmd {
	rt := m.manager.Current()
	if rt == nil {
		return nil
	}
	if !m.devMode {
		m.setStatus("SQL is hidden outside dev mode")
		return nil
	}
	sql := latestSQL(rt.Channel().State().Widgets)
	if sql == "" {
		m.setStatus("no SQL on the dashboard")
		return nil
	}
	return copyCmd(sql, "SQL copied")
}

func (m *Model) cycleFocus() {
	switch m.focus {
	case focusChat:
		m.setFocus(focusSidebar)
		m.syncCursor()
	case focusSidebar:
		if m.form != nil {
			m.setFocus(focusApproval)
		} else {
			m.setFocus(focusChat)
		}
	default:
		m.setFocus(focusChat)
	}
}

func (m *Model) setFocus(focus focusArea) {
	m.focus = focus
	if focus == focusChat {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) setStatus(status string) {
	m.status = status
	m.statusErr = false
}

func (m *Model) setStatusError(status string) {
	m.status = status
	m.statusErr = true
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.sidebarWidth = clamp(width/5, minSidebarWidth, maxSidebarWidth)
	rest := max(2*minPaneWidth, width-m.sidebarWidth-2)
	m.chatWidth = clamp(rest*2/5, minPaneWidth, rest-minPaneWidth)
	m.canvasWidth = rest - m.chatWidth
	m.bodyHeight = max(chatHeaderLines+inputLines+1, height-1)

	m.canvasView.Width = m.canvasWidth
	m.canvasView.Height = max(1, m.bodyHeight-canvasHeadLines)
	m.chatView.Width = m.chatWidth
	m.chatView.Height = max(1, m.bodyHeight-chatHeaderLines-inputLines)
	m.input.Resize(m.chatWidth)
	if m.form != nil {
		m.form.input.Resize(m.formInputWidth())
	}
}

func (m *Model) formInputWidth() int {
	return max(8, m.chatWidth-16)
}

// refresh re-renders the canvas and transcript of the current thread.
func (m *Model) refresh() {
	rt := m.manager.Current()
	m.sessionVersion = m.sessions.Version()
	if rt == nil {
		msg := "no conversation"
		if err := m.manager.Err(); err != nil {
			msg = err.Error()
		}
		m.chatView.SetContent(statusErrorStyle.Render(msg))
		m.canvasView.SetContent("")
		m.renderedThread = ""
		return
	}
	channel := rt.Channel()
	m.canvasVersion = channel.Version()
	state := channel.State()
	m.canvasView.SetContent(canvasBody(state.Widgets, m.devMode, m.canvasWidth))

	thinking := ""
	if generic, trailing := rt.Router().Thinking(rt.Running()); generic || trailing {
		thinking = m.spinner.View() + " " + thinkingLabel
	}
	content := renderTranscript(transcriptView{
		messages:    rt.Messages(),
		calls:       rt.Router().Entries(),
		gates:       rt.Approvals(),
		form:        m.form,
		formFocused: m.focus == focusApproval,
		expandTools: m.expandTools,
		thinking:    thinking,
		lastErr:     rt.LastError(),
		width:       m.chatWidth,
		cache:       m.cache,
	})
	follow := m.follow || m.chatView.AtBottom() || rt.ThreadID() != m.renderedThread
	m.chatView.SetContent(content)
	if follow {
		m.chatView.GotoBottom()
	}
	m.renderedThread = rt.ThreadID()
}

func (m *Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "loading..."
	}
	list := m.currentWidgets()
	sidebar := renderSidebar(m.sessions.Sessions(), m.sessions.Current(), m.cursor, m.focus == focusSidebar, m.sidebarWidth, m.bodyHeight)
	canvas := fitBlock(canvasHeader(list, m.canvasWidth)+"\n"+m.canvasView.View(), m.canvasWidth, m.bodyHeight)
	chat := fitBlock(strings.Join([]string{
		m.chatHeader(),
		m.chatView.View(),
		renderInputDivider(m.chatWidth, !m.chatView.AtBottom()),
		m.input.View(),
	}, "\n"), m.chatWidth, m.bodyHeight)
	divider := renderVerticalDivider(m.bodyHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, divider, canvas, divider, chat)
	return body + "\n" + m.statusLine()
}

func (m *Model) currentWidgets() []types.DashboardWidget {
	rt := m.manager.Current()
	if rt == nil {
		return nil
	}
	return rt.Channel().State().Widgets
}

func (m *Model) chatHeader() string {
	title := headerStyle.Render(chatTitle)
	if m.focus == focusChat || m.focus == focusApproval {
		title = focusedHeaderStyle.Render(chatTitle)
	}
	return title + "\n" + chatMetaStyle.Render("Thread: "+m.sessions.Current())
}

func (m *Model) statusLine() string {
	help := chatHelp
	switch m.focus {
	case focusSidebar:
		help = sidebarHelp
	case focusApproval:
		help = approvalHelp
	}
	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = statusErrorStyle.Render(m.status)
	}
	return renderStatusLine(m.width, helpStyle.Render(help), status)
}
