package app

import (
	"bytes"
	"encoding/json"
	"strings"

	xansi "github.com/charmbracelet/x/ansi"

	"chatbi/internal/approval"
	"chatbi/internal/toolcall"
	"chatbi/internal/types"
)

const (
	chatTitle       = "Data Copilot"
	greeting        = "Hello! I'm ready to help you analyze data."
	thinkingLabel   = "Thinking..."
	maxDetailLines  = 12
	toolLabelActive = "Executing"
	toolLabelDone   = "Executed"
	toolLabelFailed = "Failed"
)

// transcriptView is everything renderTranscript reads. calls holds the
// router entries of the current turn; earlier turns are rebuilt from the
// transcript.
type transcriptView struct {
	messages    []types.Message
	calls       []toolcall.Call
	gates       *approval.Handler
	form        *approvalForm
	formFocused bool
	expandTools bool
	thinking    string
	lastErr     string
	width       int
	cache       *markdownCache
}

func renderTranscript(v transcriptView) string {
	width := max(20, v.width)
	byID := make(map[string]toolcall.Call, len(v.calls))
	for _, call := range v.calls {
		byID[call.ID] = call
	}
	results := map[string]string{}
	for _, msg := range v.messages {
		if msg.Role == types.RoleTool && msg.ToolCallID != "" {
			results[msg.ToolCallID] = msg.Content
		}
	}

	blocks := []string{}
	if len(v.messages) == 0 {
		blocks = append(blocks, renderAgentBubble("greeting", greeting, width, v.cache))
	}
	shown := map[string]bool{}
	for _, msg := range v.messages {
		switch msg.Role {
		case types.RoleUser:
			blocks = append(blocks, renderUserBubble(msg.ID, msg.Content, width, v.cache))
		case types.RoleAssistant:
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, renderAgentBubble(msg.ID, msg.Content, width, v.cache))
			}
			for _, tc := range msg.ToolCalls {
				shown[tc.ID] = true
				call, ok := byID[tc.ID]
				if !ok {
					call = historicCall(tc, results)
				}
				blocks = append(blocks, v.renderCall(call, width))
			}
		}
	}
	// Calls reported only through agent state have no transcript message.
	for _, call := range v.calls {
		if !shown[call.ID] {
			blocks = append(blocks, v.renderCall(call, width))
		}
	}
	if v.thinking != "" {
		blocks = append(blocks, activityStyle.Render(v.thinking))
	}
	if v.lastErr != "" {
		blocks = append(blocks, toolErrorStyle.Render("Error: "+v.lastErr))
	}
	return strings.Join(blocks, "\n")
}

func (v transcriptView) renderCall(call toolcall.Call, width int) string {
	if call.Name == approval.ToolName && v.gates != nil {
		if gate, ok := v.gates.Gate(call.ID); ok {
			var form *approvalForm
			if v.form != nil && v.form.gate == gate {
				form = v.form
			}
			return renderApproval(gate, form, v.formFocused && form != nil, width)
		}
	}
	return renderToolCard(call, v.expandTools, width, v.cache)
}

// historicCall rebuilds a finished call of an earlier turn.
func historicCall(tc types.ToolCall, results map[string]string) toolcall.Call {
	call := toolcall.Call{
		ID:       tc.ID,
		Name:     tc.Function.Name,
		ArgsText: tc.Function.Arguments,
		Status:   toolcall.StatusComplete,
	}
	if content, ok := results[tc.ID]; ok {
		call.Result = toolcall.ParseResult(content)
	}
	return call
}

func toolStatusLabel(call toolcall.Call) string {
	switch call.Status {
	case toolcall.StatusComplete:
		return toolDoneStyle.Render("✓ " + toolLabelDone)
	case toolcall.StatusError:
		label := "✗ " + toolLabelFailed
		if call.Err != "" {
			label += ": " + call.Err
		}
		return toolErrorStyle.Render(label)
	default:
		return toolRunningStyle.Render("… " + toolLabelActive)
	}
}

func renderToolCard(call toolcall.Call, expanded bool, width int, cache *markdownCache) string {
	inner := max(10, width-4)
	name := call.Name
	if name == "" {
		name = "tool"
	}
	lines := []string{truncateLine(activityStyle.Render("⚙ "+name)+"  "+toolStatusLabel(call), inner)}
	if answer, ok := call.Result.(toolcall.AnswerResult); ok {
		if text := strings.TrimSpace(answer.Answer); text != "" {
			lines = append(lines, cache.render("answer:"+call.ID, text, inner))
		}
		if len(answer.Sources) > 0 {
			lines = append(lines, chatMetaStyle.Render(truncateLine("Sources: "+strings.Join(answer.Sources, ", "), inner)))
		}
	}
	if expanded {
		if args := strings.TrimSpace(call.ArgsText); args != "" {
			lines = append(lines, chatMetaStyle.Render("Arguments"))
			lines = append(lines, detailLines(prettyJSON(args), inner)...)
		}
		if call.Result != nil {
			lines = append(lines, chatMetaStyle.Render("Result"))
			lines = append(lines, detailLines(prettyJSON(call.Result.Content()), inner)...)
		}
	} else if call.ArgsText != "" || call.Result != nil {
		lines = append(lines, helpStyle.Render("ctrl+t shows arguments and result"))
	}
	return toolCardStyle.Width(max(1, width-2)).Render(strings.Join(lines, "\n"))
}

func renderUserBubble(id, text string, width int, cache *markdownCache) string {
	inner := max(10, width-4)
	body := cache.render(id, escapeMarkdown(text), inner)
	return chatMetaStyle.Render("You") + "\n" + userBubbleStyle.Width(max(1, width-2)).Render(body)
}

func renderAgentBubble(id, text string, width int, cache *markdownCache) string {
	inner := max(10, width-4)
	return chatMetaStyle.Render("Copilot") + "\n" + agentBubbleStyle.Width(max(1, width-2)).Render(cache.render(id, text, inner))
}

func prettyJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}

func detailLines(text string, width int) []string {
	lines := strings.Split(xansi.Wrap(text, width, " ,"), "\n")
	if len(lines) > maxDetailLines {
		lines = append(lines[:maxDetailLines-1], "…")
	}
	return lines
}

func truncateLine(line string, width int) string {
	if width <= 0 {
		return ""
	}
	return xansi.Truncate(line, width, "…")
}

// markdownCache keeps rendered markdown per message until its text or the
// width changes.
type markdownCache struct {
	entries map[string]markdownEntry
}

type markdownEntry struct {
	text  string
	width int
	out   string
}

func newMarkdownCache() *markdownCache {
	return &markdownCache{entries: map[string]markdownEntry{}}
}

func (c *markdownCache) render(key, text string, width int) string {
	if c == nil {
		return renderMarkdown(text, width)
	}
	if entry, ok := c.entries[key]; ok && entry.text == text && entry.width == width {
		return entry.out
	}
	out := renderMarkdown(text, width)
	c.entries[key] = markdownEntry{text: text, width: width, out: out}
	return out
}

func (c *markdownCache) reset() {
	if c != nil {
		c.entries = map[string]markdownEntry{}
	}
}
