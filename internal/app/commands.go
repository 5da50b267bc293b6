package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"chatbi/internal/approval"
	"chatbi/internal/conversation"
)

const runHandshakeTimeout = 15 * time.Second

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func sendCmd(rt *conversation.Runtime, text string) tea.Cmd {
	threadID := rt.ThreadID()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), runHandshakeTimeout)
		defer cancel()
		return runStartedMsg{threadID: threadID, err: rt.Send(ctx, text)}
	}
}

func resumeCmd(rt *conversation.Runtime) tea.Cmd {
	threadID := rt.ThreadID()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), runHandshakeTimeout)
		defer cancel()
		return runStartedMsg{threadID: threadID, resume: true, err: rt.Resume(ctx)}
	}
}

// confirmCmd confirms the gate. The gate bounds delivery with its own
// response timeout.
func confirmCmd(gate *approval.Gate) tea.Cmd {
	return func() tea.Msg {
		return approvalSentMsg{callID: gate.CallID(), err: gate.Confirm(context.Background())}
	}
}

func retryCmd(gate *approval.Gate) tea.Cmd {
	return func() tea.Msg {
		return approvalSentMsg{callID: gate.CallID(), retry: true, err: gate.Retry(context.Background())}
	}
}

func copyCmd(text, success string) tea.Cmd {
	return func() tea.Msg {
		_, err := copyTextToClipboard(text)
		return clipboardResultMsg{success: success, err: err}
	}
}
