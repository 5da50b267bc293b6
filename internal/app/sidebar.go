package app

import (
	"strings"

	xansi "github.com/charmbracelet/x/ansi"

	"chatbi/internal/types"
)

const (
	appTitle        = "AI ChatBI"
	newSessionLabel = "+ New Analysis"
)

// renderSidebar lists sessions newest first. cursor is the highlighted row
// and is shown only while the sidebar has focus.
func renderSidebar(sessions []types.ChatSession, current string, cursor int, focused bool, width, height int) string {
	title := headerStyle.Render(appTitle)
	if focused {
		title = focusedHeaderStyle.Render(appTitle)
	}
	lines := []string{title, helpStyle.Render(newSessionLabel + " (ctrl+n)"), ""}
	for i, session := range sessions {
		label := session.Title
		if strings.TrimSpace(label) == "" {
			label = shortID(session.ID)
		}
		marker := "  "
		if session.ID == current {
			marker = "● "
		}
		line := xansi.Truncate(marker+label, max(1, width-1), "…")
		switch {
		case focused && i == cursor:
			line = selectedStyle.Render(padLines([]string{line}, width))
		case session.ID == current:
			line = activeSessionStyle.Render(line)
		default:
			line = sessionStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return fitBlock(strings.Join(lines, "\n"), width, height)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
