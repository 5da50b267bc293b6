package app

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestFitBlockPadsAndCuts(t *testing.T) {
	out := fitBlock("ab\nlonger line", 5, 3)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if lipgloss.Width(line) != 5 {
			t.Fatalf("line %d has width %d: %q", i, lipgloss.Width(line), line)
		}
	}
	if lines[0] != "ab   " || lines[1] != "longe" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestRenderStatusLineKeepsWidth(t *testing.T) {
	line := renderStatusLine(30, "help", "ready")
	if lipgloss.Width(line) != 30 || !strings.HasPrefix(line, "help") || !strings.HasSuffix(line, "ready") {
		t.Fatalf("unexpected status line %q", line)
	}
	if got := renderStatusLine(0, "help", "ready"); got != "help ready" {
		t.Fatalf("unexpected unbounded status line %q", got)
	}
}

func TestClamp(t *testing.T) {
	if clamp(5, 10, 20) != 10 || clamp(25, 10, 20) != 20 || clamp(15, 10, 20) != 15 {
		t.Fatalf("clamp returned an out-of-range value")
	}
}
