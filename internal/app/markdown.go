package app

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	glamouransi "github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	xansi "github.com/charmbracelet/x/ansi"
)

const defaultMarkdownWidth = 80

// markdownRenderers caches one glamour renderer per width and palette.
// Agent answers re-render on every resize, so building a renderer per call
// is too slow.
type markdownRenderers struct {
	mu      sync.Mutex
	dark    bool
	byStyle map[markdownStyleKey]*glamour.TermRenderer
}

type markdownStyleKey struct {
	width int
	dark  bool
}

var markdown = &markdownRenderers{dark: true, byStyle: map[markdownStyleKey]*glamour.TermRenderer{}}

// setMarkdownBackgroundDark picks the palette for later renders and reports
// whether it changed.
func setMarkdownBackgroundDark(dark bool) bool {
	markdown.mu.Lock()
	defer markdown.mu.Unlock()
	changed := markdown.dark != dark
	markdown.dark = dark
	return changed
}

func (m *markdownRenderers) renderer(width int) *glamour.TermRenderer {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := markdownStyleKey{width: width, dark: m.dark}
	if r, ok := m.byStyle[key]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(buildStyleConfig(key.dark)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	m.byStyle[key] = r
	return r
}

// renderMarkdown falls back to the raw text when glamour cannot render it.
func renderMarkdown(input string, width int) string {
	input = strings.TrimRight(input, "\n")
	if input == "" {
		return ""
	}
	if width <= 0 {
		width = defaultMarkdownWidth
	}
	r := markdown.renderer(width)
	if r == nil {
		return input
	}
	out, err := r.Render(input)
	if err != nil {
		return input
	}
	// glamour leaves long table cells and urls past the wrap width.
	out = xansi.Hardwrap(strings.TrimRight(out, "\n"), width, true)
	return strings.TrimRight(out, "\n")
}

func buildStyleConfig(dark bool) glamouransi.StyleConfig {
	base := styles.LightStyleConfig
	codeTheme := "github"
	if dark {
		base = styles.DarkStyleConfig
		codeTheme = "monokai"
	}
	// Bubbles are padded by lipgloss.
	base.Document.StylePrimitive.BlockPrefix = ""
	base.Document.StylePrimitive.BlockSuffix = ""
	zero := uint(0)
	base.Document.Margin = &zero
	base.CodeBlock.Margin = &zero
	base.CodeBlock.Theme = codeTheme

	faint := true
	muted := "245"
	base.BlockQuote.StylePrimitive.Faint = &faint
	base.BlockQuote.StylePrimitive.Color = &muted

	// Agents answer metric questions with tables.
	bold := true
	base.Table.CenterSeparator = stringPtr("┼")
	base.Table.ColumnSeparator = stringPtr("│")
	base.Table.RowSeparator = stringPtr("─")
	base.Strong.Bold = &bold
	return base
}

func stringPtr(value string) *string { return &value }

// blockMarkers start a markdown block when they lead a line.
var blockMarkers = []string{"#", ">", "- ", "* ", "+ ", "|"}

// escapeMarkdown keeps a user's question literal when it is rendered through
// glamour, so "# of orders" or "- last week" stay as typed.
func escapeMarkdown(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(text, "`", "\\`"), "\n")
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(body)]
		if startsBlock(body) {
			lines[i] = indent + "\\" + body
		}
	}
	return strings.Join(lines, "\n")
}

func startsBlock(line string) bool {
	for _, marker := range blockMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return isNumberedList(line)
}

// isNumberedList matches "12. item".
func isNumberedList(line string) bool {
	digits := len(line) - len(strings.TrimLeft(line, "0123456789"))
	return digits > 0 && strings.HasPrefix(line[digits:], ". ")
}
