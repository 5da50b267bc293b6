package widgets

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"github.com/tidwall/gjson"

	"chatbi/internal/types"
)

const (
	maxTableRows = 20
	maxCellWidth = 24
)

// renderTable takes its columns from the first row in document order.
// Columns whose name mentions "status" render as badges.
func renderTable(widget types.DashboardWidget, width int) string {
	rows := gjson.ParseBytes(widget.Data).Array()
	if len(rows) == 0 || !rows[0].IsObject() {
		return ""
	}
	var columns []string
	rows[0].ForEach(func(key, _ gjson.Result) bool {
		columns = append(columns, key.String())
		return true
	})
	if len(columns) == 0 {
		return ""
	}

	shown := rows
	if len(shown) > maxTableRows {
		shown = shown[:maxTableRows]
	}
	cells := make([][]string, len(shown))
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = runewidth.StringWidth(col)
	}
	for r, row := range shown {
		cells[r] = make([]string, len(columns))
		for c, col := range columns {
			value := row.Get(gjson.Escape(col))
			text := value.String()
			if value.Type == gjson.Number {
				text = formatFloat(value.Float())
			}
			text = strings.ReplaceAll(text, "\n", " ")
			cells[r][c] = text
			widths[c] = max(widths[c], runewidth.StringWidth(text))
		}
	}
	fitColumns(widths, width)

	lines := header(widget, width)
	headerCells := make([]string, len(columns))
	for i, col := range columns {
		headerCells[i] = headerCellStyle.Render(cell(capitalize(col), widths[i]))
	}
	lines = append(lines, strings.Join(headerCells, " │ "))
	rule := make([]string, len(columns))
	for i := range columns {
		rule[i] = strings.Repeat("─", widths[i])
	}
	lines = append(lines, mutedStyle.Render(strings.Join(rule, "─┼─")))
	for _, row := range cells {
		out := make([]string, len(columns))
		for c, text := range row {
			padded := cell(text, widths[c])
			if strings.Contains(strings.ToLower(columns[c]), "status") && text != "" {
				padded = badgeStyle.Render(padded)
			}
			out[c] = padded
		}
		lines = append(lines, strings.Join(out, " │ "))
	}
	if hidden := len(rows) - len(shown); hidden > 0 {
		lines = append(lines, mutedStyle.Render(pluralRows(hidden)))
	}
	return strings.Join(lines, "\n")
}

// fitColumns shrinks the widest columns until the row fits width.
func fitColumns(widths []int, width int) {
	for i := range widths {
		widths[i] = min(widths[i], maxCellWidth)
	}
	sep := 3 * (len(widths) - 1)
	for {
		total := sep
		widest := 0
		for i, w := range widths {
			total += w
			if w > widths[widest] {
				widest = i
			}
		}
		if total <= width || widths[widest] <= 1 {
			return
		}
		widths[widest]--
	}
}

func cell(text string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(text, width, "…"), width)
}

func pluralRows(n int) string {
	if n == 1 {
		return "… 1 more row"
	}
	return "… " + strconv.Itoa(n) + " more rows"
}

func capitalize(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
