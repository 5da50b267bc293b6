package app

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"chatbi/internal/approval"
)

const approvalTitle = "Confirm query parameters"

type approvalField int

const (
	fieldIndicator approvalField = iota
	fieldAdd
	fieldStart
	fieldEnd
	fieldPrivilege
	fieldConfirm
)

type formRow struct {
	field approvalField
	index int
}

// approvalForm edits the parameters of one pending gate. Edits go straight
// to the gate; the gate rejects them once confirmed.
type approvalForm struct {
	gate    *approval.Gate
	cursor  int
	pick    int
	editing bool
	input   *ChatInput
}

func newApprovalForm(gate *approval.Gate, width int) *approvalForm {
	return &approvalForm{gate: gate, input: NewChatInput(width)}
}

func (f *approvalForm) rows() []formRow {
	if f.gate.Status() != approval.StatusPending {
		return nil
	}
	params := f.gate.Params()
	rows := make([]formRow, 0, len(params.Indicators)+5)
	for i := range params.Indicators {
		rows = append(rows, formRow{field: fieldIndicator, index: i})
	}
	if len(f.gate.Available()) > 0 {
		rows = append(rows, formRow{field: fieldAdd})
	}
	return append(rows,
		formRow{field: fieldStart},
		formRow{field: fieldEnd},
		formRow{field: fieldPrivilege},
		formRow{field: fieldConfirm},
	)
}

func (f *approvalForm) current() (formRow, bool) {
	rows := f.rows()
	if len(rows) == 0 {
		return formRow{}, false
	}
	f.cursor = clamp(f.cursor, 0, len(rows)-1)
	return rows[f.cursor], true
}

func (f *approvalForm) move(delta int) {
	rows := f.rows()
	if len(rows) == 0 {
		f.cursor = 0
		return
	}
	f.cursor = clamp(f.cursor+delta, 0, len(rows)-1)
}

func (f *approvalForm) cyclePick(delta int) {
	available := f.gate.Available()
	if len(available) == 0 {
		f.pick = 0
		return
	}
	f.pick = (f.pick + delta + len(available)) % len(available)
}

// handleKey applies one key to the form. The returned command is non-nil
// when the key confirms or retries the gate.
func (f *approvalForm) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if f.editing {
		return f.handleEditKey(msg), true
	}
	switch f.gate.Status() {
	case approval.StatusFailed:
		if msg.String() == "r" || msg.String() == "enter" {
			return retryCmd(f.gate), true
		}
		return nil, false
	case approval.StatusComplete:
		if msg.String() == "enter" || msg.String() == "e" {
			f.gate.ToggleExpanded()
			return nil, true
		}
		return nil, false
	}

	row, ok := f.current()
	if !ok {
		return nil, false
	}
	switch msg.String() {
	case "up", "k":
		f.move(-1)
	case "down", "j":
		f.move(1)
	case "left", "h":
		if row.field == fieldAdd {
			f.cyclePick(-1)
		}
	case "right", "l":
		if row.field == fieldAdd {
			f.cyclePick(1)
		}
	case "x", "delete", "backspace":
		if row.field == fieldIndicator {
			_ = f.gate.RemoveIndicator(row.index)
			f.move(0)
		}
	case "ctrl+s":
		return confirmCmd(f.gate), true
	case "enter":
		switch row.field {
		case fieldAdd:
			available := f.gate.Available()
			if len(available) > 0 {
				_ = f.gate.AddIndicator(available[clamp(f.pick, 0, len(available)-1)])
				f.pick = 0
			}
		case fieldStart, fieldEnd, fieldPrivilege:
			f.beginEdit(row.field)
		case fieldConfirm:
			return confirmCmd(f.gate), true
		}
	default:
		return nil, false
	}
	return nil, true
}

func (f *approvalForm) beginEdit(field approvalField) {
	params := f.gate.Params()
	value := params.RowPrivilege
	switch field {
	case fieldStart:
		value = params.StartTime
	case fieldEnd:
		value = params.EndTime
	}
	f.editing = true
	f.input.SetValue(value)
	f.input.Focus()
}

func (f *approvalForm) handleEditKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		f.stopEdit()
		return nil
	case "enter":
		value := f.input.Value()
		if row, ok := f.current(); ok {
			switch row.field {
			case fieldStart:
				_ = f.gate.SetStartTime(value)
			case fieldEnd:
				_ = f.gate.SetEndTime(value)
			case fieldPrivilege:
				_ = f.gate.SetPrivilege(value)
			}
		}
		f.stopEdit()
		return nil
	}
	return f.input.Update(msg)
}

func (f *approvalForm) stopEdit() {
	f.editing = false
	f.input.Blur()
	f.input.Clear()
}

// renderApproval draws a gate card. form is nil for gates that are not the
// active one; focused marks the form as receiving keys.
func renderApproval(gate *approval.Gate, form *approvalForm, focused bool, width int) string {
	inner := max(10, width-4)
	lines := []string{activityStyle.Render(approvalTitle)}
	style := approvalBubbleStyle
	switch gate.Status() {
	case approval.StatusComplete:
		style = approvalResolvedBubbleStyle
		lines = append(lines, toolDoneStyle.Render("✓ Parameters confirmed"))
		if gate.Expanded() {
			lines = append(lines, gate.Summary()...)
		} else {
			lines = append(lines, helpStyle.Render("ctrl+e shows the parameters"))
		}
	case approval.StatusFailed:
		style = approvalFailedBubbleStyle
		lines = append(lines, gate.Summary()...)
		if err := gate.Err(); err != nil {
			lines = append(lines, toolErrorStyle.Render("Delivery failed: "+err.Error()))
		}
		lines = append(lines, retryButtonStyle.Render("[Retry r]"))
	default:
		lines = append(lines, pendingApprovalLines(gate, form, focused)...)
	}
	for i, line := range lines {
		lines[i] = truncateLine(line, inner)
	}
	return style.Width(max(1, width-2)).Render(strings.Join(lines, "\n"))
}

func pendingApprovalLines(gate *approval.Gate, form *approvalForm, focused bool) []string {
	params := gate.Params()
	var row formRow
	hasCursor := false
	if form != nil && focused {
		row, hasCursor = form.current()
	}
	selected := func(field approvalField, index int) bool {
		return hasCursor && row.field == field && row.index == index
	}
	mark := func(field approvalField, index int, text string) string {
		if selected(field, index) {
			return selectedStyle.Render("▸ " + text)
		}
		return "  " + text
	}

	lines := []string{"Indicators:"}
	if len(params.Indicators) == 0 {
		lines = append(lines, chatMetaStyle.Render("  (none selected)"))
	}
	for i, name := range params.Indicators {
		lines = append(lines, mark(fieldIndicator, i, name+" [x]"))
	}
	if available := gate.Available(); len(available) > 0 {
		pick := 0
		if form != nil {
			pick = clamp(form.pick, 0, len(available)-1)
		}
		lines = append(lines, mark(fieldAdd, 0, "+ add: ‹ "+available[pick]+" ›"))
	}
	value := func(field approvalField, label, current string) string {
		if selected(field, 0) && form.editing {
			return "  " + label + form.input.View()
		}
		return mark(field, 0, label+current)
	}
	lines = append(lines,
		value(fieldStart, "Start: ", params.StartTime),
		value(fieldEnd, "End: ", params.EndTime),
		value(fieldPrivilege, "Privilege: ", params.RowPrivilege),
	)
	confirm := approveButtonStyle.Render("[Confirm]")
	if selected(fieldConfirm, 0) {
		confirm = selectedStyle.Render("▸ [Confirm]")
	} else {
		confirm = "  " + confirm
	}
	lines = append(lines, confirm)
	if !focused {
		lines = append(lines, helpStyle.Render("tab to edit the parameters"))
	}
	return lines
}
