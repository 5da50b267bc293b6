package conversation

import (
	"chatbi/internal/logging"
	"chatbi/internal/types"
)

// apply folds one AG-UI event into the transcript, the state channel and the
// router. It runs on the UI goroutine without holding the runtime lock.
func (r *Runtime) apply(event types.Event, result *TickResult) {
	switch event.Type {
	case types.EventRunStarted:
		r.logger.Debug("run acknowledged", logging.F("run_id", event.RunID))
	case types.EventRunFinished:
		r.logger.Info("run finished", logging.F("run_id", event.RunID))
		r.finishRun("", result)
	case types.EventRunError:
		msg := event.Message
		if msg == "" {
			msg = "agent run failed"
		}
		r.logger.Warn("run error", logging.F("code", event.Code), logging.F("message", msg))
		r.finishRun(msg, result)
	case types.EventTextMessageStart:
		r.withMessage(event.MessageID, func(*types.Message) {})
	case types.EventTextMessageContent:
		delta := event.TextDelta()
		r.withMessage(event.MessageID, func(msg *types.Message) { msg.Content += delta })
	case types.EventTextMessageEnd:
	case types.EventToolCallStart:
		r.startToolCall(event)
		r.dispatch(event)
	case types.EventToolCallArgs:
		delta := event.TextDelta()
		r.withToolCall(event.ToolCallID, func(call *types.ToolCall) { call.Function.Arguments += delta })
		r.dispatch(event)
	case types.EventToolCallEnd:
		r.dispatch(event)
	case types.EventToolCallResult:
		r.appendToolResult(event)
		r.dispatch(event)
	case types.EventStateSnapshot:
		if err := r.channel.ApplySnapshot(event.Snapshot); err != nil {
			r.logger.Warn("state snapshot rejected", logging.Err(err))
		}
		r.observeActiveTool()
	case types.EventStateDelta:
		if err := r.channel.ApplyDelta(event.Delta); err != nil {
			r.logger.Warn("state delta rejected", logging.Err(err))
		}
		r.observeActiveTool()
	case types.EventMessagesSnapshot:
		r.mu.Lock()
		r.messages = append([]types.Message(nil), event.Messages...)
		r.mu.Unlock()
	default:
		r.logger.Debug("event ignored", logging.F("type", string(event.Type)))
	}
}

func (r *Runtime) dispatch(event types.Event) {
	if err := r.router.Dispatch(r.ctx, event); err != nil {
		r.logger.Warn("tool dispatch failed", logging.F("type", string(event.Type)), logging.F("tool_call_id", event.ToolCallID), logging.Err(err))
	}
}

func (r *Runtime) observeActiveTool() {
	state := r.channel.State()
	if state.ActiveTool != nil {
		r.router.ObserveActiveTool(*state.ActiveTool)
	}
}

// withMessage edits the assistant message with id, appending it when absent.
func (r *Runtime) withMessage(id string, fn func(*types.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = r.newID()
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].ID == id {
			fn(&r.messages[i])
			return
		}
	}
	msg := types.Message{ID: id, Role: types.RoleAssistant}
	fn(&msg)
	r.messages = append(r.messages, msg)
}

// startToolCall records the call on its parent assistant message so the next
// run can replay it.
func (r *Runtime) startToolCall(event types.Event) {
	call := types.ToolCall{
		ID:       event.ToolCallID,
		Type:     "function",
		Function: types.FunctionCall{Name: event.ToolCallName},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if call.ID == "" {
		call.ID = r.newID()
	}
	parent := event.ParentMessageID
	if parent == "" && len(r.messages) > 0 {
		last := r.messages[len(r.messages)-1]
		if last.Role == types.RoleAssistant {
			parent = last.ID
		}
	}
	if parent != "" {
		for i := len(r.messages) - 1; i >= 0; i-- {
			if r.messages[i].ID == parent {
				r.messages[i].ToolCalls = append(r.messages[i].ToolCalls, call)
				return
			}
		}
	} else {
		parent = r.newID()
	}
	r.messages = append(r.messages, types.Message{ID: parent, Role: types.RoleAssistant, ToolCalls: []types.ToolCall{call}})
}

func (r *Runtime) withToolCall(id string, fn func(*types.ToolCall)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		calls := r.messages[i].ToolCalls
		for j := len(calls) - 1; j >= 0; j-- {
			if id == "" || calls[j].ID == id {
				fn(&calls[j])
				return
			}
		}
	}
}

func (r *Runtime) appendToolResult(event types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ToolCallID != "" && r.hasToolMessageLocked(event.ToolCallID) {
		return
	}
	id := event.MessageID
	if id == "" {
		id = r.newID()
	}
	r.messages = append(r.messages, types.Message{
		ID:         id,
		Role:       types.RoleTool,
		Content:    event.Content,
		ToolCallID: event.ToolCallID,
	})
}
