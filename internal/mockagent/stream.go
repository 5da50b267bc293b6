package mockagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatbi/internal/types"
)

const chunkRunes = 12

// stream writes AG-UI events as SSE data lines. The first write error stops
// all further output.
type stream struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	delay   time.Duration
	newID   func() string

	lastMessageID string
	err           error
}

func (s *stream) send(event types.Event) {
	if s.err != nil {
		return
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.err = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
	s.pause()
}

func (s *stream) pause() {
	if s.delay <= 0 {
		return
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
	case <-timer.C:
	}
}

// text streams one assistant message in small chunks.
func (s *stream) text(content string) {
	id := s.newID()
	s.lastMessageID = id
	s.send(types.Event{Type: types.EventTextMessageStart, MessageID: id, Role: string(types.RoleAssistant)})
	runes := []rune(content)
	for i := 0; i < len(runes); i += chunkRunes {
		end := min(i+chunkRunes, len(runes))
		s.send(types.Event{Type: types.EventTextMessageContent, MessageID: id, Delta: quote(string(runes[i:end]))})
	}
	s.send(types.Event{Type: types.EventTextMessageEnd, MessageID: id})
}

func (s *stream) toolCall(name, args string) string {
	id := s.newID()
	s.toolCallWithID(id, name, args)
	return id
}

// toolCallWithID streams a call whose arguments arrive in two halves, the
// way model output does.
func (s *stream) toolCallWithID(id, name, args string) {
	s.send(types.Event{Type: types.EventToolCallStart, ToolCallID: id, ToolCallName: name, ParentMessageID: s.lastMessageID})
	runes := []rune(args)
	half := len(runes) / 2
	s.send(types.Event{Type: types.EventToolCallArgs, ToolCallID: id, Delta: quote(string(runes[:half]))})
	s.send(types.Event{Type: types.EventToolCallArgs, ToolCallID: id, Delta: quote(string(runes[half:]))})
	s.send(types.Event{Type: types.EventToolCallEnd, ToolCallID: id})
}

func (s *stream) step(name string, fn func()) {
	s.send(types.Event{Type: types.EventStepStarted, StepName: name})
	fn()
	s.send(types.Event{Type: types.EventStepFinished, StepName: name})
}

func quote(text string) json.RawMessage {
	raw, _ := json.Marshal(text)
	return raw
}
