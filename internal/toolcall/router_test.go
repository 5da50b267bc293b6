package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chatbi/internal/types"
)

type recordingResponder struct {
	mu      sync.Mutex
	calls   []Call
	results []Result
	err     error
}

func (r *recordingResponder) Respond(_ context.Context, call Call, result Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.results = append(r.results, result)
	return r.err
}

type stubHandler struct {
	def    Definition
	result Result
	err    error
	seen   []Call
}

func (h *stubHandler) Definition() Definition { return h.def }

func (h *stubHandler) Execute(_ context.Context, call Call) (Result, error) {
	h.seen = append(h.seen, call)
	return h.result, h.err
}

func newTestRouter(t *testing.T, responder Responder, handlers ...Handler) *Router {
	t.Helper()
	seq := 0
	router := NewRouter(
		WithResponder(responder),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("minted-%d", seq)
		}),
	)
	for _, h := range handlers {
		if err := router.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return router
}

func argsEvent(id, delta string) types.Event {
	raw, _ := json.Marshal(delta)
	return types.Event{Type: types.EventToolCallArgs, ToolCallID: id, Delta: raw}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	router := newTestRouter(t, nil)
	h := &stubHandler{def: Definition{Name: "show_sql", Frontend: true}}
	if err := router.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.Register(h); !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestToolsAdvertisesFrontendDefinitionsOnly(t *testing.T) {
	router := newTestRouter(t, nil,
		&stubHandler{def: Definition{
			Name:     "show_sql",
			Frontend: true,
			Parameters: []Parameter{
				{Name: "sql", Type: TypeString, Required: true},
				{Name: "tags", Type: TypeStringArray},
			},
		}},
		&stubHandler{def: Definition{Name: "kb_chat"}},
	)
	tools := router.Tools()
	if len(tools) != 1 || tools[0].Name != "show_sql" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(tools[0].Parameters, &schema); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if schema.Type != "object" || len(schema.Required) != 1 || schema.Required[0] != "sql" {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if schema.Properties["tags"]["type"] != "array" {
		t.Fatalf("expected array type for tags, got %+v", schema.Properties["tags"])
	}
}

func TestFrontendToolCompletesAndRespondsOnce(t *testing.T) {
	responder := &recordingResponder{}
	handler := &stubHandler{def: Definition{Name: "show_sql", Frontend: true}, result: TextResult{Text: "ok"}}
	router := newTestRouter(t, responder, handler)
	ctx := context.Background()

	events := []types.Event{
		{Type: types.EventToolCallStart, ToolCallID: "c1", ToolCallName: "show_sql"},
		argsEvent("c1", `{"sql":"SEL`),
		argsEvent("c1", `ECT 1"}`),
		{Type: types.EventToolCallEnd, ToolCallID: "c1"},
	}
	for _, ev := range events {
		if err := router.Dispatch(ctx, ev); err != nil {
			t.Fatalf("dispatch %s: %v", ev.Type, err)
		}
	}

	if len(handler.seen) != 1 || handler.seen[0].Args().String("sql") != "SELECT 1" {
		t.Fatalf("unexpected handler calls: %+v", handler.seen)
	}
	call, ok := router.Call("c1")
	if !ok || call.Status != StatusComplete {
		t.Fatalf("expected complete call, got %+v", call)
	}
	if len(responder.results) != 1 || responder.results[0].Content() != "ok" {
		t.Fatalf("unexpected responses: %+v", responder.results)
	}
	if err := router.Resolve(ctx, "c1", TextResult{Text: "again"}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if err := router.Dispatch(ctx, types.Event{Type: types.EventToolCallEnd, ToolCallID: "c1"}); err != nil {
		t.Fatalf("repeated end: %v", err)
	}
	if len(handler.seen) != 1 {
		t.Fatalf("handler executed twice")
	}
}

func TestHandlerErrorMarksCallAndReportsBack(t *testing.T) {
	responder := &recordingResponder{}
	handler := &stubHandler{def: Definition{Name: "show_sql", Frontend: true}, err: errors.New("sql is required")}
	router := newTestRouter(t, responder, handler)
	ctx := context.Background()

	router.Start("c1", "show_sql")
	if err := router.End(ctx, "c1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	call, _ := router.Call("c1")
	if call.Status != StatusError || call.Err != "sql is required" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if len(responder.results) != 1 || responder.results[0].Content() != "error: sql is required" {
		t.Fatalf("unexpected responses: %+v", responder.results)
	}
}

func TestHumanInTheLoopWaitsForResolve(t *testing.T) {
	responder := &recordingResponder{}
	handler := &stubHandler{def: Definition{Name: "approve", Frontend: true, HumanInTheLoop: true}}
	router := newTestRouter(t, responder, handler)
	ctx := context.Background()

	router.Start("c1", "approve")
	if err := router.End(ctx, "c1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if call, _ := router.Call("c1"); call.Status != StatusRunning {
		t.Fatalf("expected running, got %s", call.Status)
	}
	if len(responder.results) != 0 {
		t.Fatalf("responded before resolve")
	}
	if err := router.Resolve(ctx, "c1", TextResult{Text: "{}"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if call, _ := router.Call("c1"); call.Status != StatusComplete {
		t.Fatalf("expected complete, got %s", call.Status)
	}
	if err := router.Resolve(ctx, "missing", TextResult{}); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}

func TestFailedDeliveryCanBeRedelivered(t *testing.T) {
	responder := &recordingResponder{err: errors.New("connection refused")}
	handler := &stubHandler{def: Definition{Name: "approve", Frontend: true, HumanInTheLoop: true}}
	router := newTestRouter(t, responder, handler)
	ctx := context.Background()

	router.Start("c1", "approve")
	_ = router.End(ctx, "c1")
	if err := router.Redeliver(ctx, "c1"); !errors.Is(err, ErrNotDeliverable) {
		t.Fatalf("expected ErrNotDeliverable before any delivery, got %v", err)
	}
	if err := router.Resolve(ctx, "c1", TextResult{Text: "payload"}); err == nil {
		t.Fatalf("expected delivery error")
	}

	responder.err = nil
	if err := router.Redeliver(ctx, "c1"); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if len(responder.results) != 2 || responder.results[1].Content() != "payload" {
		t.Fatalf("unexpected deliveries: %+v", responder.results)
	}
	if err := router.Redeliver(ctx, "c1"); !errors.Is(err, ErrNotDeliverable) {
		t.Fatalf("expected ErrNotDeliverable after success, got %v", err)
	}
}

func TestInterleavedBackendCallsKeepDistinctEntries(t *testing.T) {
	router := newTestRouter(t, nil, &stubHandler{def: Definition{Name: "kb_chat"}})
	ctx := context.Background()

	events := []types.Event{
		{Type: types.EventToolCallStart, ToolCallID: "q1", ToolCallName: "kb_chat"},
		argsEvent("q1", `{"question":"Q1"}`),
		{Type: types.EventToolCallEnd, ToolCallID: "q1"},
		{Type: types.EventToolCallStart, ToolCallID: "q2", ToolCallName: "kb_chat"},
		argsEvent("q2", `{"question":"Q2"}`),
		{Type: types.EventToolCallEnd, ToolCallID: "q2"},
		{Type: types.EventToolCallResult, ToolCallID: "q1", Content: `{"answer":"A1","sources":["doc1.pdf"]}`},
		{Type: types.EventToolCallResult, ToolCallID: "q2", Content: "plain A2"},
	}
	for _, ev := range events {
		if err := router.Dispatch(ctx, ev); err != nil {
			t.Fatalf("dispatch %s: %v", ev.Type, err)
		}
	}

	entries := router.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %+v", entries)
	}
	first, second := entries[0], entries[1]
	if first.ID != "q1" || first.Args().String("question") != "Q1" || first.Status != StatusComplete {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	answer, ok := first.Result.(AnswerResult)
	if !ok || answer.Answer != "A1" || len(answer.Sources) != 1 || answer.Sources[0] != "doc1.pdf" {
		t.Fatalf("unexpected first result: %#v", first.Result)
	}
	if second.ID != "q2" || second.Args().String("question") != "Q2" {
		t.Fatalf("unexpected second entry: %+v", second)
	}
	if text, ok := second.Result.(TextResult); !ok || text.Text != "plain A2" {
		t.Fatalf("unexpected second result: %#v", second.Result)
	}
}

func TestActiveToolReportsKeepStableIdentity(t *testing.T) {
	router := newTestRouter(t, nil)

	router.ObserveActiveTool(types.ActiveTool{ID: "q1", Name: "kb_chat", Args: json.RawMessage(`{"question":"Q1"}`), Status: types.ActiveToolRunning})
	router.ObserveActiveTool(types.ActiveTool{ID: "q2", Name: "kb_chat", Args: json.RawMessage(`{"question":"Q2"}`), Status: types.ActiveToolRunning})
	router.ObserveActiveTool(types.ActiveTool{ID: "q1", Name: "kb_chat", Status: types.ActiveToolDone, Result: json.RawMessage(`"A1"`)})
	router.ObserveActiveTool(types.ActiveTool{ID: "q2", Name: "kb_chat", Status: types.ActiveToolDone, Result: json.RawMessage(`{"answer":"A2"}`)})
	router.ObserveActiveTool(types.ActiveTool{ID: "q1", Name: "kb_chat", Status: types.ActiveToolRunning})

	entries := router.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %+v", entries)
	}
	if entries[0].Status != StatusComplete || entries[0].Result.Content() != "A1" || entries[0].Origin != OriginState {
		t.Fatalf("unexpected q1: %+v", entries[0])
	}
	if entries[0].Args().String("question") != "Q1" {
		t.Fatalf("q1 args lost: %q", entries[0].ArgsText)
	}
	if answer, ok := entries[1].Result.(AnswerResult); !ok || answer.Answer != "A2" {
		t.Fatalf("unexpected q2 result: %#v", entries[1].Result)
	}
}

func TestActiveToolWithoutIDMatchesByName(t *testing.T) {
	router := newTestRouter(t, nil)
	args := json.RawMessage(`{"question":"Q1"}`)

	router.ObserveActiveTool(types.ActiveTool{Name: "kb_chat", Args: args, Status: types.ActiveToolRunning})
	router.ObserveActiveTool(types.ActiveTool{Name: "kb_chat", Args: args, Status: types.ActiveToolDone, Result: json.RawMessage(`"A1"`)})
	router.ObserveActiveTool(types.ActiveTool{Name: "kb_chat", Args: args, Status: types.ActiveToolDone, Result: json.RawMessage(`"A1"`)})

	entries := router.Entries()
	if len(entries) != 1 || entries[0].ID != "minted-1" || entries[0].Status != StatusComplete {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	router.ObserveActiveTool(types.ActiveTool{Name: "kb_chat", Args: json.RawMessage(`{"question":"Q2"}`), Status: types.ActiveToolRunning})
	if got := len(router.Entries()); got != 2 {
		t.Fatalf("expected a second entry for a new question, got %d", got)
	}
}

func TestStreamedArgsReplaceStateArgs(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()
	router.ObserveActiveTool(types.ActiveTool{ID: "k1", Name: "kb_chat", Args: json.RawMessage(`{"question":"Q"}`), Status: types.ActiveToolRunning})
	_ = router.Dispatch(ctx, types.Event{Type: types.EventToolCallStart, ToolCallID: "k1", ToolCallName: "kb_chat"})
	_ = router.Dispatch(ctx, argsEvent("k1", `{"question":`))
	_ = router.Dispatch(ctx, argsEvent("k1", `"Q"}`))

	call, ok := router.Call("k1")
	if !ok || call.ArgsText != `{"question":"Q"}` {
		t.Fatalf("unexpected args: %+v", call)
	}
	router.ObserveActiveTool(types.ActiveTool{ID: "k1", Name: "kb_chat", Args: json.RawMessage(`{"question":"other"}`), Status: types.ActiveToolRunning})
	if call, _ := router.Call("k1"); call.Args().String("question") != "Q" {
		t.Fatalf("state report overwrote streamed args: %q", call.ArgsText)
	}
}

func TestEventsWithoutIDAttachToLatestOpenCall(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()
	id := router.Start("", "kb_chat")
	_ = router.Dispatch(ctx, argsEvent("", `{"question":"Q"}`))
	_ = router.Dispatch(ctx, types.Event{Type: types.EventToolCallEnd})

	entries := router.Entries()
	if len(entries) != 1 || entries[0].ID != id || entries[0].Status != StatusRunning {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Known {
		t.Fatalf("unregistered tool should not be known")
	}
}

func TestThinkingPolicy(t *testing.T) {
	router := newTestRouter(t, nil)
	if generic, trailing := router.Thinking(true); !generic || trailing {
		t.Fatalf("expected generic indicator before any tool")
	}
	router.ObserveActiveTool(types.ActiveTool{ID: "a", Name: "kb_chat", Status: types.ActiveToolRunning})
	if generic, trailing := router.Thinking(true); generic || trailing {
		t.Fatalf("expected per-tool status only while a tool runs")
	}
	router.ObserveActiveTool(types.ActiveTool{ID: "a", Name: "kb_chat", Status: types.ActiveToolDone})
	if generic, trailing := router.Thinking(true); generic || !trailing {
		t.Fatalf("expected trailing indicator after tools finished")
	}
	if generic, trailing := router.Thinking(false); generic || trailing {
		t.Fatalf("expected no indicator when the run is idle")
	}

	router.BeginTurn()
	if len(router.Entries()) != 0 {
		t.Fatalf("expected new turn to start empty")
	}
}
