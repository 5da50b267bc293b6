package approval

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"chatbi/internal/agentstate"
	"chatbi/internal/toolcall"
)

type fakeResolver struct {
	mu          sync.Mutex
	resolved    []string
	redelivered int
	err         error
	deadline    bool
}

func (r *fakeResolver) Resolve(ctx context.Context, id string, result toolcall.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.deadline = ctx.Deadline()
	r.resolved = append(r.resolved, result.Content())
	return r.err
}

func (r *fakeResolver) Redeliver(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redelivered++
	return r.err
}

func TestNormalizeSplitsCommaSeparatedIndicators(t *testing.T) {
	params := Normalize(toolcall.ParseArgs(`{"indicators":"a, b","candidate_indicators":"c,,d"}`))
	if !reflect.DeepEqual(params.Indicators, []string{"a", "b"}) {
		t.Fatalf("unexpected indicators: %#v", params.Indicators)
	}
	if !reflect.DeepEqual(params.Candidates, []string{"c", "d"}) {
		t.Fatalf("unexpected candidates: %#v", params.Candidates)
	}
	if params.RowPrivilege != "" {
		t.Fatalf("expected empty privilege, got %q", params.RowPrivilege)
	}
}

func TestNormalizeTimeFallback(t *testing.T) {
	params := Normalize(toolcall.ParseArgs(`{"time_list":["2024-01","2024-06"],"end_time":"2024-12"}`))
	if params.StartTime != "2024-01" || params.EndTime != "2024-12" {
		t.Fatalf("unexpected times: %q - %q", params.StartTime, params.EndTime)
	}
	params = Normalize(toolcall.ParseArgs(`{"time_list":"oops","indicators":{"bad":true}}`))
	if params.StartTime != "oops" || params.EndTime != "" || len(params.Indicators) != 0 {
		t.Fatalf("unexpected malformed normalization: %+v", params)
	}
}

func TestConfirmWritesStateAndSendsResponse(t *testing.T) {
	channel := agentstate.NewChannel("t0")
	_ = channel.Replace(agentstate.State{ActiveDataset: "sales"})
	resolver := &fakeResolver{}
	gate := NewGate("call-1", Params{
		Indicators: []string{"revenue"},
		Candidates: []string{"revenue", "profit"},
		StartTime:  "2024-01",
	}, channel, resolver, WithResponseTimeout(time.Second))

	if got := gate.Available(); !reflect.DeepEqual(got, []string{"profit"}) {
		t.Fatalf("unexpected available candidates: %#v", got)
	}
	_ = gate.AddIndicator("profit")
	_ = gate.AddIndicator("profit")
	_ = gate.SetPrivilege("region = 'east'")

	if err := gate.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	state := channel.State()
	if !reflect.DeepEqual(state.IndicatorList, []string{"revenue", "profit"}) {
		t.Fatalf("unexpected indicator_list: %#v", state.IndicatorList)
	}
	if !reflect.DeepEqual(state.TimeList, []string{"2024-01"}) {
		t.Fatalf("unexpected time_list: %#v", state.TimeList)
	}
	if state.Priviledge != "region = 'east'" || state.ActiveDataset != "sales" {
		t.Fatalf("unexpected state: %+v", state)
	}

	if len(resolver.resolved) != 1 || !resolver.deadline {
		t.Fatalf("expected one bounded delivery, got %+v", resolver)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resolver.resolved[0]), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, key := range []string{"indicators", "time_list", "start_time", "end_time", "row_privilege"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("response missing %q: %v", key, body)
		}
	}
	if body["end_time"] != "" {
		t.Fatalf("expected empty end_time, got %v", body["end_time"])
	}
}

func TestConfirmIsSingleFire(t *testing.T) {
	resolver := &fakeResolver{}
	gate := NewGate("call-1", Params{Indicators: []string{"a"}}, nil, resolver)

	const confirms = 20
	errs := make(chan error, confirms)
	var wg sync.WaitGroup
	wg.Add(confirms)
	for i := 0; i < confirms; i++ {
		go func() {
			defer wg.Done()
			errs <- gate.Confirm(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, ErrAlreadyConfirmed):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || len(resolver.resolved) != 1 {
		t.Fatalf("expected exactly one response, got succeeded=%d resolved=%d", succeeded, len(resolver.resolved))
	}
	if gate.Status() != StatusComplete {
		t.Fatalf("unexpected status %s", gate.Status())
	}
}

func TestCompleteGateIsReadOnly(t *testing.T) {
	gate := NewGate("call-1", Params{Indicators: []string{"a"}}, nil, &fakeResolver{})
	if err := gate.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := gate.AddIndicator("b"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := gate.RemoveIndicator(0); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if !gate.ToggleExpanded() || !gate.Expanded() {
		t.Fatalf("expected summary to expand")
	}
	if got := gate.Summary(); got[0] != "Indicators: a" {
		t.Fatalf("unexpected summary: %#v", got)
	}
}

func TestFailedDeliveryRetriesFrozenPayload(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("agent unreachable")}
	gate := NewGate("call-1", Params{Indicators: []string{"a"}}, nil, resolver)

	if err := gate.Confirm(context.Background()); err == nil {
		t.Fatalf("expected delivery error")
	}
	if gate.Status() != StatusFailed || gate.Err() == nil {
		t.Fatalf("expected failed gate, got %s", gate.Status())
	}
	if err := gate.AddIndicator("b"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("failed gate must stay frozen, got %v", err)
	}

	resolver.err = nil
	if err := gate.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if gate.Status() != StatusComplete || resolver.redelivered != 1 {
		t.Fatalf("unexpected retry outcome: status=%s redelivered=%d", gate.Status(), resolver.redelivered)
	}
	if err := gate.Retry(context.Background()); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed, got %v", err)
	}
}

func TestHandlerOpensOneGatePerCall(t *testing.T) {
	handler := NewHandler(nil, &fakeResolver{})
	call := toolcall.Call{ID: "c1", Name: ToolName, ArgsText: `{"indicators":"x, y"}`}

	for i := 0; i < 2; i++ {
		result, err := handler.Execute(context.Background(), call)
		if err != nil || result != nil {
			t.Fatalf("expected pending gate, got %v %v", result, err)
		}
	}
	if len(handler.Gates()) != 1 {
		t.Fatalf("expected one gate, got %d", len(handler.Gates()))
	}
	gate, ok := handler.Gate("c1")
	if !ok || !reflect.DeepEqual(gate.Params().Indicators, []string{"x", "y"}) {
		t.Fatalf("unexpected gate params: %+v", gate.Params())
	}
	if handler.Active() != gate {
		t.Fatalf("expected the open gate to be active")
	}
}
