package approval

import (
	"context"
	"sync"

	"chatbi/internal/toolcall"
)

const ToolName = "approve_query_parameters"

// Handler opens one Gate per approve_query_parameters call. The call stays
// running until its gate is confirmed.
type Handler struct {
	state    StateWriter
	resolver Resolver
	opts     []GateOption

	mu    sync.Mutex
	gates map[string]*Gate
	order []string
}

func NewHandler(state StateWriter, resolver Resolver, opts ...GateOption) *Handler {
	return &Handler{
		state:    state,
		resolver: resolver,
		opts:     opts,
		gates:    map[string]*Gate{},
	}
}

func (h *Handler) Definition() toolcall.Definition {
	return toolcall.Definition{
		Name:        ToolName,
		Description: "Ask the user to review and approve the query parameters (indicators, time range, row privilege) before the query runs.",
		Parameters: []toolcall.Parameter{
			{Name: "indicators", Type: toolcall.TypeStringArray, Description: "Indicators selected for the query."},
			{Name: "candidate_indicators", Type: toolcall.TypeStringArray, Description: "Other indicators the user may add."},
			{Name: "start_time", Type: toolcall.TypeString, Description: "Start of the time range."},
			{Name: "end_time", Type: toolcall.TypeString, Description: "End of the time range."},
			{Name: "time_list", Type: toolcall.TypeStringArray, Description: "Time range as [start, end]."},
			{Name: "row_privilege", Type: toolcall.TypeString, Description: "Row level privilege filter."},
		},
		Frontend:       true,
		HumanInTheLoop: true,
	}
}

func (h *Handler) Execute(_ context.Context, call toolcall.Call) (toolcall.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.gates[call.ID]; !ok {
		h.gates[call.ID] = NewGate(call.ID, Normalize(call.Args()), h.state, h.resolver, h.opts...)
		h.order = append(h.order, call.ID)
	}
	return nil, nil
}

func (h *Handler) Gate(callID string) (*Gate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gate, ok := h.gates[callID]
	return gate, ok
}

// Gates lists gates in the order their calls arrived.
func (h *Handler) Gates() []*Gate {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Gate, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.gates[id])
	}
	return out
}

// LatestConfirmed returns the newest gate whose parameters were delivered.
func (h *Handler) LatestConfirmed() *Gate {
	gates := h.Gates()
	for i := len(gates) - 1; i >= 0; i-- {
		if gates[i].Status() == StatusComplete {
			return gates[i]
		}
	}
	return nil
}

// Active returns the newest gate that is still waiting on the user, or whose
// delivery failed.
func (h *Handler) Active() *Gate {
	gates := h.Gates()
	for i := len(gates) - 1; i >= 0; i-- {
		if gates[i].Status() != StatusComplete {
			return gates[i]
		}
	}
	return nil
}
