// Package approval holds query-parameter approvals that pause an agent run
// until the user confirms them.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"chatbi/internal/agentstate"
	"chatbi/internal/logging"
	"chatbi/internal/toolcall"
)

var (
	ErrAlreadyConfirmed = errors.New("approval already confirmed")
	ErrReadOnly         = errors.New("approval is read-only")
	ErrNotFailed        = errors.New("approval has no failed delivery")
)

const DefaultResponseTimeout = 30 * time.Second

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// StateWriter is the slice of the state channel a gate writes to.
type StateWriter interface {
	Update(fn func(prev agentstate.State) agentstate.State) error
}

// Resolver delivers the confirmed response for a tool call.
type Resolver interface {
	Resolve(ctx context.Context, id string, result toolcall.Result) error
	Redeliver(ctx context.Context, id string) error
}

type GateOption func(*Gate)

func WithResponseTimeout(timeout time.Duration) GateOption {
	return func(g *Gate) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

func WithGateLogger(logger logging.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

type Gate struct {
	callID   string
	state    StateWriter
	resolver Resolver
	timeout  time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	params   Params
	status   Status
	err      error
	response *Response
	expanded bool
}

func NewGate(callID string, params Params, state StateWriter, resolver Resolver, opts ...GateOption) *Gate {
	g := &Gate{
		callID:   callID,
		state:    state,
		resolver: resolver,
		timeout:  DefaultResponseTimeout,
		logger:   logging.Nop(),
		params:   params.clone(),
		status:   StatusPending,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) CallID() string {
	return g.callID
}

func (g *Gate) Params() Params {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params.clone()
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Err is the last delivery error while the gate is failed.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Available lists candidates that are not selected yet.
func (g *Gate) Available() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []string{}
	for _, candidate := range g.params.Candidates {
		if !slices.Contains(g.params.Indicators, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

func (g *Gate) AddIndicator(name string) error {
	name = strings.TrimSpace(name)
	return g.edit(func(p *Params) {
		if name != "" && !slices.Contains(p.Indicators, name) {
			p.Indicators = append(p.Indicators, name)
		}
	})
}

func (g *Gate) RemoveIndicator(index int) error {
	return g.edit(func(p *Params) {
		if index < 0 || index >= len(p.Indicators) {
			return
		}
		p.Indicators = append(p.Indicators[:index:index], p.Indicators[index+1:]...)
	})
}

func (g *Gate) SetStartTime(value string) error {
	return g.edit(func(p *Params) { p.StartTime = strings.TrimSpace(value) })
}

func (g *Gate) SetEndTime(value string) error {
	return g.edit(func(p *Params) { p.EndTime = strings.TrimSpace(value) })
}

func (g *Gate) SetPrivilege(value string) error {
	return g.edit(func(p *Params) { p.RowPrivilege = strings.TrimSpace(value) })
}

func (g *Gate) edit(fn func(*Params)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusPending {
		return ErrReadOnly
	}
	fn(&g.params)
	return nil
}

// Confirm freezes the parameters, mirrors them into agent state and sends
// the response. Only the first call does anything; later calls return
// ErrAlreadyConfirmed.
func (g *Gate) Confirm(ctx context.Context) error {
	g.mu.Lock()
	if g.status != StatusPending {
		g.mu.Unlock()
		return ErrAlreadyConfirmed
	}
	response := g.params.response()
	g.response = &response
	g.status = StatusComplete
	g.mu.Unlock()

	if g.state != nil {
		err := g.state.Update(func(prev agentstate.State) agentstate.State {
			prev.IndicatorList = append([]string{}, response.Indicators...)
			prev.TimeList = append([]string{}, response.TimeList...)
			prev.Priviledge = response.RowPrivilege
			return prev
		})
		if err != nil {
			g.logger.Warn("approval state write dropped", logging.F("tool_call_id", g.callID), logging.Err(err))
		}
	}

	body, err := json.Marshal(response)
	if err != nil {
		return g.markFailed(fmt.Errorf("encode approval response: %w", err))
	}
	if g.resolver == nil {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.resolver.Resolve(sendCtx, g.callID, toolcall.TextResult{Text: string(body)}); err != nil {
		return g.markFailed(err)
	}
	g.logger.Info("approval confirmed", logging.F("tool_call_id", g.callID))
	return nil
}

// Retry resends the frozen response after a failed delivery.
func (g *Gate) Retry(ctx context.Context) error {
	g.mu.Lock()
	if g.status != StatusFailed {
		g.mu.Unlock()
		return ErrNotFailed
	}
	g.status = StatusComplete
	g.err = nil
	g.mu.Unlock()

	if g.resolver == nil {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.resolver.Redeliver(sendCtx, g.callID); err != nil {
		return g.markFailed(err)
	}
	return nil
}

func (g *Gate) markFailed(err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = StatusFailed
	g.err = err
	g.logger.Warn("approval delivery failed", logging.F("tool_call_id", g.callID), logging.Err(err))
	return err
}

// Response returns the frozen response once confirmed.
func (g *Gate) Response() (Response, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.response == nil {
		return Response{}, false
	}
	return *g.response, true
}

func (g *Gate) ToggleExpanded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expanded = !g.expanded
	return g.expanded
}

func (g *Gate) Expanded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expanded
}

// Summary renders the approved values, one per line.
func (g *Gate) Summary() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.params
	return []string{
		"Indicators: " + strings.Join(p.Indicators, ", "),
		"Time: " + p.StartTime + " - " + p.EndTime,
		"Privilege: " + p.RowPrivilege,
	}
}
