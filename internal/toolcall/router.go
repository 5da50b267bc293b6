// Package toolcall tracks tool invocations streamed by the agent and
// dispatches them to registered handlers.
//
// Invocations are keyed by id so interleaved calls in one turn keep their own
// status and result. Each invocation responds to the agent at most once.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"chatbi/internal/logging"
	"chatbi/internal/types"
)

var (
	ErrAlreadyResolved = errors.New("tool call already resolved")
	ErrUnknownCall     = errors.New("unknown tool call")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrNotDeliverable  = errors.New("tool call has no failed delivery to retry")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Origin says how the router learned about a call.
type Origin string

const (
	OriginStream Origin = "stream"
	OriginState  Origin = "state"
)

type Call struct {
	ID       string
	Name     string
	Status   Status
	ArgsText string
	Result   Result
	Err      string
	Origin   Origin
	Known    bool
	Frontend bool

	responded bool
	failed    bool
	// stateArgs marks ArgsText as copied from agent state; streamed chunks
	// replace it.
	stateArgs bool
}

func (c Call) Args() Args {
	return ParseArgs(c.ArgsText)
}

func (c Call) Terminal() bool {
	return c.Status == StatusComplete || c.Status == StatusError
}

// Handler executes a frontend tool. Execute runs once the arguments are
// complete. A nil result with a nil error leaves the call running until
// Resolve is called.
type Handler interface {
	Definition() Definition
	Execute(ctx context.Context, call Call) (Result, error)
}

// Responder delivers a tool result back to the agent.
type Responder interface {
	Respond(ctx context.Context, call Call, result Result) error
}

type ResponderFunc func(ctx context.Context, call Call, result Result) error

func (f ResponderFunc) Respond(ctx context.Context, call Call, result Result) error {
	return f(ctx, call, result)
}

type Option func(*Router)

func WithIDGenerator(newID func() string) Option {
	return func(r *Router) {
		if newID != nil {
			r.newID = newID
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithResponder(responder Responder) Option {
	return func(r *Router) {
		r.responder = responder
	}
}

type Router struct {
	newID     func() string
	logger    logging.Logger
	responder Responder

	mu       sync.Mutex
	handlers map[string]Handler
	names    []string
	calls    map[string]*Call
	order    []string
}

func NewRouter(opts ...Option) *Router {
	r := &Router{
		newID:    uuid.NewString,
		logger:   logging.Nop(),
		handlers: map[string]Handler{},
		calls:    map[string]*Call{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) SetResponder(responder Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responder = responder
}

func (r *Router) Register(handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	def := handler.Definition()
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.handlers[def.Name] = handler
	r.names = append(r.names, def.Name)
	return nil
}

// Definitions lists registered definitions in registration order.
func (r *Router) Definitions() []Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.handlers[name].Definition())
	}
	return out
}

// Tools lists the frontend tools advertised to the agent on each run.
func (r *Router) Tools() []types.Tool {
	out := []types.Tool{}
	for _, def := range r.Definitions() {
		if def.Frontend {
			out = append(out, def.Tool())
		}
	}
	return out
}

// Dispatch feeds one AG-UI event into the router. Events other than tool
// call events are ignored.
func (r *Router) Dispatch(ctx context.Context, event types.Event) error {
	switch event.Type {
	case types.EventToolCallStart:
		r.Start(event.ToolCallID, event.ToolCallName)
	case types.EventToolCallArgs:
		r.AppendArgs(event.ToolCallID, event.TextDelta())
	case types.EventToolCallEnd:
		return r.End(ctx, event.ToolCallID)
	case types.EventToolCallResult:
		r.Complete(event.ToolCallID, ParseResult(event.Content))
	}
	return nil
}

// Start records a new pending invocation and returns its id.
func (r *Router) Start(id, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.resolveLocked(id, name, OriginStream)
	if call.Name == "" {
		call.Name = name
	}
	r.bindHandlerLocked(call)
	return call.ID
}

// AppendArgs accumulates a streamed argument chunk.
func (r *Router) AppendArgs(id, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.resolveLocked(id, "", OriginStream)
	if call.Terminal() {
		return
	}
	if call.stateArgs {
		call.ArgsText = ""
		call.stateArgs = false
	}
	call.ArgsText += delta
}

// End marks the arguments complete. Frontend handlers execute now; their
// result completes the call and is sent through the responder.
func (r *Router) End(ctx context.Context, id string) error {
	r.mu.Lock()
	call := r.resolveLocked(id, "", OriginStream)
	if call.Terminal() || call.Status == StatusRunning {
		r.mu.Unlock()
		return nil
	}
	call.Status = StatusRunning
	handler := r.handlers[call.Name]
	if handler == nil || !call.Frontend {
		r.mu.Unlock()
		return nil
	}
	snapshot := *call
	r.mu.Unlock()

	r.logger.Debug("tool executing", logging.F("tool", snapshot.Name), logging.F("tool_call_id", snapshot.ID))
	result, err := handler.Execute(ctx, snapshot)
	if err != nil {
		r.fail(snapshot.ID, err)
		return r.Resolve(ctx, snapshot.ID, TextResult{Text: "error: " + err.Error()})
	}
	if result == nil {
		return nil
	}
	return r.Resolve(ctx, snapshot.ID, result)
}

// Complete records a result produced by the agent itself. Nothing is sent
// back.
func (r *Router) Complete(id string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.resolveLocked(id, "", OriginStream)
	if call.Status == StatusError {
		return
	}
	call.Status = StatusComplete
	call.Result = result
	call.responded = true
}

// Resolve completes a running invocation with result and responds to the
// agent. It fails with ErrAlreadyResolved after the first response.
func (r *Router) Resolve(ctx context.Context, id string, result Result) error {
	r.mu.Lock()
	call, ok := r.calls[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if call.responded {
		r.mu.Unlock()
		return ErrAlreadyResolved
	}
	call.responded = true
	if call.Status != StatusError {
		call.Status = StatusComplete
	}
	call.Result = result
	snapshot := *call
	responder := r.responder
	r.mu.Unlock()

	return r.deliver(ctx, responder, snapshot, result)
}

// Redeliver resends the stored result of a call whose delivery failed.
func (r *Router) Redeliver(ctx context.Context, id string) error {
	r.mu.Lock()
	call, ok := r.calls[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if !call.failed || call.Result == nil {
		r.mu.Unlock()
		return ErrNotDeliverable
	}
	call.failed = false
	snapshot := *call
	responder := r.responder
	r.mu.Unlock()

	return r.deliver(ctx, responder, snapshot, snapshot.Result)
}

func (r *Router) deliver(ctx context.Context, responder Responder, call Call, result Result) error {
	if responder == nil {
		return nil
	}
	if err := responder.Respond(ctx, call, result); err != nil {
		r.mu.Lock()
		if stored, ok := r.calls[call.ID]; ok {
			stored.failed = true
		}
		r.mu.Unlock()
		r.logger.Warn("tool result delivery failed", logging.F("tool", call.Name), logging.F("tool_call_id", call.ID), logging.Err(err))
		return err
	}
	return nil
}

func (r *Router) fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call, ok := r.calls[id]; ok {
		call.Status = StatusError
		call.Err = err.Error()
	}
}

// ObserveActiveTool folds an active_tool report from agent state into the
// call map. The entry is keyed by the reported id, or by the latest
// unfinished call of the same name. Reports never downgrade a finished call,
// and a repeated report of an already finished id-less call is ignored.
func (r *Router) ObserveActiveTool(tool types.ActiveTool) {
	if tool.Name == "" && tool.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tool.ID == "" && r.finishedDuplicateLocked(tool) {
		return
	}
	call := r.resolveLocked(tool.ID, tool.Name, OriginState)
	if call.Terminal() {
		return
	}
	if call.Name == "" {
		call.Name = tool.Name
		r.bindHandlerLocked(call)
	}
	if len(tool.Args) > 0 && (call.ArgsText == "" || call.stateArgs) {
		call.ArgsText = string(tool.Args)
		call.stateArgs = true
	}
	switch tool.Status {
	case types.ActiveToolDone:
		call.Status = StatusComplete
		if result := ParseRawResult(tool.Result); result != nil {
			call.Result = result
		}
		call.responded = true
	default:
		call.Status = StatusRunning
	}
}

func (r *Router) finishedDuplicateLocked(tool types.ActiveTool) bool {
	for i := len(r.order) - 1; i >= 0; i-- {
		call := r.calls[r.order[i]]
		if call.Name != tool.Name {
			continue
		}
		return call.Terminal() && call.ArgsText == string(tool.Args)
	}
	return false
}

// Entries returns every call of the current turn in first-seen order.
func (r *Router) Entries() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.calls[id])
	}
	return out
}

func (r *Router) Call(id string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return Call{}, false
	}
	return *call, true
}

// BeginTurn forgets the previous turn's calls.
func (r *Router) BeginTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = map[string]*Call{}
	r.order = nil
}

// Thinking reports which busy indicators to show while a run is active: the
// generic one before any tool surfaced, and the trailing one once every
// surfaced tool has finished.
func (r *Router) Thinking(runActive bool) (generic, trailing bool) {
	if !runActive {
		return false, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return true, false
	}
	for _, id := range r.order {
		if !r.calls[id].Terminal() {
			return false, false
		}
	}
	return false, true
}

func (r *Router) resolveLocked(id, name string, origin Origin) *Call {
	if id != "" {
		if call, ok := r.calls[id]; ok {
			return call
		}
		return r.insertLocked(id, name, origin)
	}
	for i := len(r.order) - 1; i >= 0; i-- {
		call := r.calls[r.order[i]]
		if call.Terminal() {
			continue
		}
		if name == "" || call.Name == name {
			return call
		}
	}
	return r.insertLocked(r.newID(), name, origin)
}

func (r *Router) insertLocked(id, name string, origin Origin) *Call {
	call := &Call{ID: id, Name: name, Status: StatusPending, Origin: origin}
	r.bindHandlerLocked(call)
	r.calls[id] = call
	r.order = append(r.order, id)
	return call
}

func (r *Router) bindHandlerLocked(call *Call) {
	handler, ok := r.handlers[call.Name]
	call.Known = ok
	call.Frontend = ok && handler.Definition().Frontend
}
