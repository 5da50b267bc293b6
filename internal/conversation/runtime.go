// Package conversation runs the agent conversation for one thread: it owns
// the transcript, the shared state channel, the tool router and the current
// run's event stream.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbi/internal/agentstate"
	"chatbi/internal/approval"
	"chatbi/internal/logging"
	"chatbi/internal/toolcall"
	"chatbi/internal/tools"
	"chatbi/internal/types"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrClosed        = errors.New("conversation closed")
	ErrEmptyMessage  = errors.New("message is empty")
)

// ErrApprovalPending is returned by Send while an approval call has no
// delivered response. The agent cannot continue past it.
var ErrApprovalPending = errors.New("query parameters are waiting for confirmation")

const defaultMaxEventsPerTick = 64

// Agent starts a run and streams its events.
type Agent interface {
	RunAgent(ctx context.Context, input types.RunAgentInput) (<-chan types.Event, func(), error)
}

type Config struct {
	ThreadID         string
	Agent            Agent
	Channel          *agentstate.Channel
	Logger           logging.Logger
	NewID            func() string
	ResponseTimeout  time.Duration
	MaxEventsPerTick int
}

// TickResult reports what one ConsumeTick changed.
type TickResult struct {
	Changed bool
	// Finished is set when the run ended during this tick.
	Finished bool
	// NeedsResume is set when tool results are waiting to be sent and no run
	// is active.
	NeedsResume bool
}

type Runtime struct {
	threadID string
	agent    Agent
	channel  *agentstate.Channel
	router   *toolcall.Router
	gates    *approval.Handler
	logger   logging.Logger
	newID    func() string
	maxTick  int

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	messages      []types.Message
	running       bool
	runID         string
	events        <-chan types.Event
	stop          func()
	terminal      bool
	pendingResume bool
	lastErr       string
	closed        bool
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.MaxEventsPerTick <= 0 {
		cfg.MaxEventsPerTick = defaultMaxEventsPerTick
	}
	channel := cfg.Channel
	if channel == nil {
		channel = agentstate.NewChannel(cfg.ThreadID, agentstate.WithLogger(cfg.Logger))
	}
	threadID := channel.ThreadID()
	logger := cfg.Logger.With(logging.F("thread_id", threadID))

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		threadID: threadID,
		agent:    cfg.Agent,
		channel:  channel,
		logger:   logger,
		newID:    cfg.NewID,
		maxTick:  cfg.MaxEventsPerTick,
		ctx:      ctx,
		cancel:   cancel,
	}
	r.router = toolcall.NewRouter(
		toolcall.WithIDGenerator(cfg.NewID),
		toolcall.WithLogger(logging.Component(logger, "router")),
		toolcall.WithResponder(toolcall.ResponderFunc(r.respond)),
	)
	gates, err := tools.Register(r.router, channel,
		approval.WithResponseTimeout(cfg.ResponseTimeout),
		approval.WithGateLogger(logging.Component(logger, "approval")),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	r.gates = gates
	return r, nil
}

func (r *Runtime) ThreadID() string { return r.threadID }

func (r *Runtime) Channel() *agentstate.Channel { return r.channel }

func (r *Runtime) Router() *toolcall.Router { return r.router }

func (r *Runtime) Approvals() *approval.Handler { return r.gates }

func (r *Runtime) Messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Message, len(r.messages))
	for i, msg := range r.messages {
		msg.ToolCalls = append([]types.ToolCall(nil), msg.ToolCalls...)
		out[i] = msg
	}
	return out
}

func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runtime) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Send appends a user message and starts a new turn.
func (r *Runtime) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if r.gates.Active() != nil {
		return ErrApprovalPending
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.running {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	r.messages = append(r.messages, types.Message{ID: r.newID(), Role: types.RoleUser, Content: text})
	r.pendingResume = false
	r.mu.Unlock()

	r.router.BeginTurn()
	return r.startRun(ctx)
}

// Resume sends waiting tool results to the agent in a new run.
func (r *Runtime) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.running {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	if !r.pendingResume {
		r.mu.Unlock()
		return nil
	}
	r.pendingResume = false
	r.mu.Unlock()
	return r.startRun(ctx)
}

// ClearCanvas empties the dashboard of this thread.
func (r *Runtime) ClearCanvas() error {
	return r.channel.ClearCanvas()
}

// Cancel stops the active run, if any.
func (r *Runtime) Cancel() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.events = nil
	r.running = false
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Close stops the run and tears down the state channel. Events that arrive
// afterwards are dropped.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.Cancel()
	r.cancel()
	r.channel.Close()
}

// startRun opens the event stream. ctx bounds only the request handshake; the
// stream itself lives until the run ends or the runtime is closed.
func (r *Runtime) startRun(ctx context.Context) error {
	state, err := r.channel.MarshalState()
	if err != nil {
		return err
	}
	runID := r.newID()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.running {
		r.mu.Unlock()
		return ErrRunInProgress
	}
	r.running = true
	r.terminal = false
	r.runID = runID
	r.lastErr = ""
	input := types.RunAgentInput{
		ThreadID: r.threadID,
		RunID:    runID,
		State:    state,
		Messages: append([]types.Message(nil), r.messages...),
		Tools:    r.router.Tools(),
		Context:  []types.ContextItem{},
	}
	r.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(r.ctx)
	stopWatch := context.AfterFunc(ctx, cancelRun)
	events, stop, err := r.agent.RunAgent(runCtx, input)
	interrupted := !stopWatch()
	if err == nil && interrupted {
		stop()
		err = ctx.Err()
	}
	if err != nil {
		cancelRun()
		r.mu.Lock()
		r.running = false
		r.lastErr = err.Error()
		r.mu.Unlock()
		r.logger.Warn("run start failed", logging.F("run_id", runID), logging.Err(err))
		return fmt.Errorf("start run: %w", err)
	}

	r.mu.Lock()
	if r.closed || !r.running || r.runID != runID {
		r.mu.Unlock()
		stop()
		cancelRun()
		return ErrClosed
	}
	r.events = events
	r.stop = func() {
		stop()
		cancelRun()
	}
	r.mu.Unlock()
	r.logger.Info("run started", logging.F("run_id", runID), logging.F("messages", len(input.Messages)))
	return nil
}

// ConsumeTick applies up to the configured number of buffered events. It is
// meant to be called from the UI loop on every tick.
func (r *Runtime) ConsumeTick() TickResult {
	r.mu.Lock()
	events := r.events
	r.mu.Unlock()
	if events == nil {
		return TickResult{}
	}

	var result TickResult
	for i := 0; i < r.maxTick; i++ {
		select {
		case event, ok := <-events:
			if !ok {
				r.streamClosed(events, &result)
				return result
			}
			result.Changed = true
			r.apply(event, &result)
			if result.Finished {
				return result
			}
		default:
			return result
		}
	}
	return result
}

func (r *Runtime) streamClosed(events <-chan types.Event, result *TickResult) {
	r.mu.Lock()
	if r.events != events {
		r.mu.Unlock()
		return
	}
	r.events = nil
	r.stop = nil
	if r.running {
		r.running = false
		if !r.terminal {
			r.lastErr = "agent stream closed before the run finished"
		}
	}
	r.mu.Unlock()
	result.Changed = true
	result.Finished = true
}

func (r *Runtime) finishRun(errMsg string, result *TickResult) {
	r.mu.Lock()
	stop := r.stop
	r.events = nil
	r.stop = nil
	r.running = false
	r.terminal = true
	r.lastErr = errMsg
	result.NeedsResume = errMsg == "" && r.pendingResume
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	result.Finished = true
}

// respond is the router's responder: tool results become tool messages and
// are sent with the next run.
func (r *Runtime) respond(ctx context.Context, call toolcall.Call, result toolcall.Result) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.hasToolMessageLocked(call.ID) {
		r.messages = append(r.messages, types.Message{
			ID:         r.newID(),
			Role:       types.RoleTool,
			Content:    result.Content(),
			ToolCallID: call.ID,
		})
	}
	r.pendingResume = true
	running := r.running
	r.mu.Unlock()

	if running {
		return nil
	}
	return r.Resume(ctx)
}

func (r *Runtime) hasToolMessageLocked(toolCallID string) bool {
	for _, msg := range r.messages {
		if msg.Role == types.RoleTool && msg.ToolCallID == toolCallID {
			return true
		}
	}
	return false
}
