// Package agentstate mirrors the remote agent's shared state for one thread.
//
// A Channel is bound to exactly one thread id for its lifetime. Local writers
// go through functional updates serialized by the channel; remote writers
// arrive as full snapshots or RFC 6902 patches. Subscribers are notified
// after each committed write.
package agentstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"chatbi/internal/logging"
	"chatbi/internal/types"
)

var ErrClosed = errors.New("agent state channel closed")

type Option func(*Channel)

func WithIDGenerator(newID func() string) Option {
	return func(c *Channel) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Channel struct {
	threadID string
	newID    func() string
	logger   logging.Logger

	mu      sync.Mutex
	state   State
	version uint64
	closed  bool
	subs    map[int]func(State)
	nextSub int
}

func NewChannel(threadID string, opts ...Option) *Channel {
	c := &Channel{
		threadID: threadID,
		newID:    uuid.NewString,
		logger:   logging.Nop(),
		state:    Empty(),
		subs:     map[int]func(State){},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) ThreadID() string {
	return c.threadID
}

// State returns a deep copy of the committed state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Version increases on every committed write.
func (c *Channel) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Replace sets the whole state.
func (c *Channel) Replace(next State) error {
	return c.Update(func(State) State { return next.Clone() })
}

// Update applies fn to the latest committed value. fn receives its own copy
// and must not retain it.
func (c *Channel) Update(fn func(prev State) State) error {
	if fn == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("update dropped on closed channel", logging.F("thread_id", c.threadID))
		return ErrClosed
	}
	next := fn(c.state.Clone())
	c.commitLocked(next)
	snapshot, subs := c.state.Clone(), c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, snapshot)
	return nil
}

// ClearCanvas empties the widget list and leaves every other field as is.
func (c *Channel) ClearCanvas() error {
	return c.Update(func(prev State) State {
		prev.Widgets = []types.DashboardWidget{}
		return prev
	})
}

// AppendWidget appends w with a freshly minted id and returns the stored
// widget.
func (c *Channel) AppendWidget(w types.DashboardWidget) (types.DashboardWidget, error) {
	w.ID = c.newID()
	err := c.Update(func(prev State) State {
		prev.Widgets = append(prev.Widgets, cloneWidget(w))
		return prev
	})
	if err != nil {
		return types.DashboardWidget{}, err
	}
	return w, nil
}

// ApplySnapshot replaces the state with a STATE_SNAPSHOT payload.
func (c *Channel) ApplySnapshot(raw json.RawMessage) error {
	var next State
	if err := json.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("decode state snapshot: %w", err)
	}
	return c.Update(func(State) State { return next })
}

// ApplyDelta applies a STATE_DELTA JSON Patch against the latest state. A
// patch that fails to apply leaves the state untouched.
func (c *Channel) ApplyDelta(raw json.RawMessage) error {
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return fmt.Errorf("decode state delta: %w", err)
	}
	var applyErr error
	err = c.Update(func(prev State) State {
		doc, err := json.Marshal(prev)
		if err != nil {
			applyErr = err
			return prev
		}
		patched, err := patch.Apply(doc)
		if err != nil {
			applyErr = fmt.Errorf("apply state delta: %w", err)
			return prev
		}
		var next State
		if err := json.Unmarshal(patched, &next); err != nil {
			applyErr = fmt.Errorf("decode patched state: %w", err)
			return prev
		}
		return next
	})
	if err != nil {
		return err
	}
	return applyErr
}

// MarshalState encodes the committed state for an outgoing run.
func (c *Channel) MarshalState() (json.RawMessage, error) {
	state := c.State()
	return json.Marshal(state)
}

// Subscribe registers fn for committed writes. Callbacks run on the writer's
// goroutine after the channel lock is released.
func (c *Channel) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close tears the channel down. Later writes return ErrClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.subs = map[int]func(State){}
}

func (c *Channel) commitLocked(next State) {
	if next.Widgets == nil {
		next.Widgets = []types.DashboardWidget{}
	}
	c.assignWidgetIDsLocked(next.Widgets)
	c.state = next
	c.version++
}

// assignWidgetIDsLocked gives id-less widgets an id. A widget whose content
// matches a committed widget reuses that widget's id, so a snapshot sent
// again keeps identities; anything else gets a minted id.
func (c *Channel) assignWidgetIDsLocked(widgets []types.DashboardWidget) {
	used := make(map[string]bool, len(widgets))
	for _, w := range widgets {
		if w.ID != "" {
			used[w.ID] = true
		}
	}
	for i := range widgets {
		if widgets[i].ID != "" {
			continue
		}
		for _, prev := range c.state.Widgets {
			if !used[prev.ID] && sameContent(prev, widgets[i]) {
				widgets[i].ID = prev.ID
				break
			}
		}
		if widgets[i].ID == "" {
			widgets[i].ID = c.newID()
		}
		used[widgets[i].ID] = true
	}
}

func sameContent(a, b types.DashboardWidget) bool {
	return a.Type == b.Type &&
		a.Title == b.Title &&
		a.Description == b.Description &&
		sameJSON(a.Data, b.Data) &&
		sameJSON(a.Config, b.Config)
}

func sameJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func (c *Channel) subscribersLocked() []func(State) {
	out := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(State), state State) {
	for _, fn := range subs {
		fn(state.Clone())
	}
}
