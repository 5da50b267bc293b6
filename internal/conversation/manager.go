package conversation

import (
	"errors"
	"sync"
	"time"

	"chatbi/internal/agentstate"
	"chatbi/internal/logging"
	"chatbi/internal/sessions"
)

type ManagerConfig struct {
	Sessions        *sessions.Store
	Agent           Agent
	Logger          logging.Logger
	NewID           func() string
	ResponseTimeout time.Duration
}

// Manager keeps exactly one Runtime alive: the one bound to the current
// session. Switching sessions closes the old runtime and its state channel
// before the new one is created.
type Manager struct {
	cfg         ManagerConfig
	binder      *agentstate.Binder
	unsubscribe func()
	logger      logging.Logger

	mu      sync.Mutex
	current *Runtime
	err     error
	closed  bool
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	opts := []agentstate.Option{agentstate.WithLogger(logging.Component(cfg.Logger, "state"))}
	if cfg.NewID != nil {
		opts = append(opts, agentstate.WithIDGenerator(cfg.NewID))
	}
	m := &Manager{
		cfg:    cfg,
		binder: agentstate.NewBinder(opts...),
		logger: logging.Component(cfg.Logger, "conversation"),
	}
	if err := m.rebind(cfg.Sessions.Current()); err != nil {
		return nil, err
	}
	m.unsubscribe = cfg.Sessions.Subscribe(func(change sessions.Change) {
		if err := m.rebind(change.Current); err != nil {
			m.logger.Error("rebind failed", logging.F("thread_id", change.Current), logging.Err(err))
		}
	})
	return m, nil
}

func (m *Manager) rebind(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.current != nil {
		if m.current.ThreadID() == threadID {
			return nil
		}
		m.current.Close()
		m.current = nil
	}
	channel := m.binder.Bind(threadID)
	runtime, err := New(Config{
		ThreadID:        threadID,
		Agent:           m.cfg.Agent,
		Channel:         channel,
		Logger:          m.cfg.Logger,
		NewID:           m.cfg.NewID,
		ResponseTimeout: m.cfg.ResponseTimeout,
	})
	if err != nil {
		m.err = err
		return err
	}
	m.current = runtime
	m.err = nil
	m.logger.Info("thread bound", logging.F("thread_id", threadID))
	return nil
}

// Current returns the runtime of the current session. It is nil only when
// building the runtime failed; Err then reports why.
func (m *Manager) Current() *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Manager) Sessions() *sessions.Store { return m.cfg.Sessions }

func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	current := m.current
	m.current = nil
	m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if current != nil {
		current.Close()
	}
}
