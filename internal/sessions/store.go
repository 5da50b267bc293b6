// Package sessions keeps the ordered list of chat sessions and the current
// thread id. Every mutation is a single transition; observers run after the
// transition commits.
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbi/internal/logging"
	"chatbi/internal/types"
)

const titleLayout = "15:04"

// Change describes a committed change of the current thread id.
type Change struct {
	Previous string
	Current  string
}

// Journal persists the session list. Save is called after every transition
// that changed the list.
type Journal interface {
	Load() ([]types.ChatSession, error)
	Save(sessions []types.ChatSession) error
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithJournal(journal Journal) Option {
	return func(s *Store) {
		s.journal = journal
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Store struct {
	mu        sync.Mutex
	sessions  []types.ChatSession
	current   string
	version   uint64
	now       func() time.Time
	newID     func() string
	journal   Journal
	logger    logging.Logger
	observers []func(Change)
}

// New returns a store whose current thread is initialID, or a freshly minted
// id when initialID is empty. The current thread is ensured immediately.
func New(initialID string, opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.journal != nil {
		loaded, err := s.journal.Load()
		if err != nil {
			s.logger.Warn("session journal load failed", logging.Err(err))
		} else {
			s.sessions = dedupe(loaded)
		}
	}
	if initialID == "" {
		initialID = s.newID()
	}
	s.current = initialID
	s.Ensure(initialID)
	return s
}

// Subscribe registers fn for current-id changes.
func (s *Store) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	idx := len(s.observers) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.observers) {
			s.observers[idx] = nil
		}
	}
}

// Current returns the active thread id.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Sessions returns a copy of the list, newest first.
func (s *Store) Sessions() []types.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChatSession(nil), s.sessions...)
}

// Version increases on every transition that changed the list.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Ensure prepends a session for threadID unless one already exists. It
// reports whether the list changed.
func (s *Store) Ensure(threadID string) bool {
	if threadID == "" {
		return false
	}
	s.mu.Lock()
	changed := s.ensureLocked(threadID)
	snapshot := s.snapshotIfChangedLocked(changed)
	s.mu.Unlock()
	s.persist(snapshot)
	return changed
}

// Create mints a new thread id and makes it current.
func (s *Store) Create() string {
	id := s.newID()
	s.setCurrent(id)
	return id
}

// Switch makes id current if it differs from the current id.
func (s *Store) Switch(id string) bool {
	if id == "" {
		return false
	}
	return s.setCurrent(id)
}

// Delete removes the session with id. Deleting the current session moves the
// current id to the first remaining session, or to a new thread when none
// remain.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	filtered := make([]types.ChatSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.ID != id {
			filtered = append(filtered, session)
		}
	}
	removed := len(filtered) != len(s.sessions)
	if removed {
		s.sessions = filtered
		s.version++
	}
	var next string
	if id == s.current {
		if len(filtered) > 0 {
			next = filtered[0].ID
		} else {
			next = s.newID()
		}
	}
	snapshot := s.snapshotIfChangedLocked(removed)
	s.mu.Unlock()

	s.persist(snapshot)
	if removed {
		s.logger.Info("session deleted", logging.F("thread_id", id))
	}
	if next != "" {
		s.setCurrent(next)
	}
}

func (s *Store) setCurrent(id string) bool {
	s.mu.Lock()
	if id == s.current {
		s.mu.Unlock()
		return false
	}
	change := Change{Previous: s.current, Current: id}
	s.current = id
	changed := s.ensureLocked(id)
	snapshot := s.snapshotIfChangedLocked(changed)
	observers := append([]func(Change){}, s.observers...)
	s.mu.Unlock()

	s.persist(snapshot)
	s.logger.Debug("thread changed", logging.F("previous", change.Previous), logging.F("current", change.Current))
	for _, fn := range observers {
		if fn != nil {
			fn(change)
		}
	}
	return true
}

func (s *Store) ensureLocked(threadID string) bool {
	for _, session := range s.sessions {
		if session.ID == threadID {
			return false
		}
	}
	created := s.now()
	session := types.ChatSession{
		ID:        threadID,
		Title:     "Analysis " + created.Format(titleLayout),
		CreatedAt: created,
	}
	s.sessions = append([]types.ChatSession{session}, s.sessions...)
	s.version++
	return true
}

func (s *Store) snapshotIfChangedLocked(changed bool) []types.ChatSession {
	if !changed || s.journal == nil {
		return nil
	}
	return append([]types.ChatSession{}, s.sessions...)
}

func (s *Store) persist(snapshot []types.ChatSession) {
	if snapshot == nil || s.journal == nil {
		return
	}
	if err := s.journal.Save(snapshot); err != nil {
		s.logger.Warn("session journal save failed", logging.Err(err))
	}
}

func dedupe(sessions []types.ChatSession) []types.ChatSession {
	seen := make(map[string]struct{}, len(sessions))
	out := make([]types.ChatSession, 0, len(sessions))
	for _, session := range sessions {
		if session.ID == "" {
			continue
		}
		if _, ok := seen[session.ID]; ok {
			continue
		}
		seen[session.ID] = struct{}{}
		out = append(out, session)
	}
	return out
}
