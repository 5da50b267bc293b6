package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"chatbi/internal/types"
)

const (
	RepositoryBackendMemory = "memory"
	RepositoryBackendBbolt  = "bbolt"
)

// Repository groups the persisted stores. Close releases the backend.
type Repository interface {
	Sessions() SessionStore
	AppState() AppStateStore
	Backend() string
	Close() error
}

// SessionStore keeps the chat session list. It satisfies the session
// store's journal contract.
type SessionStore interface {
	Load() ([]types.ChatSession, error)
	Save(sessions []types.ChatSession) error
}

// AppStateStore remembers the thread that was current when the UI exited.
type AppStateStore interface {
	LoadCurrentThread(ctx context.Context) (string, error)
	SaveCurrentThread(ctx context.Context, threadID string) error
}

// Open returns the repository for backend. The memory backend ignores path.
func Open(backend, path string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RepositoryBackendMemory:
		return NewMemoryRepository(), nil
	case RepositoryBackendBbolt:
		return NewBboltRepository(path)
	default:
		return nil, errors.New("unknown repository backend: " + backend)
	}
}

type memoryRepository struct {
	mu       sync.Mutex
	sessions []types.ChatSession
	current  string
}

func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Sessions() SessionStore { return r }

func (r *memoryRepository) AppState() AppStateStore { return r }

func (r *memoryRepository) Backend() string { return RepositoryBackendMemory }

func (r *memoryRepository) Close() error { return nil }

func (r *memoryRepository) Load() ([]types.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ChatSession(nil), r.sessions...), nil
}

func (r *memoryRepository) Save(sessions []types.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append([]types.ChatSession(nil), sessions...)
	return nil
}

func (r *memoryRepository) LoadCurrentThread(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

func (r *memoryRepository) SaveCurrentThread(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = strings.TrimSpace(threadID)
	return nil
}
