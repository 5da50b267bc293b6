package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"chatbi/internal/types"
)

var (
	bucketAppState = []byte("app_state")
	bucketSessions = []byte("sessions")
	keyCurrent     = []byte("current_thread")
)

type bboltRepository struct {
	db       *bolt.DB
	sessions SessionStore
	appState AppStateStore
}

func NewBboltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{
		db:       db,
		sessions: &bboltSessionStore{db: db},
		appState: &bboltAppStateStore{db: db},
	}, nil
}

func (r *bboltRepository) Sessions() SessionStore {
	return r.sessions
}

func (r *bboltRepository) AppState() AppStateStore {
	return r.appState
}

func (r *bboltRepository) Backend() string {
	return RepositoryBackendBbolt
}

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAppState); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return err
		}
		return nil
	})
}

type bboltSessionStore struct {
	db *bolt.DB
}

// Load returns the sessions newest first.
func (s *bboltSessionStore) Load() ([]types.ChatSession, error) {
	out := make([]types.ChatSession, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, raw []byte) error {
			var session types.ChatSession
			if err := json.Unmarshal(raw, &session); err != nil {
				return err
			}
			if strings.TrimSpace(session.ID) != "" {
				out = append(out, session)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Save replaces the stored list with sessions.
func (s *bboltSessionStore) Save(sessions []types.ChatSession) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return errors.New("sessions bucket missing")
		}
		keep := make(map[string]struct{}, len(sessions))
		for _, session := range sessions {
			id := strings.TrimSpace(session.ID)
			if id == "" {
				continue
			}
			raw, err := json.Marshal(session)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), raw); err != nil {
				return err
			}
			keep[id] = struct{}{}
		}
		var stale [][]byte
		if err := b.ForEach(func(key, _ []byte) error {
			if _, ok := keep[string(key)]; !ok {
				stale = append(stale, append([]byte(nil), key...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

type bboltAppStateStore struct {
	db *bolt.DB
}

func (s *bboltAppStateStore) LoadCurrentThread(ctx context.Context) (string, error) {
	var current string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if b == nil {
			return nil
		}
		current = string(b.Get(keyCurrent))
		return nil
	})
	return current, err
}

func (s *bboltAppStateStore) SaveCurrentThread(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if b == nil {
			return errors.New("app state bucket missing")
		}
		if threadID == "" {
			return b.Delete(keyCurrent)
		}
		return b.Put(keyCurrent, []byte(threadID))
	})
}
