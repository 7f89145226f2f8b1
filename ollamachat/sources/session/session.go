// Package session holds per-client state and the atomic access path to it.
//
// State lives in a Store as JSON. Manager serializes every load, mutate and
// save for one session id, so overlapping requests from one client cannot
// lose each other's updates.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"ollamachat/ollamachat/types"
)

// ErrNotFound is returned by a Store when the session has never been saved.
var ErrNotFound = errors.New("session not found")

// Store is the persistent key-value backing for sessions.
type Store interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Save(ctx context.Context, id string, data []byte) error
}

// Session is the state of one client. Mutators must call MarkDirty so the
// change is written back.
type Session struct {
	ID            string              `json:"-"`
	ChatHistories types.ChatHistories `json:"chat_histories"`
	UserModels    []string            `json:"user_models"`

	dirty bool
}

func (s *Session) MarkDirty()  { s.dirty = true }
func (s *Session) Dirty() bool { return s.dirty }

// HasUserModel reports whether name is in the user-added list.
func (s *Session) HasUserModel(name string) bool {
	return slices.Contains(s.UserModels, name)
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*lockEntry
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, locks: make(map[string]*lockEntry)}
}

// Update loads the session, runs fn and saves the result if fn marked it
// dirty. The whole sequence holds the session's lock. An error from fn
// discards its changes.
func (m *Manager) Update(ctx context.Context, id string, fn func(*Session) error) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	if !sess.Dirty() {
		return nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Save(ctx, id, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// View loads the session under its lock and runs fn without saving.
func (m *Manager) View(ctx context.Context, id string, fn func(*Session) error) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	return fn(sess)
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	sess := &Session{ID: id}
	data, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	e, ok := m.locks[id]
	if !ok {
		e = &lockEntry{}
		m.locks[id] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = slices.Clone(data)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
