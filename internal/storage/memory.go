package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
)

// MemoryStore implements Store in memory, suitable for tests and throwaway profiles.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	sessions map[uint64]chat.Session
	prefs    map[string]string
	closed   bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uint64]chat.Session),
		prefs:    make(map[string]string),
	}
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Add inserts a session under the next sequence value.
func (s *MemoryStore) Add(ctx context.Context, session chat.Session) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	s.seq++
	session.ID = s.seq
	session.Messages = chat.CloneMessages(session.Messages)
	s.sessions[session.ID] = session
	return session.ID, nil
}

// Get retrieves a session by id.
func (s *MemoryStore) Get(ctx context.Context, id uint64) (chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return chat.Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return chat.Session{}, ErrClosed
	}

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	session.Messages = chat.CloneMessages(session.Messages)
	return session, nil
}

// Put overwrites the session stored under session.ID.
func (s *MemoryStore) Put(ctx context.Context, session chat.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.ID == 0 {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	session.Messages = chat.CloneMessages(session.Messages)
	s.sessions[session.ID] = session
	if session.ID > s.seq {
		s.seq = session.ID
	}
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List returns all sessions ordered by id.
func (s *MemoryStore) List(ctx context.Context) ([]chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		session.Messages = chat.CloneMessages(session.Messages)
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// GetPref reads a preference value.
func (s *MemoryStore) GetPref(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	value, ok := s.prefs[key]
	return value, ok, nil
}

// SetPref writes a preference value.
func (s *MemoryStore) SetPref(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.prefs[key] = value
	return nil
}

// RemovePref deletes a preference value.
func (s *MemoryStore) RemovePref(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.prefs, key)
	return nil
}
