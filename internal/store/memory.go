package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mizulab/hearth/backend/internal/model/chat"
)

// MemoryStore keeps aggregates in a map. Used by tests and as the
// fallback when no database path is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*chat.Chat
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]*chat.Chat)}
}

// Create inserts a new aggregate.
func (s *MemoryStore) Create(_ context.Context, c *chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c.Clone()
	return nil
}

// Get returns a copy of the aggregate.
func (s *MemoryStore) Get(_ context.Context, chatID string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return c.Clone(), nil
}

// Save replaces the stored aggregate.
func (s *MemoryStore) Save(_ context.Context, c *chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; !ok {
		return ErrChatNotFound
	}
	s.chats[c.ID] = c.Clone()
	return nil
}

// List returns all chats, most recently updated first.
func (s *MemoryStore) List(_ context.Context) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes the aggregate.
func (s *MemoryStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return nil
}
