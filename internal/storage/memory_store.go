package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps bindings for the life of the process
type MemoryStore struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[string]Binding)}
}

func (m *MemoryStore) Save(_ context.Context, b *Binding) error {
	if err := validate(b); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[b.ConversationID] = *b
	return nil
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return &b, nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[conversationID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	delete(m.bindings, conversationID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Binding, 0, len(m.bindings))
	for _, b := range m.bindings {
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
