package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation has no stored binding
var ErrNotFound = errors.New("binding not found")

// Binding records which remote session a conversation is using
type Binding struct {
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	BoundAt        time.Time `json:"bound_at"`
}

// SessionStore persists conversation to session bindings
type SessionStore interface {
	// Save stores or replaces the binding for b.ConversationID
	Save(ctx context.Context, b *Binding) error

	// Get retrieves the binding for a conversation
	Get(ctx context.Context, conversationID string) (*Binding, error)

	// Delete removes the binding for a conversation
	Delete(ctx context.Context, conversationID string) error

	// List returns every stored binding
	List(ctx context.Context) ([]*Binding, error)

	// Close releases resources held by the store
	Close() error
}

func validate(b *Binding) error {
	if b == nil || b.ConversationID == "" {
		return errors.New("invalid binding: conversation ID is required")
	}
	if b.SessionID == "" {
		return errors.New("invalid binding: session ID is required")
	}
	return nil
}
