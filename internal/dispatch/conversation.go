package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VyoJ/SahayakAI/internal/logger"
	"github.com/VyoJ/SahayakAI/internal/storage"
	"github.com/VyoJ/SahayakAI/internal/task"
)

// State is the session state of a conversation
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
)

// Conversation owns the session identifier for one logical conversation.
// The first successful task binds the identifier the remote answered with;
// later tasks reuse it until Reset. Errors never change the binding.
type Conversation struct {
	id        string
	submitter Submitter
	store     storage.SessionStore
	policy    SessionPolicy
	logger    *logger.Logger

	// held for the whole of Submit so two first calls cannot bind two sessions
	guard *sessionGuards

	mu        sync.RWMutex
	sessionID string
	boundAt   time.Time
}

// ConversationOption configures a Conversation
type ConversationOption func(*Conversation)

// WithConversationID names the conversation; required when a store is used
func WithConversationID(id string) ConversationOption {
	return func(c *Conversation) { c.id = id }
}

// WithStore persists the binding so it survives process restarts
func WithStore(store storage.SessionStore) ConversationOption {
	return func(c *Conversation) { c.store = store }
}

// WithSession starts the conversation already bound to sessionID
func WithSession(sessionID string) ConversationOption {
	return func(c *Conversation) {
		if sessionID != "" {
			c.sessionID = sessionID
			c.boundAt = time.Now()
		}
	}
}

// WithPolicy sets what a second concurrent Submit does
func WithPolicy(policy SessionPolicy) ConversationOption {
	return func(c *Conversation) { c.policy = policy }
}

// WithLogger sets the conversation logger
func WithLogger(l *logger.Logger) ConversationOption {
	return func(c *Conversation) { c.logger = l }
}

// NewConversation creates an unbound conversation on top of submitter
func NewConversation(submitter Submitter, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		submitter: submitter,
		policy:    PolicyReject,
		guard:     newSessionGuards(),
	}
	if pc, ok := submitter.(interface{ Policy() SessionPolicy }); ok {
		c.policy = pc.Policy()
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrDefault(c.logger, "conversation")
	return c
}

// ID returns the conversation identifier
func (c *Conversation) ID() string {
	return c.id
}

// SessionID returns the bound session identifier, or "" when unbound
func (c *Conversation) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// BoundAt returns when the current session was bound
func (c *Conversation) BoundAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.boundAt
}

// State reports whether a session is bound
func (c *Conversation) State() State {
	if c.SessionID() == "" {
		return StateUninitialized
	}
	return StateActive
}

// Busy reports whether a Submit is in progress
func (c *Conversation) Busy() bool {
	return c.guard.busy("")
}

// Resume loads a persisted binding. A missing binding leaves the conversation unbound.
func (c *Conversation) Resume(ctx context.Context) error {
	if c.store == nil || c.id == "" {
		return nil
	}

	b, err := c.store.Get(ctx, c.id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resume conversation %s: %w", c.id, err)
	}

	c.mu.Lock()
	c.sessionID = b.SessionID
	c.boundAt = b.BoundAt
	c.mu.Unlock()

	c.logger.Debug("Conversation resumed", logger.Fields{
		"conversation_id": c.id,
		"session_id":      b.SessionID,
	})
	return nil
}

// Submit sends description on the bound session, binding one on first success
func (c *Conversation) Submit(ctx context.Context, description string, opts ...task.Option) (*task.Result, error) {
	release, err := c.guard.acquire(ctx, "", c.policy)
	if err != nil {
		return nil, guardError(OpSubmit, c.SessionID(), err)
	}
	defer release()

	sessionID := c.SessionID()
	req, err := task.NewRequest(description, sessionID, opts...)
	if err != nil {
		return nil, invalidInput(OpSubmit, err)
	}

	result, err := c.submitter.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	if sessionID == "" && result.SessionID != "" {
		c.bind(ctx, result.SessionID)
	}
	return result, nil
}

func (c *Conversation) bind(ctx context.Context, sessionID string) {
	now := time.Now()
	c.mu.Lock()
	c.sessionID = sessionID
	c.boundAt = now
	c.mu.Unlock()

	c.logger.Info("Session bound", logger.Fields{
		"conversation_id": c.id,
		"session_id":      sessionID,
	})

	if c.store == nil || c.id == "" {
		return
	}
	err := c.store.Save(ctx, &storage.Binding{
		ConversationID: c.id,
		SessionID:      sessionID,
		BoundAt:        now,
	})
	if err != nil {
		// the in-memory binding still holds for this process
		c.logger.Warn("Failed to persist session binding", logger.Fields{
			"conversation_id": c.id,
			"session_id":      sessionID,
			"error":           err,
		})
	}
}

// SessionDeleter discards sessions on the remote. *Client satisfies it.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// Reset forgets the bound session so the next Submit starts a new one. It
// does not touch the remote. A Submit in progress is waited for or rejected
// according to the policy.
func (c *Conversation) Reset(ctx context.Context) error {
	return c.reset(ctx, nil)
}

// ResetRemote deletes the bound session on the remote and then forgets it.
// When the remote delete fails the binding is kept.
func (c *Conversation) ResetRemote(ctx context.Context, remote SessionDeleter) error {
	return c.reset(ctx, remote)
}

func (c *Conversation) reset(ctx context.Context, remote SessionDeleter) error {
	release, err := c.guard.acquire(ctx, "", c.policy)
	if err != nil {
		return guardError(OpReset, c.SessionID(), err)
	}
	defer release()

	previous := c.SessionID()
	if remote != nil && previous != "" {
		if err := remote.DeleteSession(ctx, previous); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.sessionID = ""
	c.boundAt = time.Time{}
	c.mu.Unlock()

	c.logger.Info("Conversation reset", logger.Fields{
		"conversation_id": c.id,
		"session_id":      previous,
		"remote":          remote != nil,
	})

	if c.store == nil || c.id == "" {
		return nil
	}
	if err := c.store.Delete(ctx, c.id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to clear binding for %s: %w", c.id, err)
	}
	return nil
}
