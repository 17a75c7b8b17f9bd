package task

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyDescription is returned when a task description is blank after trimming
var ErrEmptyDescription = errors.New("task description cannot be empty")

// Request is a natural-language instruction bound for the Computer Use API.
// It is immutable once built by NewRequest.
type Request struct {
	ID          string    `json:"id"`
	Description string    `json:"task_description"`
	SessionID   string    `json:"session_id,omitempty"`
	Idempotent  bool      `json:"idempotent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Option customizes a Request at construction time
type Option func(*Request)

// Idempotent marks the request as safe to resend after a transport failure.
// Most tasks click, type or send things, so this is opt-in.
func Idempotent() Option {
	return func(r *Request) {
		r.Idempotent = true
	}
}

// WithID overrides the generated request ID
func WithID(id string) Option {
	return func(r *Request) {
		if id != "" {
			r.ID = id
		}
	}
}

// NewRequest validates the description and builds a request. The description
// and session ID are passed through unchanged.
func NewRequest(description, sessionID string, opts ...Option) (*Request, error) {
	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyDescription
	}

	r := &Request{
		ID:          uuid.New().String(),
		Description: description,
		SessionID:   sessionID,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HasSession reports whether the request continues an existing session
func (r *Request) HasSession() bool {
	return r.SessionID != ""
}
