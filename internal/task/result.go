package task

import (
	"encoding/json"
	"time"
)

// Status is the outcome of a dispatched task
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result represents the outcome of a dispatched task
type Result struct {
	RequestID   string          `json:"request_id"`
	SessionID   string          `json:"session_id"`
	Status      Status          `json:"status"`
	Text        string          `json:"text"`
	Summary     string          `json:"summary,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	StatusCode  int             `json:"status_code"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
}

// Succeeded reports whether the remote completed the task
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
