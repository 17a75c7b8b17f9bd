// Package client is a Go client for the sahayak gateway HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds client configuration
type Config struct {
	GatewayAddr string // e.g., "http://localhost:8090"
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to a running gateway
type Client struct {
	config Config
	http   *http.Client
}

// Result is the outcome of a task run through the gateway
type Result struct {
	RequestID   string          `json:"request_id"`
	SessionID   string          `json:"session_id"`
	Status      string          `json:"status"`
	Text        string          `json:"text"`
	Summary     string          `json:"summary,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	StatusCode  int             `json:"status_code"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
}

// Conversation describes a conversation's session binding
type Conversation struct {
	ConversationID string     `json:"conversation_id"`
	State          string     `json:"state"`
	SessionID      string     `json:"session_id,omitempty"`
	BoundAt        *time.Time `json:"bound_at,omitempty"`
	Busy           bool       `json:"busy"`
}

// APIError is a non-2xx gateway answer. Kind mirrors the dispatch error
// kinds, e.g. "auth", "timeout" or "concurrent_session".
type APIError struct {
	StatusCode int    `json:"-"`
	Kind       string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Ambiguous  bool   `json:"ambiguous"`
	Temporary  bool   `json:"temporary,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("gateway returned %d: %s: %s", e.StatusCode, e.Kind, e.Detail)
}

// IsKind reports whether err is an APIError of the given kind
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// New creates a new client instance
func New(config Config) (*Client, error) {
	if config.GatewayAddr == "" {
		return nil, fmt.Errorf("gateway address is required")
	}
	u, err := url.Parse(config.GatewayAddr)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway address %q", config.GatewayAddr)
	}

	if config.Timeout == 0 {
		// tasks drive a real desktop and can take minutes
		config.Timeout = 5 * time.Minute
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	config.GatewayAddr = strings.TrimSuffix(config.GatewayAddr, "/")

	return &Client{config: config, http: httpClient}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Submit runs a task in a conversation and waits for the result
func (c *Client) Submit(ctx context.Context, conversationID, description string, idempotent bool) (*Result, error) {
	body := map[string]interface{}{
		"task_description": description,
		"idempotent":       idempotent,
	}
	var out struct {
		Result *Result `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID)+"/tasks", body, &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, fmt.Errorf("gateway response has no result")
	}
	return out.Result, nil
}

// Conversation fetches a conversation's binding
func (c *Client) Conversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Conversations lists every conversation the gateway knows about
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Reset forgets a conversation's session. With remote set the session is
// also deleted on the Computer Use service.
func (c *Client) Reset(ctx context.Context, conversationID string, remote bool) error {
	path := conversationPath(conversationID)
	if remote {
		path += "?remote=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Health holds the gateway's view of the remote
type Health struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Remote    map[string]interface{} `json:"remote,omitempty"`
	Error     string                 `json:"remote_error,omitempty"`
}

// Health checks the gateway and the remote behind it. An unhealthy remote is
// reported in the returned value, not as an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.GatewayAddr+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &h, nil
}

func conversationPath(id string) string {
	return "/api/conversations/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.GatewayAddr+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Kind == "" {
			apiErr.Kind = "http"
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
