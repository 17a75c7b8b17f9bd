// Package dispatch relays natural-language tasks to a Computer Use API.
//
// The remote performs real UI actions (clicks, typing, sending messages), so
// nothing here retries blindly: transport retries happen only for requests
// marked idempotent, and rate-limit retries only when configured. Every
// failure is returned as an *Error whose Kind tells the caller what happened
// and whose Detail carries the remote's own words.
package dispatch

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

	"github.com/VyoJ/SahayakAI/internal/config"
	"github.com/VyoJ/SahayakAI/internal/logger"
	"github.com/VyoJ/SahayakAI/internal/task"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultEndpoint = "http://localhost:7888"
	defaultTimeout  = 60 * time.Second

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 8 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Submitter dispatches a single prepared request
type Submitter interface {
	Dispatch(ctx context.Context, req *task.Request) (*task.Result, error)
}

// Observer receives dispatch events, typically for metrics. kind is empty on success.
type Observer interface {
	DispatchStarted(op string)
	DispatchFinished(op string, kind Kind, d time.Duration)
	RetryScheduled(op string, kind Kind)
}

type nopObserver struct{}

func (nopObserver) DispatchStarted(string)                       {}
func (nopObserver) DispatchFinished(string, Kind, time.Duration) {}
func (nopObserver) RetryScheduled(string, Kind)                  {}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Policy   SessionPolicy

	// Transport retries for requests marked idempotent
	MaxTransportRetries int

	RetryRateLimited    bool
	MaxRateLimitRetries int
	RateLimitBackoff    time.Duration

	// Provider, when set, is pushed to every session the client creates
	Provider *SessionConfig

	HTTPClient Doer
	Logger     *logger.Logger
	Observer   Observer
}

// ConfigFrom builds a client configuration from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Endpoint:            cfg.Remote.Endpoint,
		Timeout:             cfg.Remote.Timeout,
		Policy:              SessionPolicy(cfg.Session.Policy),
		MaxTransportRetries: cfg.Remote.MaxTransportRetries,
		RetryRateLimited:    cfg.Remote.RetryRateLimited,
		MaxRateLimitRetries: cfg.Remote.MaxRateLimitRetries,
		RateLimitBackoff:    cfg.Remote.RateLimitBackoff,
		Provider:            SessionConfigFrom(cfg.Provider),
	}
}

// Client talks to the Computer Use API
type Client struct {
	config   Config
	base     *url.URL
	http     Doer
	guards   *sessionGuards
	logger   *logger.Logger
	observer Observer

	// newTimer supplies the timer retries wait on; nil selects a wall-clock timer
	newTimer func() backoff.Timer
}

// New creates a new client instance
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("endpoint must be http or https, got %q", cfg.Endpoint)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", cfg.Endpoint)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch cfg.Policy {
	case PolicyReject, PolicyWait:
	case "":
		cfg.Policy = PolicyReject
	default:
		return nil, fmt.Errorf("unknown session policy %q", cfg.Policy)
	}
	if cfg.MaxTransportRetries < 0 {
		cfg.MaxTransportRetries = 0
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Client{
		config:   cfg,
		base:     base,
		http:     httpClient,
		guards:   newSessionGuards(),
		logger:   logger.OrDefault(cfg.Logger, "dispatch"),
		observer: observer,
		newTimer: func() backoff.Timer { return nil },
	}, nil
}

// Endpoint returns the configured base URL
func (c *Client) Endpoint() string {
	return c.base.String()
}

// Policy returns the session concurrency policy
func (c *Client) Policy() SessionPolicy {
	return c.config.Policy
}

// InFlight reports whether a task is running or queued on sessionID
func (c *Client) InFlight(sessionID string) bool {
	return sessionID != "" && c.guards.busy(sessionID)
}

// Submit validates description and sends it, continuing sessionID when non-empty
func (c *Client) Submit(ctx context.Context, description, sessionID string, opts ...task.Option) (*task.Result, error) {
	req, err := task.NewRequest(description, sessionID, opts...)
	if err != nil {
		return nil, invalidInput(OpSubmit, err)
	}
	return c.Dispatch(ctx, req)
}

// Dispatch sends a prepared request. Only one call per session identifier runs
// at a time; a second one is rejected or queued according to the policy.
func (c *Client) Dispatch(ctx context.Context, req *task.Request) (*task.Result, error) {
	if req == nil {
		return nil, invalidInput(OpSubmit, task.ErrEmptyDescription)
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, invalidInput(OpSubmit, task.ErrEmptyDescription)
	}

	done := c.track(OpSubmit)
	result, err := c.dispatch(ctx, req)
	done(&err)

	if err != nil {
		c.logFailure(OpSubmit, req, err)
		return nil, err
	}

	c.logger.Info("Task dispatched", logger.Fields{
		"request_id": req.ID,
		"session_id": result.SessionID,
		"duration":   result.Duration.String(),
	})
	return result, nil
}

// dispatch runs a request on its session. A request without one gets a
// fresh session from the remote first, so separate conversations never share
// the remote's default session.
func (c *Client) dispatch(ctx context.Context, req *task.Request) (*task.Result, error) {
	sessionID := req.SessionID
	created := false
	if sessionID == "" {
		id, err := c.openSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID, created = id, true
	}

	release, err := c.guards.acquire(ctx, sessionID, c.config.Policy)
	if err != nil {
		if created {
			c.discardSession(ctx, sessionID)
		}
		return nil, guardError(OpSubmit, sessionID, err)
	}
	defer release()

	result, err := c.chatWithRetry(ctx, req, sessionID)
	// after an ambiguous failure the remote may still be acting on the
	// session, so it is left alone and reported on the error
	if err != nil && created && !IsAmbiguous(err) {
		c.discardSession(ctx, sessionID)
	}
	return result, err
}

// openSession creates a session and pushes the provider settings to it
func (c *Client) openSession(ctx context.Context) (string, error) {
	id, err := c.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	if c.config.Provider == nil {
		return id, nil
	}
	if err := c.ConfigureSession(ctx, id, *c.config.Provider); err != nil {
		c.discardSession(ctx, id)
		return "", err
	}
	return id, nil
}

// discardSession deletes a session this client created but never handed out
func (c *Client) discardSession(ctx context.Context, sessionID string) {
	if err := c.deleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
		c.logger.Warn("Failed to discard unused session", logger.Fields{
			"session_id": sessionID,
			"error":      err,
		})
		return
	}
	c.logger.Debug("Discarded unused session", logger.Fields{"session_id": sessionID})
}

// chatWithRetry sends the task, retrying only what the retry policy allows
func (c *Client) chatWithRetry(ctx context.Context, req *task.Request, sessionID string) (*task.Result, error) {
	policy := newRetryPolicy(c.config, req.Idempotent)

	var (
		result *task.Result
		last   *Error
	)
	attempt := func() error {
		r, err := c.chat(ctx, req, sessionID)
		if err == nil {
			result = r
			return nil
		}
		if !errors.As(err, &last) {
			return backoff.Permanent(err)
		}
		if !policy.retryable(last.Kind) {
			return backoff.Permanent(last)
		}
		policy.failed(last.Kind)
		return last
	}
	notify := func(_ error, delay time.Duration) {
		c.observer.RetryScheduled(OpSubmit, last.Kind)
		c.logger.Warn("Retrying task", logger.Fields{
			"request_id": req.ID,
			"session_id": sessionID,
			"kind":       string(last.Kind),
			"delay":      delay.String(),
		})
	}

	err := backoff.RetryNotifyWithTimer(attempt, backoff.WithContext(policy, ctx), notify, c.newTimer())
	switch {
	case err == nil:
		return result, nil
	case last != nil:
		// ctx ending between attempts still reports the remote's failure
		return nil, last
	}
	return nil, err
}

// chat performs a single POST /chat round trip
func (c *Client) chat(ctx context.Context, req *task.Request, sessionID string) (*task.Result, error) {
	start := time.Now()
	body := chatRequest{
		Message:         req.Description,
		TaskDescription: req.Description,
		SessionID:       sessionID,
	}

	status, raw, err := c.do(ctx, OpSubmit, http.MethodPost, "/chat", body, req.ID)
	if err != nil {
		err.SessionID = sessionID
		return nil, err
	}
	endpoint := c.resolve("/chat")

	var resp chatResponse
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
		return nil, &Error{
			Kind:       KindProtocol,
			Op:         OpSubmit,
			Endpoint:   endpoint,
			SessionID:  sessionID,
			StatusCode: status,
			Detail:     "undecodable response: " + truncate(string(raw), 512),
			Cause:      jsonErr,
			// the remote answered, so it may have acted
			Ambiguous: true,
		}
	}
	if strings.TrimSpace(resp.Status) == "" {
		return nil, &Error{
			Kind:       KindProtocol,
			Op:         OpSubmit,
			Endpoint:   endpoint,
			SessionID:  sessionID,
			StatusCode: status,
			Detail:     "response has no status: " + truncate(string(raw), 512),
			Ambiguous:  true,
		}
	}

	text := resp.text()
	if !resp.succeeded() {
		e := classifyRemoteFailure(OpSubmit, endpoint, status, text)
		e.SessionID = sessionID
		if e.Detail == "" {
			e.Detail = "remote reported status " + resp.Status
		}
		return nil, e
	}

	if resp.SessionID != "" && resp.SessionID != sessionID {
		c.logger.Warn("Remote answered with a different session; keeping ours", logger.Fields{
			"request_id":     req.ID,
			"session_id":     sessionID,
			"remote_session": resp.SessionID,
		})
	}

	now := time.Now()
	return &task.Result{
		RequestID:   req.ID,
		SessionID:   sessionID,
		Status:      task.StatusSuccess,
		Text:        text,
		Summary:     task.Summarize(text),
		Payload:     json.RawMessage(raw),
		StatusCode:  status,
		CompletedAt: now.UTC(),
		Duration:    now.Sub(start),
	}, nil
}

// CreateSession asks the remote to allocate a new session
func (c *Client) CreateSession(ctx context.Context) (_ string, err error) {
	defer c.track(OpCreateSession)(&err)

	status, raw, derr := c.do(ctx, OpCreateSession, http.MethodPost, "/session/create", nil, "")
	if derr != nil {
		return "", derr
	}

	var resp createSessionResponse
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil || resp.SessionID == "" {
		return "", &Error{
			Kind:       KindProtocol,
			Op:         OpCreateSession,
			Endpoint:   c.resolve("/session/create"),
			StatusCode: status,
			Detail:     "response has no session_id: " + truncate(string(raw), 512),
			Cause:      jsonErr,
		}
	}

	c.logger.Debug("Remote session created", logger.Fields{"session_id": resp.SessionID})
	return resp.SessionID, nil
}

// ConfigureSession pushes provider settings to an existing session
func (c *Client) ConfigureSession(ctx context.Context, sessionID string, cfg SessionConfig) (err error) {
	if sessionID == "" {
		return invalidInput(OpConfigureSession, fmt.Errorf("session ID cannot be empty"))
	}
	defer c.track(OpConfigureSession)(&err)

	body := configureSessionRequest{SessionID: sessionID, Config: cfg}
	if _, _, derr := c.do(ctx, OpConfigureSession, http.MethodPost, "/session/config", body, ""); derr != nil {
		derr.SessionID = sessionID
		return derr
	}
	return nil
}

// GetSession returns the remote's view of a session
func (c *Client) GetSession(ctx context.Context, sessionID string) (_ *SessionInfo, err error) {
	if sessionID == "" {
		return nil, invalidInput(OpGetSession, fmt.Errorf("session ID cannot be empty"))
	}
	defer c.track(OpGetSession)(&err)

	var info SessionInfo
	if derr := c.getJSON(ctx, OpGetSession, "/session/"+url.PathEscape(sessionID), &info); derr != nil {
		derr.SessionID = sessionID
		return nil, derr
	}
	return &info, nil
}

// DeleteSession discards a session on the remote. It takes the session's
// guard first, so it never runs while a task is in flight on that session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) (err error) {
	if sessionID == "" {
		return invalidInput(OpDeleteSession, fmt.Errorf("session ID cannot be empty"))
	}
	defer c.track(OpDeleteSession)(&err)

	release, gerr := c.guards.acquire(ctx, sessionID, c.config.Policy)
	if gerr != nil {
		return guardError(OpDeleteSession, sessionID, gerr)
	}
	defer release()

	if derr := c.deleteSession(ctx, sessionID); derr != nil {
		return derr
	}
	c.logger.Info("Remote session deleted", logger.Fields{"session_id": sessionID})
	return nil
}

func (c *Client) deleteSession(ctx context.Context, sessionID string) *Error {
	if _, _, err := c.do(ctx, OpDeleteSession, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, ""); err != nil {
		err.SessionID = sessionID
		return err
	}
	return nil
}

// Messages returns the chat transcript the remote kept for a session
func (c *Client) Messages(ctx context.Context, sessionID string) (_ []json.RawMessage, err error) {
	if sessionID == "" {
		return nil, invalidInput(OpMessages, fmt.Errorf("session ID cannot be empty"))
	}
	defer c.track(OpMessages)(&err)

	var resp messagesResponse
	if derr := c.getJSON(ctx, OpMessages, "/session/"+url.PathEscape(sessionID)+"/messages", &resp); derr != nil {
		derr.SessionID = sessionID
		return nil, derr
	}
	return resp.Messages, nil
}

// Screens lists the displays available on the remote machine
func (c *Client) Screens(ctx context.Context) (_ *Screens, err error) {
	defer c.track(OpScreens)(&err)

	var screens Screens
	if derr := c.getJSON(ctx, OpScreens, "/screens", &screens); derr != nil {
		return nil, derr
	}
	return &screens, nil
}

// Health checks the remote service
func (c *Client) Health(ctx context.Context) (_ *Health, err error) {
	defer c.track(OpHealth)(&err)

	var health Health
	if derr := c.getJSON(ctx, OpHealth, "/health", &health); derr != nil {
		return nil, derr
	}
	return &health, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) *Error {
	status, raw, err := c.do(ctx, op, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	if jsonErr := json.Unmarshal(raw, out); jsonErr != nil {
		return &Error{
			Kind:       KindProtocol,
			Op:         op,
			Endpoint:   c.resolve(path),
			StatusCode: status,
			Detail:     "undecodable response: " + truncate(string(raw), 512),
			Cause:      jsonErr,
		}
	}
	return nil
}

// do performs one HTTP round trip bounded by the configured timeout and
// classifies transport and HTTP-level failures.
func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, requestID string) (int, []byte, *Error) {
	endpoint := c.resolve(path)

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, invalidInput(op, fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, invalidInput(op, fmt.Errorf("failed to build request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, classifyTransport(op, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		e := classifyTransport(op, endpoint, err)
		e.StatusCode = resp.StatusCode
		// headers arrived, so the remote saw the request
		e.Ambiguous = true
		return resp.StatusCode, nil, e
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, raw, classifyHTTP(op, endpoint, resp.StatusCode, raw)
	}
	return resp.StatusCode, raw, nil
}

// track reports op as started; the returned func reports how it finished
func (c *Client) track(op string) func(err *error) {
	start := time.Now()
	c.observer.DispatchStarted(op)
	return func(err *error) {
		c.observer.DispatchFinished(op, KindOf(*err), time.Since(start))
	}
}

// resolve joins an already escaped path onto the base URL
func (c *Client) resolve(path string) string {
	return strings.TrimSuffix(c.base.String(), "/") + path
}

func (c *Client) logFailure(op string, req *task.Request, err error) {
	fields := logger.Fields{
		"request_id": req.ID,
		"session_id": req.SessionID,
		"error":      err,
	}
	switch KindOf(err) {
	case KindInvalidInput, KindConcurrentSession, KindRemoteTask:
		c.logger.Warn("Task not completed", fields)
	default:
		c.logger.Error("Task dispatch failed", fields)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
