package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:       KindAuth,
		Op:         OpSubmit,
		Endpoint:   "http://remote:7888/chat",
		StatusCode: 401,
		Detail:     "invalid x-api-key",
	}
	assert.Equal(t, "submit http://remote:7888/chat: auth (HTTP 401): invalid x-api-key", err.Error())

	err = &Error{Kind: KindTimeout, Op: OpSubmit, Detail: "request timed out", Cause: context.DeadlineExceeded, Ambiguous: true}
	assert.Contains(t, err.Error(), "context deadline exceeded")
	assert.Contains(t, err.Error(), "outcome unknown")
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindConnection, Cause: cause})

	assert.ErrorIs(t, err, ErrConnection)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
	assert.False(t, IsAmbiguous(cause))
}

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		ambiguous bool
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"wrapped deadline", &url.Error{Op: "Post", URL: "http://x", Err: context.DeadlineExceeded}, KindTimeout, true},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindTimeout, true},
		{"dial refused", &url.Error{Op: "Post", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, KindConnection, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "remote"}, KindConnection, false},
		{"reset", &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}, KindConnection, true},
		{"canceled", context.Canceled, KindConnection, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classifyTransport(OpSubmit, "http://x/chat", tt.err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.ambiguous, e.Ambiguous)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		kind      Kind
		temporary bool
	}{
		{http.StatusUnauthorized, "", KindAuth, false},
		{http.StatusForbidden, "nope", KindAuth, false},
		{http.StatusTooManyRequests, "", KindRateLimited, true},
		{http.StatusInternalServerError, "Error code: 401 - authentication_error", KindAuth, false},
		{http.StatusServiceUnavailable, "Anthropic API: rate limit reached", KindRateLimited, true},
		{http.StatusBadRequest, "unknown field", KindRemoteTask, false},
		{http.StatusNotFound, "", KindRemoteTask, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.kind), func(t *testing.T) {
			e := classifyHTTP(OpSubmit, "http://x/chat", tt.status, []byte(tt.body))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.temporary, e.Temporary)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.False(t, e.Ambiguous)
			if tt.body != "" {
				assert.Equal(t, tt.body, e.Detail)
			} else {
				assert.Equal(t, http.StatusText(tt.status), e.Detail)
			}
		})
	}
}

func TestClassifyText(t *testing.T) {
	tests := []struct {
		text string
		want Kind
	}{
		{"Error: Error code: 401 - {'type': 'authentication_error'}", KindAuth},
		{"permission_error: key lacks scope", KindAuth},
		{"Incorrect API key provided: sk-...", KindAuth},
		{"Error code: 429 - rate_limit_error", KindRateLimited},
		{"Too Many Requests", KindRateLimited},
		{"You exceeded your current quota exceeded", KindRateLimited},
		{"Request was throttled", KindRateLimited},
		{"Could not locate the button", KindRemoteTask},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyText(tt.text, KindRemoteTask), tt.text)
	}
}

func TestGuardError(t *testing.T) {
	e := guardError(OpSubmit, "abc", errSessionBusy)
	assert.Equal(t, KindConcurrentSession, e.Kind)
	assert.Equal(t, errSessionBusy.Error(), e.Detail)

	e = guardError(OpSubmit, "abc", context.DeadlineExceeded)
	assert.Equal(t, KindConcurrentSession, e.Kind)
	assert.ErrorIs(t, e, context.DeadlineExceeded)
	assert.NotErrorIs(t, e, ErrTimeout)
}
