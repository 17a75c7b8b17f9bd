package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a dispatch failure
type Kind string

const (
	// KindInvalidInput is a caller mistake caught before any network activity
	KindInvalidInput Kind = "invalid_input"
	// KindConnection means the remote could not be reached or the connection broke
	KindConnection Kind = "connection"
	// KindTimeout means the call ran out of time; the remote may have acted
	KindTimeout Kind = "timeout"
	// KindAuth is a credential or permission failure, usually from the model provider
	KindAuth Kind = "auth"
	// KindRemoteTask means the remote ran but the requested action failed
	KindRemoteTask Kind = "remote_task"
	// KindConcurrentSession means another call is already in flight on the session
	KindConcurrentSession Kind = "concurrent_session"
	// KindRateLimited means the remote or its provider throttled the request
	KindRateLimited Kind = "rate_limited"
	// KindProtocol means the remote answered with something we cannot interpret
	KindProtocol Kind = "protocol"
)

// Operation names used in errors, logs and metrics
const (
	OpSubmit           = "submit"
	OpCreateSession    = "create_session"
	OpConfigureSession = "configure_session"
	OpGetSession       = "get_session"
	OpDeleteSession    = "delete_session"
	OpMessages         = "messages"
	OpScreens          = "screens"
	OpHealth           = "health"
	OpReset            = "reset"
)

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinels for errors.Is checks against *Error values
var (
	ErrInvalidInput      error = kindSentinel(KindInvalidInput)
	ErrConnection        error = kindSentinel(KindConnection)
	ErrTimeout           error = kindSentinel(KindTimeout)
	ErrAuth              error = kindSentinel(KindAuth)
	ErrRemoteTask        error = kindSentinel(KindRemoteTask)
	ErrConcurrentSession error = kindSentinel(KindConcurrentSession)
	ErrRateLimited       error = kindSentinel(KindRateLimited)
	ErrProtocol          error = kindSentinel(KindProtocol)
)

// Error is returned by every dispatch operation. Detail carries the remote's
// text verbatim.
type Error struct {
	Kind       Kind
	Op         string
	Endpoint   string
	SessionID  string
	StatusCode int
	Detail     string

	// Ambiguous is set when the remote may already have performed the action
	Ambiguous bool

	// Temporary is set when the same request may succeed later unchanged
	Temporary bool

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Endpoint != "" {
		b.WriteString(" ")
		b.WriteString(e.Endpoint)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil && e.Cause.Error() != e.Detail {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.Ambiguous {
		b.WriteString(" (outcome unknown, the remote may have acted)")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the package sentinels by kind
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && Kind(k) == e.Kind
}

// KindOf returns the kind of a dispatch error, or "" for other errors
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsAmbiguous reports whether err leaves the remote side effect unknown
func IsAmbiguous(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Ambiguous
}

func invalidInput(op string, cause error) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Detail: cause.Error(), Cause: cause}
}

// classifyTransport maps a failed round trip to Connection or Timeout.
// Dial and DNS failures never reached the remote, anything else might have.
func classifyTransport(op, endpoint string, err error) *Error {
	e := &Error{Op: op, Endpoint: endpoint, Cause: err, Ambiguous: true}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = KindTimeout
		e.Detail = "request timed out"
	case errors.Is(err, context.Canceled):
		e.Kind = KindConnection
		e.Detail = "request canceled"
	default:
		e.Kind = KindConnection
		e.Detail = "could not reach remote"
		if neverSent(err) {
			e.Ambiguous = false
		}
	}
	return e
}

func neverSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// classifyHTTP maps an HTTP error status plus body to a kind
func classifyHTTP(op, endpoint string, status int, body []byte) *Error {
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(status)
	}
	e := &Error{Op: op, Endpoint: endpoint, StatusCode: status, Detail: detail}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.Temporary = true
	default:
		e.Kind = classifyText(detail, KindRemoteTask)
		e.Temporary = e.Kind == KindRateLimited
	}
	return e
}

// classifyRemoteFailure handles a remote that answered but reported failure
func classifyRemoteFailure(op, endpoint string, status int, text string) *Error {
	e := &Error{
		Op:         op,
		Endpoint:   endpoint,
		StatusCode: status,
		Detail:     text,
		Kind:       classifyText(text, KindRemoteTask),
	}
	e.Temporary = e.Kind == KindRateLimited
	return e
}

// Markers the remote relays from provider SDK errors, e.g.
// "Error: Error code: 401 - {'type': 'authentication_error', ...}".
var (
	authMarkers = []string{
		"error code: 401",
		"error code: 403",
		"authentication_error",
		"permission_error",
		"invalid x-api-key",
		"invalid api key",
		"incorrect api key",
	}
	rateLimitMarkers = []string{
		"error code: 429",
		"rate limit",
		"rate_limit",
		"too many requests",
		"too many tokens",
		"quota exceeded",
		"throttl",
	}
)

func classifyText(text string, fallback Kind) Kind {
	lower := strings.ToLower(text)
	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return KindAuth
		}
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return KindRateLimited
		}
	}
	return fallback
}
