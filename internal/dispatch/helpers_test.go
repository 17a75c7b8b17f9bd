package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VyoJ/SahayakAI/internal/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

// fakeRemote is an httptest-backed Computer Use API. POST /session/create
// hands out session-1, session-2, ... unless a test replaces it.
type fakeRemote struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

func newFakeRemote(t *testing.T) *fakeRemote {
	f := &fakeRemote{t: t, handlers: make(map[string]http.HandlerFunc)}
	var created atomic.Int32
	f.handlers[http.MethodPost+" /session/create"] = func(w http.ResponseWriter, r *http.Request) {
		id := fmt.Sprintf("session-%d", created.Add(1))
		respondJSON(http.StatusOK, `{"session_id":"`+id+`","status":"created"}`)(w, r)
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = h
}

func (f *fakeRemote) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	h, ok := f.handlers[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeRemote) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// requestsTo returns the recorded requests for one method and path
func (f *fakeRemote) requestsTo(method, path string) []recordedRequest {
	var out []recordedRequest
	for _, r := range f.recorded() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRemote) chats() []recordedRequest {
	return f.requestsTo(http.MethodPost, "/chat")
}

func (f *fakeRemote) client(mutate ...func(*Config)) *Client {
	cfg := Config{
		Endpoint: f.server.URL,
		Timeout:  5 * time.Second,
		Logger:   quietLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(f.t, err)
	c.newTimer = (&timerLog{}).newTimer
	return c
}

func respondJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func quietLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, "debug", "text", "test")
}

// timerLog hands out timers that fire immediately and records every delay.
// When onStart is set it runs instead of firing.
type timerLog struct {
	mu      sync.Mutex
	delays  []time.Duration
	onStart func()
}

func (l *timerLog) newTimer() backoff.Timer {
	return &instantTimer{log: l, c: make(chan time.Time, 1)}
}

func (l *timerLog) recorded() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

type instantTimer struct {
	log *timerLog
	c   chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.log.mu.Lock()
	t.log.delays = append(t.log.delays, d)
	onStart := t.log.onStart
	t.log.mu.Unlock()

	if onStart != nil {
		onStart()
		return
	}
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

// stubDoer fails or answers every request without a network
type stubDoer struct {
	calls atomic.Int32
	fn    func(req *http.Request) (*http.Response, error)
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	return s.fn(req)
}

func stubClient(t *testing.T, doer Doer, mutate ...func(*Config)) *Client {
	cfg := Config{
		Endpoint:   "http://remote.test:7888",
		Timeout:    time.Second,
		HTTPClient: doer,
		Logger:     quietLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	c.newTimer = (&timerLog{}).newTimer
	return c
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}
