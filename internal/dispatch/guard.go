package dispatch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SessionPolicy decides what happens to a second call on a busy session
type SessionPolicy string

const (
	// PolicyReject fails the second call with KindConcurrentSession
	PolicyReject SessionPolicy = "reject"
	// PolicyWait blocks the second call until the first finishes or ctx ends
	PolicyWait SessionPolicy = "wait"
)

var errSessionBusy = errors.New("another task is already running on this session")

// sessionGuards hands out one permit per session identifier. Entries are
// reference counted and dropped once nobody holds or waits on them.
type sessionGuards struct {
	mu      sync.Mutex
	entries map[string]*guardEntry
}

type guardEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newSessionGuards() *sessionGuards {
	return &sessionGuards{entries: make(map[string]*guardEntry)}
}

// acquire takes the permit for key. The returned release must be called exactly once.
func (g *sessionGuards) acquire(ctx context.Context, key string, policy SessionPolicy) (func(), error) {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		e = &guardEntry{sem: semaphore.NewWeighted(1)}
		g.entries[key] = e
	}
	e.refs++
	g.mu.Unlock()

	if policy == PolicyWait {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			g.unref(key, e)
			return nil, err
		}
	} else if !e.sem.TryAcquire(1) {
		g.unref(key, e)
		return nil, errSessionBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			g.unref(key, e)
		})
	}, nil
}

func (g *sessionGuards) unref(key string, e *guardEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	if e.refs == 0 && g.entries[key] == e {
		delete(g.entries, key)
	}
}

// busy reports whether key currently has a holder or waiter
func (g *sessionGuards) busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[key]
	return ok
}

func (g *sessionGuards) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// guardError wraps an acquire failure for the caller
func guardError(op, sessionID string, err error) *Error {
	e := &Error{Kind: KindConcurrentSession, Op: op, SessionID: sessionID, Cause: err}
	if errors.Is(err, errSessionBusy) {
		e.Detail = errSessionBusy.Error()
	} else {
		e.Detail = "gave up waiting for the session to become free"
	}
	return e
}
