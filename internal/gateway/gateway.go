package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/VyoJ/SahayakAI/internal/dispatch"
	"github.com/VyoJ/SahayakAI/internal/logger"
	"github.com/VyoJ/SahayakAI/internal/monitoring"
	"github.com/VyoJ/SahayakAI/internal/storage"
)

// Remote is the part of the dispatch client the gateway drives
type Remote interface {
	dispatch.Submitter
	Health(ctx context.Context) (*dispatch.Health, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Gateway exposes conversations over HTTP
type Gateway struct {
	addr         string
	remote       Remote
	store        storage.SessionStore
	policy       dispatch.SessionPolicy
	metrics      *monitoring.Metrics
	metricsPage  http.Handler
	writeTimeout time.Duration
	logger       *logger.Logger

	mu            sync.Mutex
	conversations map[string]*dispatch.Conversation

	server   *http.Server
	serverMu sync.RWMutex

	// Shutdown
	ready     chan struct{}
	readyOnce sync.Once
}

// Config holds gateway configuration
type Config struct {
	Addr   string // e.g., ":8090"
	Remote Remote
	Store  storage.SessionStore
	Policy dispatch.SessionPolicy

	// Metrics backs /api/stats; MetricsHandler serves /metrics. Both optional.
	Metrics        *monitoring.Metrics
	MetricsHandler http.Handler

	// WriteTimeout bounds a whole request, so it must exceed the remote timeout
	WriteTimeout time.Duration

	Logger *logger.Logger
}

// New creates a new gateway instance
func New(cfg Config) (*Gateway, error) {
	if cfg.Remote == nil {
		return nil, errors.New("gateway requires a remote client")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Policy == "" {
		cfg.Policy = dispatch.PolicyReject
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}

	return &Gateway{
		addr:          cfg.Addr,
		remote:        cfg.Remote,
		store:         cfg.Store,
		policy:        cfg.Policy,
		metrics:       cfg.Metrics,
		metricsPage:   cfg.MetricsHandler,
		writeTimeout:  cfg.WriteTimeout,
		logger:        logger.OrDefault(cfg.Logger, "gateway"),
		conversations: make(map[string]*dispatch.Conversation),
		ready:         make(chan struct{}),
	}, nil
}

// Handler returns the routed HTTP handler with middleware applied
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Conversation endpoints
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", g.handleResetConversation)
	mux.HandleFunc("POST /api/conversations/{id}/tasks", g.handleSubmitTask)

	// Operational endpoints
	mux.HandleFunc("GET /api/stats", g.handleStats)
	mux.HandleFunc("GET /health", g.handleHealth)
	if g.metricsPage != nil {
		mux.Handle("GET /metrics", g.metricsPage)
	}

	return g.withLogging(g.withCORS(mux))
}

// Start starts the HTTP server and blocks until it stops
func (g *Gateway) Start() error {
	server := &http.Server{
		Addr:         g.addr,
		Handler:      g.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: g.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g.serverMu.Lock()
	g.server = server
	g.serverMu.Unlock()

	g.readyOnce.Do(func() { close(g.ready) })

	g.logger.Info("Starting gateway server", logger.Fields{
		"address": g.addr,
		"policy":  string(g.policy),
	})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready returns a channel that is closed when the server is about to listen
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Stop gracefully shuts down the server
func (g *Gateway) Stop(ctx context.Context) error {
	g.serverMu.RLock()
	server := g.server
	g.serverMu.RUnlock()

	if server == nil {
		return nil
	}

	g.logger.Info("Shutting down gateway server", logger.Fields{})
	return server.Shutdown(ctx)
}

// conversation returns the live conversation for id, restoring a stored
// binding the first time it is seen. Conversations are tracked until they
// are left unbound; see release.
func (g *Gateway) conversation(ctx context.Context, id string) (*dispatch.Conversation, error) {
	return g.load(ctx, id, true)
}

// lookup is conversation for read-only requests. An unbound conversation is
// returned without being tracked.
func (g *Gateway) lookup(ctx context.Context, id string) (*dispatch.Conversation, error) {
	return g.load(ctx, id, false)
}

func (g *Gateway) load(ctx context.Context, id string, track bool) (*dispatch.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if conv, ok := g.conversations[id]; ok {
		return conv, nil
	}

	conv := dispatch.NewConversation(g.remote,
		dispatch.WithConversationID(id),
		dispatch.WithStore(g.store),
		dispatch.WithPolicy(g.policy),
		dispatch.WithLogger(g.logger.WithComponent("conversation")),
	)
	if err := conv.Resume(ctx); err != nil {
		return nil, err
	}
	if track || conv.State() == dispatch.StateActive {
		g.conversations[id] = conv
	}
	return conv, nil
}

// release stops tracking conv once it is unbound and idle. A later request
// for the same id starts from the store again.
func (g *Gateway) release(id string, conv *dispatch.Conversation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conversations[id] != conv {
		return
	}
	if conv.State() == dispatch.StateUninitialized && !conv.Busy() {
		delete(g.conversations, id)
	}
}

// tracked returns how many conversations are held in memory
func (g *Gateway) tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conversations)
}

// conversationIDs lists every conversation known in memory or in the store
func (g *Gateway) conversationIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	g.mu.Lock()
	for id := range g.conversations {
		seen[id] = struct{}{}
	}
	g.mu.Unlock()

	bindings, err := g.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		seen[b.ConversationID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware: withLogging logs all HTTP requests
func (g *Gateway) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		g.logger.Debug("HTTP request", logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}

// Middleware: withCORS adds CORS headers
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
