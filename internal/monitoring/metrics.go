package monitoring

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VyoJ/SahayakAI/internal/dispatch"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "sahayak"

	// number of recent durations kept for Snapshot percentiles
	durationWindow = 1000

	outcomeSuccess = "success"
)

// Metrics records dispatch activity. It exports Prometheus collectors and
// keeps in-process counters for Snapshot.
type Metrics struct {
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   *prometheus.GaugeVec
	retries    *prometheus.CounterVec

	// Task metrics
	tasksStarted   int64
	tasksSucceeded int64
	tasksFailed    int64
	tasksRetried   int64
	inProgress     int32

	mu              sync.RWMutex
	failuresByKind  map[dispatch.Kind]int64
	processingTimes []time.Duration
	lastDispatch    time.Time
	startTime       time.Time
}

var _ dispatch.Observer = (*Metrics)(nil)

// MetricsSnapshot provides a point-in-time view of dispatch activity
type MetricsSnapshot struct {
	TasksStarted    int64                   `json:"tasks_started"`
	TasksSucceeded  int64                   `json:"tasks_succeeded"`
	TasksFailed     int64                   `json:"tasks_failed"`
	TasksRetried    int64                   `json:"tasks_retried"`
	TasksInProgress int32                   `json:"tasks_in_progress"`
	FailuresByKind  map[dispatch.Kind]int64 `json:"failures_by_kind"`

	AvgDuration time.Duration `json:"avg_duration"`
	P95Duration time.Duration `json:"p95_duration"`
	P99Duration time.Duration `json:"p99_duration"`

	Uptime       time.Duration `json:"uptime"`
	LastDispatch time.Time     `json:"last_dispatch"`
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registerer. Registering twice on the same registry reuses
// the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		failuresByKind:  make(map[dispatch.Kind]int64),
		processingTimes: make([]time.Duration, 0, durationWindow),
		startTime:       time.Now(),
	}

	var err error
	if m.dispatches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Remote calls by operation and outcome (success or error kind).",
	}, []string{"op", "outcome"})); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Wall time of remote calls including retries.",
		// UI automation tasks routinely run for tens of seconds
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"op"})); err != nil {
		return nil, err
	}
	if m.inFlight, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_in_flight",
		Help:      "Remote calls currently running.",
	}, []string{"op"})); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_retries_total",
		Help:      "Retries scheduled by error kind.",
	}, []string{"op", "kind"})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("failed to register collector: %w", err)
	}
	return c, nil
}

// DispatchStarted records a call entering the remote
func (m *Metrics) DispatchStarted(op string) {
	m.inFlight.WithLabelValues(op).Inc()
	if op == dispatch.OpSubmit {
		atomic.AddInt64(&m.tasksStarted, 1)
		atomic.AddInt32(&m.inProgress, 1)
	}
}

// DispatchFinished records a completed call. kind is empty on success.
func (m *Metrics) DispatchFinished(op string, kind dispatch.Kind, d time.Duration) {
	outcome := outcomeSuccess
	if kind != "" {
		outcome = string(kind)
	}
	m.inFlight.WithLabelValues(op).Dec()
	m.dispatches.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())

	if op != dispatch.OpSubmit {
		return
	}
	atomic.AddInt32(&m.inProgress, -1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDispatch = time.Now()
	if kind == "" {
		atomic.AddInt64(&m.tasksSucceeded, 1)
	} else {
		atomic.AddInt64(&m.tasksFailed, 1)
		m.failuresByKind[kind]++
	}

	m.processingTimes = append(m.processingTimes, d)
	if len(m.processingTimes) > durationWindow {
		m.processingTimes = m.processingTimes[1:]
	}
}

// RetryScheduled records a retry decision
func (m *Metrics) RetryScheduled(op string, kind dispatch.Kind) {
	m.retries.WithLabelValues(op, string(kind)).Inc()
	if op == dispatch.OpSubmit {
		atomic.AddInt64(&m.tasksRetried, 1)
	}
}

// calculatePercentiles returns avg, p95 and p99 of recent durations (caller must hold lock)
func (m *Metrics) calculatePercentiles() (avg, p95, p99 time.Duration) {
	n := len(m.processingTimes)
	if n == 0 {
		return 0, 0, 0
	}

	sorted := make([]time.Duration, n)
	copy(sorted, m.processingTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	avg = sum / time.Duration(n)
	return avg, percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// percentile uses nearest rank on sorted input
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(p*float64(len(sorted))+0.999999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Snapshot returns a point-in-time snapshot of dispatch activity
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avg, p95, p99 := m.calculatePercentiles()
	byKind := make(map[dispatch.Kind]int64, len(m.failuresByKind))
	for k, v := range m.failuresByKind {
		byKind[k] = v
	}

	return MetricsSnapshot{
		TasksStarted:    atomic.LoadInt64(&m.tasksStarted),
		TasksSucceeded:  atomic.LoadInt64(&m.tasksSucceeded),
		TasksFailed:     atomic.LoadInt64(&m.tasksFailed),
		TasksRetried:    atomic.LoadInt64(&m.tasksRetried),
		TasksInProgress: atomic.LoadInt32(&m.inProgress),
		FailuresByKind:  byKind,
		AvgDuration:     avg,
		P95Duration:     p95,
		P99Duration:     p99,
		Uptime:          time.Since(m.startTime),
		LastDispatch:    m.lastDispatch,
	}
}
