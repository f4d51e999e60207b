package storage

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"brewcore/pkg/domain"
)

// MetricsRecorder observes the outcome and duration of every repository
// operation.
type MetricsRecorder interface {
	Observe(entity, operation string, err error, duration time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) Observe(string, string, error, time.Duration) {}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsValidation(err):
		return "validation_error"
	case domain.IsLockTimeout(err):
		return "lock_timeout"
	default:
		return "error"
	}
}

var expvarSeq uint64

// ExpvarRecorder publishes aggregate timing and outcome counters via
// expvar, for deployments that prefer process-local metrics without an
// external scrape target. Totals are kept in milliseconds per
// entity/operation pair.
type ExpvarRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	outcomes  map[string]map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Outcomes    map[string]map[string]int64 `json:"outcomes_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder constructs an expvar-backed recorder published under
// name. An empty name generates a unique one.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("brewcore_storage_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarRecorder{
		name:      name,
		durations: make(map[string]float64),
		outcomes:  make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	durations := make(map[string]float64, len(r.durations))
	for k, v := range r.durations {
		durations[k] = v
	}
	outcomes := make(map[string]map[string]int64, len(r.outcomes))
	for k, counts := range r.outcomes {
		cpy := make(map[string]int64, len(counts))
		for status, n := range counts {
			cpy[status] = n
		}
		outcomes[k] = cpy
	}
	return ExpvarSnapshot{DurationsMS: durations, Outcomes: outcomes, RecordedAt: time.Now().UTC()}
}

// Observe implements MetricsRecorder.
func (r *ExpvarRecorder) Observe(entity, operation string, err error, duration time.Duration) {
	key := entity + "." + operation
	status := outcome(err)
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	r.durations[key] += ms
	if _, ok := r.outcomes[key]; !ok {
		r.outcomes[key] = make(map[string]int64, 2)
	}
	r.outcomes[key][status]++
	r.mu.Unlock()
}

// PrometheusRecorder exports operation counters, duration histograms, and a
// lock-timeout counter through a prometheus registerer.
type PrometheusRecorder struct {
	operations   *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	lockTimeouts prometheus.Counter
}

// NewPrometheusRecorder registers the store's collectors with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewcore_storage_operations_total",
			Help: "Repository operations by entity, operation, and outcome.",
		}, []string{"entity", "operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brewcore_storage_operation_seconds",
			Help:    "Repository operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity", "operation"}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewcore_storage_lock_timeouts_total",
			Help: "Lock acquisitions that expired before the lock was granted.",
		}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.lockTimeouts} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register storage collector: %w", err)
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(entity, operation string, err error, duration time.Duration) {
	r.operations.WithLabelValues(entity, operation, outcome(err)).Inc()
	r.durations.WithLabelValues(entity, operation).Observe(duration.Seconds())
	if domain.IsLockTimeout(err) {
		r.lockTimeouts.Inc()
	}
}
