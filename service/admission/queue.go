package admission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inferenceops/fractal/internal/clock"
	madmission "github.com/inferenceops/fractal/model/admission"
)

// ErrNotInFlight is returned when completing a request that was never
// dequeued or already finished.
var ErrNotInFlight = errors.New("request not in flight")

// Config represents queue manager configuration. The efficiency
// normalisation constants are policy knobs with no intrinsic product
// meaning.
type Config struct {
	// MaxQueueSize bounds the pending queue; arrivals beyond it are
	// rejected.
	MaxQueueSize int `json:"maxQueueSize" yaml:"maxQueueSize" mapstructure:"maxQueueSize"`

	// WaitWindowSize bounds the rolling wait-time sample window.
	WaitWindowSize int `json:"waitWindowSize" yaml:"waitWindowSize" mapstructure:"waitWindowSize"`

	// HistoryLimit caps the completed-request archive.
	HistoryLimit int `json:"historyLimit" yaml:"historyLimit" mapstructure:"historyLimit"`

	// ThroughputWindow is the trailing window for the QPS figure.
	ThroughputWindow time.Duration `json:"throughputWindow" yaml:"throughputWindow" mapstructure:"throughputWindow"`

	// P95MinSamples is the minimum rolling-window population before a P95
	// is reported.
	P95MinSamples int `json:"p95MinSamples" yaml:"p95MinSamples" mapstructure:"p95MinSamples"`

	// Efficiency score normalisation constants.
	EfficiencyDepthNorm      float64       `json:"efficiencyDepthNorm" yaml:"efficiencyDepthNorm" mapstructure:"efficiencyDepthNorm"`
	EfficiencyWaitNorm       time.Duration `json:"efficiencyWaitNorm" yaml:"efficiencyWaitNorm" mapstructure:"efficiencyWaitNorm"`
	EfficiencyThroughputNorm float64       `json:"efficiencyThroughputNorm" yaml:"efficiencyThroughputNorm" mapstructure:"efficiencyThroughputNorm"`
}

// DefaultConfig returns the default queue manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:             1000,
		WaitWindowSize:           512,
		HistoryLimit:             256,
		ThroughputWindow:         60 * time.Second,
		P95MinSamples:            20,
		EfficiencyDepthNorm:      100,
		EfficiencyWaitNorm:       10 * time.Second,
		EfficiencyThroughputNorm: 50,
	}
}

// Metrics is the queue-side reporting contract consumed by the flow
// controller and external reporters.
type Metrics struct {
	Depth           int           `json:"current_depth"`
	MaxDepth        int           `json:"max_depth"`
	CurrentWait     time.Duration `json:"current_wait"`
	AvgWait         time.Duration `json:"average_wait"`
	P95Wait         time.Duration `json:"p95_wait"`
	ThroughputQPS   float64       `json:"throughput_qps"`
	TotalEnqueued   int           `json:"total_enqueued"`
	TotalRejected   int           `json:"total_rejected"`
	TotalTimedOut   int           `json:"total_timed_out"`
	TotalCompleted  int           `json:"total_completed"`
	RejectionRate   float64       `json:"rejection_rate"`
	TimeoutRate     float64       `json:"timeout_rate"`
	EfficiencyScore float64       `json:"efficiency_score"`
}

// Status combines queue metrics with the latest flow-control decision.
type Status struct {
	Metrics Metrics  `json:"metrics"`
	Flow    Decision `json:"flow_control"`
}

// Manager is the priority admission queue. Strict priority across bands,
// FIFO within a band; expiry is lazy — expired entries are purged on the
// next dequeue sweep and keep occupying their slot until then.
type Manager struct {
	config Config
	flow   *FlowController

	mu          sync.Mutex
	queue       []*madmission.Request
	processing  map[string]*madmission.Request
	waitWindow  []time.Duration
	completions []time.Time
	history     []*madmission.Completed
	maxDepth    int

	totalEnqueued  int
	totalRejected  int
	totalTimedOut  int
	totalCompleted int
}

// Option customises the manager at construction time.
type Option func(*Manager)

// WithConfig sets the manager configuration.
func WithConfig(config Config) Option {
	return func(m *Manager) {
		m.config = config
	}
}

// NewManager creates a queue manager guarded by the supplied flow
// controller.
func NewManager(flow *FlowController, options ...Option) *Manager {
	m := &Manager{
		config:     DefaultConfig(),
		flow:       flow,
		processing: map[string]*madmission.Request{},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Enqueue consults the flow controller with current metrics and either
// admits the request into its priority band or rejects it. Rejections are
// counted, never raised. The boolean reports admission; the error is
// reserved for validation failures.
func (m *Manager) Enqueue(req *madmission.Request) (bool, error) {
	if req == nil {
		return false, fmt.Errorf("%w: nil request", madmission.ErrValidation)
	}
	if req.ArrivalTime.IsZero() {
		req.ArrivalTime = clock.Now()
	}
	if err := req.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsLocked()
	if !m.flow.ShouldAccept(req, metrics) {
		m.totalRejected++
		return false, nil
	}
	if len(m.queue) >= m.config.MaxQueueSize {
		m.totalRejected++
		return false, nil
	}

	// Insert immediately before the first entry of strictly lower
	// priority, preserving FIFO within the band.
	idx := sort.Search(len(m.queue), func(i int) bool {
		return m.queue[i].Priority < req.Priority
	})
	m.queue = append(m.queue, nil)
	copy(m.queue[idx+1:], m.queue[idx:])
	m.queue[idx] = req

	m.totalEnqueued++
	if len(m.queue) > m.maxDepth {
		m.maxDepth = len(m.queue)
	}
	return true, nil
}

// Dequeue purges expired entries from the pending queue and the in-flight
// map, then pops the head into the in-flight map. Nil when the queue is
// empty.
func (m *Manager) Dequeue() *madmission.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := clock.Now()
	live := m.queue[:0]
	for _, req := range m.queue {
		if req.Expired(now) {
			m.totalTimedOut++
			continue
		}
		live = append(live, req)
	}
	m.queue = live

	for id, req := range m.processing {
		if req.Expired(now) {
			m.totalTimedOut++
			delete(m.processing, id)
		}
	}

	if len(m.queue) == 0 {
		return nil
	}
	head := m.queue[0]
	m.queue = m.queue[1:]
	m.processing[head.RequestID] = head
	return head
}

// Complete finishes an in-flight request: its queueing wait is recorded
// into the rolling window and the request is archived with completion
// metadata.
func (m *Manager) Complete(requestID string, processingTime time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.processing[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInFlight, requestID)
	}
	delete(m.processing, requestID)

	now := clock.Now()
	wait := now.Sub(req.ArrivalTime) - processingTime
	if wait < 0 {
		wait = 0
	}

	m.waitWindow = append(m.waitWindow, wait)
	if limit := m.config.WaitWindowSize; limit > 0 && len(m.waitWindow) > limit {
		m.waitWindow = m.waitWindow[len(m.waitWindow)-limit:]
	}

	m.completions = append(m.completions, now)
	m.pruneCompletionsLocked(now)

	m.history = append(m.history, &madmission.Completed{
		Request:        *req,
		CompletedAt:    now,
		WaitTime:       wait,
		ProcessingTime: processingTime,
	})
	if limit := m.config.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
	m.totalCompleted++
	return nil
}

func (m *Manager) pruneCompletionsLocked(now time.Time) {
	cutoff := now.Add(-m.config.ThroughputWindow)
	idx := 0
	for idx < len(m.completions) && m.completions[idx].Before(cutoff) {
		idx++
	}
	m.completions = m.completions[idx:]
}

// Metrics returns the current queue metrics.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked()
}

// Status returns the metrics paired with the latest flow decision.
func (m *Manager) Status() Status {
	return Status{Metrics: m.Metrics(), Flow: m.flow.LastDecision()}
}

// History returns a copy of the completed-request archive.
func (m *Manager) History() []madmission.Completed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]madmission.Completed, 0, len(m.history))
	for _, c := range m.history {
		out = append(out, *c)
	}
	return out
}

func (m *Manager) metricsLocked() Metrics {
	now := clock.Now()

	metrics := Metrics{
		Depth:          len(m.queue),
		MaxDepth:       m.maxDepth,
		TotalEnqueued:  m.totalEnqueued,
		TotalRejected:  m.totalRejected,
		TotalTimedOut:  m.totalTimedOut,
		TotalCompleted: m.totalCompleted,
	}

	for _, req := range m.queue {
		if wait := now.Sub(req.ArrivalTime); wait > metrics.CurrentWait {
			metrics.CurrentWait = wait
		}
	}

	if len(m.waitWindow) > 0 {
		var total time.Duration
		for _, w := range m.waitWindow {
			total += w
		}
		metrics.AvgWait = total / time.Duration(len(m.waitWindow))
	}
	if len(m.waitWindow) >= m.config.P95MinSamples && m.config.P95MinSamples > 0 {
		sorted := make([]time.Duration, len(m.waitWindow))
		copy(sorted, m.waitWindow)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		metrics.P95Wait = sorted[idx]
	}

	m.pruneCompletionsLocked(now)
	if window := m.config.ThroughputWindow.Seconds(); window > 0 {
		metrics.ThroughputQPS = float64(len(m.completions)) / window
	}

	seen := m.totalEnqueued + m.totalRejected
	if seen > 0 {
		metrics.RejectionRate = float64(m.totalRejected) / float64(seen)
		metrics.TimeoutRate = float64(m.totalTimedOut) / float64(seen)
	}

	metrics.EfficiencyScore = m.efficiencyLocked(metrics)
	return metrics
}

// efficiencyLocked averages three clipped [0,1] factors: queue depth
// against its norm, current wait against its norm, throughput against its
// norm.
func (m *Manager) efficiencyLocked(metrics Metrics) float64 {
	depthFactor := clip01(1 - float64(metrics.Depth)/m.config.EfficiencyDepthNorm)
	waitFactor := clip01(1 - metrics.CurrentWait.Seconds()/m.config.EfficiencyWaitNorm.Seconds())
	throughputFactor := clip01(metrics.ThroughputQPS / m.config.EfficiencyThroughputNorm)
	return (depthFactor + waitFactor + throughputFactor) / 3
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
