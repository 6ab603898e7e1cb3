package allocator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inferenceops/fractal/internal/clock"
	"github.com/inferenceops/fractal/internal/idgen"
	"github.com/inferenceops/fractal/model/allocation"
)

// ErrNotFound is returned when a fraction id has no active allocation.
var ErrNotFound = errors.New("fraction not found")

// sizeEpsilon absorbs float drift when comparing fraction shares.
const sizeEpsilon = 1e-9

// Config represents allocation manager configuration.
type Config struct {
	// ProvisionDelay models how long a grant stays PROVISIONING before it
	// becomes ALLOCATED. Zero completes inline.
	ProvisionDelay time.Duration `json:"provisionDelay" yaml:"provisionDelay" mapstructure:"provisionDelay"`

	// DeprovisionDelay models how long a release stays DEPROVISIONING
	// before it becomes RELEASED. Zero completes inline.
	DeprovisionDelay time.Duration `json:"deprovisionDelay" yaml:"deprovisionDelay" mapstructure:"deprovisionDelay"`

	// HistoryLimit caps the completed-fraction ring buffer.
	HistoryLimit int `json:"historyLimit" yaml:"historyLimit" mapstructure:"historyLimit"`
}

// DefaultConfig returns the default allocation manager configuration.
func DefaultConfig() Config {
	return Config{
		ProvisionDelay:   50 * time.Millisecond,
		DeprovisionDelay: 30 * time.Millisecond,
		HistoryLimit:     256,
	}
}

// Stats summarises the manager state for reporting.
type Stats struct {
	ActiveCount           int     `json:"active_allocations"`
	PendingCount          int     `json:"pending_requests"`
	CompletedCount        int     `json:"completed_allocations"`
	ExpiredCount          int     `json:"expired_requests"`
	MeanAllocationSeconds float64 `json:"mean_allocation_seconds"`
}

// Service keeps the pending request queue and the active fraction set.
type Service struct {
	config     Config
	onReleased func(allocation.GPUFraction)

	mu      sync.Mutex
	pending []*allocation.Request
	active  map[string]*allocation.GPUFraction
	history []*allocation.GPUFraction
	expired int
}

// New creates an allocation manager.
func New(options ...Option) *Service {
	s := &Service{
		config: DefaultConfig(),
		active: map[string]*allocation.GPUFraction{},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Submit validates and enqueues a request. The pending queue is re-sorted
// on every submission: priority descending, creation time ascending.
func (s *Service) Submit(req *allocation.Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", allocation.ErrValidation)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = clock.Now()
	}
	if err := req.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, req)
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].Priority != s.pending[j].Priority {
			return s.pending[i].Priority > s.pending[j].Priority
		}
		return s.pending[i].CreatedAt.Before(s.pending[j].CreatedAt)
	})
	return nil
}

// Process runs one matching pass. Expired requests are dropped first; every
// surviving request is matched against the snapshot in order, taking the
// first GPU whose remaining fraction and memory both fit. Matched requests
// become PENDING fractions immediately scheduled for provisioning, and the
// local snapshot is debited so a single pass never over-commits a GPU.
// Unmatched requests stay pending.
func (s *Service) Process(snapshot []allocation.CapacitySnapshot) []allocation.GPUFraction {
	s.mu.Lock()

	now := clock.Now()
	live := make([]*allocation.Request, 0, len(s.pending))
	for _, req := range s.pending {
		if req.Expired(now) {
			s.expired++
			continue
		}
		live = append(live, req)
	}

	var granted []allocation.GPUFraction
	remaining := make([]*allocation.Request, 0, len(live))
	for _, req := range live {
		matched := false
		for i := range snapshot {
			c := &snapshot[i]
			if c.AvailableFraction+sizeEpsilon < req.Size {
				continue
			}
			if c.AvailableMemoryMB < req.MemoryMB || c.AvailableCompute < req.ComputeUnits {
				continue
			}
			f := &allocation.GPUFraction{
				FractionID:   idgen.New(),
				GPUID:        c.GPUID,
				Size:         req.Size,
				MemoryMB:     req.MemoryMB,
				ComputeUnits: req.ComputeUnits,
				Status:       allocation.StatusPending,
				WorkloadID:   req.WorkloadID,
			}
			c.AvailableFraction -= req.Size
			c.AvailableMemoryMB -= req.MemoryMB
			c.AvailableCompute -= req.ComputeUnits
			s.active[f.FractionID] = f
			s.scheduleProvisionLocked(f)
			granted = append(granted, *f)
			matched = true
			break
		}
		if !matched {
			remaining = append(remaining, req)
		}
	}
	s.pending = remaining
	s.mu.Unlock()
	return granted
}

// scheduleProvisionLocked moves a pending grant to PROVISIONING and
// schedules its flip to ALLOCATED, inline when the configured delay is
// zero, otherwise via a timer.
func (s *Service) scheduleProvisionLocked(f *allocation.GPUFraction) {
	f.Status = allocation.StatusProvisioning
	if s.config.ProvisionDelay <= 0 {
		f.Status = allocation.StatusAllocated
		f.AllocatedAt = clock.Now()
		return
	}
	id := f.FractionID
	time.AfterFunc(s.config.ProvisionDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if active, ok := s.active[id]; ok && active.Status == allocation.StatusProvisioning {
			active.Status = allocation.StatusAllocated
			active.AllocatedAt = clock.Now()
		}
	})
}

// Release transitions an allocated fraction to DEPROVISIONING and schedules
// its completion. The release handler (if any) fires once the fraction
// reaches RELEASED.
func (s *Service) Release(fractionID string) error {
	s.mu.Lock()
	f, ok := s.active[fractionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, fractionID)
	}
	if f.Status != allocation.StatusAllocated {
		status := f.Status
		s.mu.Unlock()
		return fmt.Errorf("fraction %s is %s, not %s", fractionID, status, allocation.StatusAllocated)
	}
	f.Status = allocation.StatusDeprovisioning
	delay := s.config.DeprovisionDelay
	s.mu.Unlock()

	if delay <= 0 {
		s.completeRelease(fractionID)
		return nil
	}
	time.AfterFunc(delay, func() { s.completeRelease(fractionID) })
	return nil
}

func (s *Service) completeRelease(fractionID string) {
	s.mu.Lock()
	f, ok := s.active[fractionID]
	if !ok || f.Status != allocation.StatusDeprovisioning {
		s.mu.Unlock()
		return
	}
	f.Status = allocation.StatusReleased
	f.ReleasedAt = clock.Now()
	delete(s.active, fractionID)
	s.appendHistoryLocked(f)
	released := *f
	handler := s.onReleased
	s.mu.Unlock()

	if handler != nil {
		handler(released)
	}
}

// Fail removes a grant whose range registration could not be honoured and
// archives it as FAILED.
func (s *Service) Fail(fractionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.active[fractionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, fractionID)
	}
	f.Status = allocation.StatusFailed
	delete(s.active, fractionID)
	s.appendHistoryLocked(f)
	return nil
}

func (s *Service) appendHistoryLocked(f *allocation.GPUFraction) {
	s.history = append(s.history, f)
	limit := s.config.HistoryLimit
	if limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// Fraction returns a copy of an active fraction.
func (s *Service) Fraction(fractionID string) (allocation.GPUFraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.active[fractionID]
	if !ok {
		return allocation.GPUFraction{}, false
	}
	return *f, true
}

// Stats reports active/pending/completed counts and the mean allocation
// duration over the completed history.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		ActiveCount:    len(s.active),
		PendingCount:   len(s.pending),
		CompletedCount: len(s.history),
		ExpiredCount:   s.expired,
	}
	var total time.Duration
	released := 0
	for _, f := range s.history {
		if f.Status != allocation.StatusReleased || f.AllocatedAt.IsZero() {
			continue
		}
		total += f.ReleasedAt.Sub(f.AllocatedAt)
		released++
	}
	if released > 0 {
		stats.MeanAllocationSeconds = total.Seconds() / float64(released)
	}
	return stats
}
