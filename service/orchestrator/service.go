package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inferenceops/fractal/internal/clock"
	"github.com/inferenceops/fractal/internal/idgen"
	"github.com/inferenceops/fractal/logging"
	"github.com/inferenceops/fractal/model/allocation"
	"github.com/inferenceops/fractal/model/resource"
	"github.com/inferenceops/fractal/service/allocator"
	"github.com/inferenceops/fractal/service/catalog"
	"github.com/inferenceops/fractal/service/isolation"
	"github.com/inferenceops/fractal/tracing"
)

var (
	// ErrGPUExists is returned when registering a duplicate GPU id.
	ErrGPUExists = errors.New("gpu already registered")
	// ErrGPUNotFound is returned for lookups of unknown GPU ids.
	ErrGPUNotFound = errors.New("gpu not found")
	// ErrUnknownGPUType is returned when auto-sizing cannot resolve the
	// technology profile.
	ErrUnknownGPUType = errors.New("unknown gpu type")
)

// fractionEpsilon absorbs float drift when re-verifying fraction shares.
const fractionEpsilon = 1e-9

// GPUStatus reports utilization for a single GPU.
type GPUStatus struct {
	GPUID               string                       `json:"gpu_id"`
	GPUType             string                       `json:"gpu_type"`
	FractionUtilization float64                      `json:"fraction_utilization"`
	MemoryUtilization   float64                      `json:"memory_utilization"`
	ComputeUtilization  float64                      `json:"compute_utilization"`
	ActiveFractions     int                          `json:"active_fractions"`
	Fragmentation       isolation.FragmentationStats `json:"fragmentation"`
}

// SystemStatus aggregates the pool view. It is the orchestrator side of the
// core's external reporting contract.
type SystemStatus struct {
	GPUCount            int             `json:"gpu_count"`
	GPUs                []GPUStatus     `json:"gpus"`
	FractionUtilization float64         `json:"fraction_utilization"`
	MemoryUtilization   float64         `json:"memory_utilization"`
	ComputeUtilization  float64         `json:"compute_utilization"`
	Allocations         allocator.Stats `json:"allocations"`
}

// Service owns the GPU pool and its bookkeeping.
type Service struct {
	catalog       *catalog.Service
	managerConfig allocator.Config
	manager       *allocator.Service

	mu        sync.Mutex
	order     []string // registration order drives first-fit scanning
	capacity  map[string]*resource.Capacity
	isolation map[string]*isolation.Service
}

// New creates an orchestrator backed by the supplied technology catalog.
func New(cat *catalog.Service, options ...Option) *Service {
	s := &Service{
		catalog:       cat,
		managerConfig: allocator.DefaultConfig(),
		capacity:      map[string]*resource.Capacity{},
		isolation:     map[string]*isolation.Service{},
	}
	for _, opt := range options {
		opt(s)
	}
	s.manager = allocator.New(
		allocator.WithConfig(s.managerConfig),
		allocator.WithReleaseHandler(s.handleReleased),
	)
	return s
}

// Manager exposes the embedded allocation manager.
func (s *Service) Manager() *allocator.Service { return s.manager }

// AddGPU registers a GPU with the pool. Zero memory or compute triggers
// auto-sizing from the catalog profile for gpuType.
func (s *Service) AddGPU(gpuID, gpuType string, memoryMB, computeUnits int) error {
	if gpuID == "" {
		return fmt.Errorf("%w: empty gpu id", allocation.ErrValidation)
	}
	if memoryMB <= 0 || computeUnits <= 0 {
		profile, ok := s.catalog.Lookup(gpuType)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGPUType, gpuType)
		}
		if memoryMB <= 0 {
			memoryMB = profile.MemoryMB
		}
		if computeUnits <= 0 {
			computeUnits = profile.ComputeUnits
		}
	}

	iso, err := isolation.New(memoryMB)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.capacity[gpuID]; exists {
		return fmt.Errorf("%w: %s", ErrGPUExists, gpuID)
	}
	s.capacity[gpuID] = resource.NewCapacity(gpuID, gpuType, memoryMB, computeUnits)
	s.isolation[gpuID] = iso
	s.order = append(s.order, gpuID)
	return nil
}

// RequestAllocation builds an allocation request and submits it to the
// manager. The returned id identifies the request, not a grant; the grant
// materialises on a later ProcessAllocations pass, or never.
func (s *Service) RequestAllocation(ctx context.Context, workloadID string, size float64, memoryMB, computeUnits, priority int, maxWait time.Duration) (string, error) {
	req := &allocation.Request{
		RequestID:    idgen.New(),
		WorkloadID:   workloadID,
		Size:         size,
		MemoryMB:     memoryMB,
		ComputeUnits: computeUnits,
		Priority:     priority,
		MaxWait:      maxWait,
		CreatedAt:    clock.Now(),
	}
	if err := s.manager.Submit(req); err != nil {
		return "", err
	}
	logging.GetLogger(ctx).WithField("component", "orchestrator").
		Debugf("submitted allocation request %s for workload %s (size=%.2f, memory=%dMB)",
			req.RequestID, workloadID, size, memoryMB)
	return req.RequestID, nil
}

// ProcessAllocations runs one scheduling pass: snapshot capacity in
// registration order, let the manager match, then apply each grant to the
// owning GPU's capacity record and memory isolation. A grant whose
// contiguous range cannot be placed (fragmentation) is failed and its
// capacity left untouched.
func (s *Service) ProcessAllocations(ctx context.Context) []allocation.GPUFraction {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.ProcessAllocations", "INTERNAL")
	defer tracing.EndSpan(span, nil)
	logger := logging.GetLogger(ctx).WithField("component", "orchestrator")

	s.mu.Lock()
	snapshot := make([]allocation.CapacitySnapshot, 0, len(s.order))
	for _, gpuID := range s.order {
		snapshot = append(snapshot, s.capacity[gpuID].Snapshot())
	}
	s.mu.Unlock()

	granted := s.manager.Process(snapshot)
	applied := make([]allocation.GPUFraction, 0, len(granted))
	for i := range granted {
		f := granted[i]
		if err := s.apply(&f); err != nil {
			logger.WithField("gpu", f.GPUID).
				Warnf("failing grant %s: %v", f.FractionID, err)
			_ = s.manager.Fail(f.FractionID)
			continue
		}
		logger.WithField("gpu", f.GPUID).
			Debugf("applied fraction %s (size=%.2f, memory=%dMB) for workload %s",
				f.FractionID, f.Size, f.MemoryMB, f.WorkloadID)
		applied = append(applied, f)
	}
	span.WithAttributes(map[string]string{
		"allocations.granted": fmt.Sprintf("%d", len(applied)),
	})
	return applied
}

func (s *Service) apply(f *allocation.GPUFraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cap, ok := s.capacity[f.GPUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGPUNotFound, f.GPUID)
	}
	// Re-verify against live capacity: the grant was matched against a
	// snapshot, and a pass that overlapped this one may have applied first.
	if cap.AvailableFraction+fractionEpsilon < f.Size {
		return fmt.Errorf("fraction share exhausted on gpu %s (%.2f available, %.2f requested)",
			f.GPUID, cap.AvailableFraction, f.Size)
	}
	if cap.AvailableMemoryMB < f.MemoryMB || cap.AvailableCompute < f.ComputeUnits {
		return fmt.Errorf("memory or compute exhausted on gpu %s", f.GPUID)
	}
	iso := s.isolation[f.GPUID]
	if _, ok := iso.Allocate(f.FractionID, f.MemoryMB); !ok {
		return fmt.Errorf("no contiguous %dMB range on gpu %s", f.MemoryMB, f.GPUID)
	}
	cap.Apply(f)
	return nil
}

// ReleaseAllocation hands the fraction to the manager for deprovisioning;
// capacity and the memory range are restored once the release completes.
func (s *Service) ReleaseAllocation(fractionID string) error {
	return s.manager.Release(fractionID)
}

// handleReleased restores capacity and range bookkeeping after the manager
// finishes a release.
func (s *Service) handleReleased(f allocation.GPUFraction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cap, ok := s.capacity[f.GPUID]
	if !ok {
		return
	}
	cap.Restore(&f)
	s.isolation[f.GPUID].Deallocate(f.FractionID)
}

// GPUUtilization reports the status of one GPU.
func (s *Service) GPUUtilization(gpuID string) (GPUStatus, error) {
	s.mu.Lock()
	cap, ok := s.capacity[gpuID]
	if !ok {
		s.mu.Unlock()
		return GPUStatus{}, fmt.Errorf("%w: %s", ErrGPUNotFound, gpuID)
	}
	status := s.gpuStatusLocked(cap)
	iso := s.isolation[gpuID]
	s.mu.Unlock()

	// Fragmentation is read outside the pool lock; the isolation instance
	// has its own.
	status.Fragmentation = iso.Fragmentation()
	return status, nil
}

func (s *Service) gpuStatusLocked(cap *resource.Capacity) GPUStatus {
	status := GPUStatus{
		GPUID:               cap.GPUID,
		GPUType:             cap.GPUType,
		FractionUtilization: 1 - cap.AvailableFraction,
		ActiveFractions:     len(cap.ActiveFractions),
	}
	if cap.TotalMemoryMB > 0 {
		status.MemoryUtilization = float64(cap.TotalMemoryMB-cap.AvailableMemoryMB) / float64(cap.TotalMemoryMB)
	}
	if cap.TotalCompute > 0 {
		status.ComputeUtilization = float64(cap.TotalCompute-cap.AvailableCompute) / float64(cap.TotalCompute)
	}
	return status
}

// SystemStatus aggregates per-GPU utilization, the fragmentation report and
// the allocation manager statistics.
func (s *Service) SystemStatus() SystemStatus {
	s.mu.Lock()
	gpus := make([]GPUStatus, 0, len(s.order))
	isolations := make([]*isolation.Service, 0, len(s.order))
	var totalMem, usedMem, totalCompute, usedCompute int
	var usedFraction float64
	for _, gpuID := range s.order {
		cap := s.capacity[gpuID]
		gpus = append(gpus, s.gpuStatusLocked(cap))
		isolations = append(isolations, s.isolation[gpuID])
		totalMem += cap.TotalMemoryMB
		usedMem += cap.TotalMemoryMB - cap.AvailableMemoryMB
		totalCompute += cap.TotalCompute
		usedCompute += cap.TotalCompute - cap.AvailableCompute
		usedFraction += 1 - cap.AvailableFraction
	}
	s.mu.Unlock()

	for i := range gpus {
		gpus[i].Fragmentation = isolations[i].Fragmentation()
	}

	status := SystemStatus{
		GPUCount:    len(gpus),
		GPUs:        gpus,
		Allocations: s.manager.Stats(),
	}
	if len(gpus) > 0 {
		status.FractionUtilization = usedFraction / float64(len(gpus))
	}
	if totalMem > 0 {
		status.MemoryUtilization = float64(usedMem) / float64(totalMem)
	}
	if totalCompute > 0 {
		status.ComputeUtilization = float64(usedCompute) / float64(totalCompute)
	}
	return status
}
