package allocation

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is wrapped by every construction-time invariant violation.
var ErrValidation = errors.New("invalid allocation request")

// Priority bounds for allocation requests.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Request asks for a fraction of one GPU. A request that cannot be
// satisfied stays pending until it expires; capacity exhaustion is never an
// error.
type Request struct {
	RequestID    string        `json:"request_id"`
	WorkloadID   string        `json:"workload_id"`
	Size         float64       `json:"requested_size"`
	MemoryMB     int           `json:"memory_mb"`
	ComputeUnits int           `json:"compute_units"`
	Priority     int           `json:"priority"`
	MaxWait      time.Duration `json:"max_wait"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Validate checks construction-time invariants.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("%w: empty request id", ErrValidation)
	}
	if r.WorkloadID == "" {
		return fmt.Errorf("%w: empty workload id", ErrValidation)
	}
	if r.Size <= 0 || r.Size > 1 {
		return fmt.Errorf("%w: size %v outside (0,1]", ErrValidation, r.Size)
	}
	if r.MemoryMB <= 0 {
		return fmt.Errorf("%w: memory %dMB must be positive", ErrValidation, r.MemoryMB)
	}
	if r.ComputeUnits <= 0 {
		return fmt.Errorf("%w: compute units %d must be positive", ErrValidation, r.ComputeUnits)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside [%d,%d]", ErrValidation, r.Priority, MinPriority, MaxPriority)
	}
	if r.MaxWait <= 0 {
		return fmt.Errorf("%w: max wait %v must be positive", ErrValidation, r.MaxWait)
	}
	return nil
}

// Expired reports whether the request has waited longer than its budget.
func (r *Request) Expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > r.MaxWait
}

// CapacitySnapshot is the per-GPU availability view handed to the
// allocation manager for a single matching pass. The manager mutates its
// local copy while granting so that one pass never over-commits a GPU.
type CapacitySnapshot struct {
	GPUID             string  `json:"gpu_id"`
	AvailableFraction float64 `json:"available_fraction"`
	AvailableMemoryMB int     `json:"available_memory_mb"`
	AvailableCompute  int     `json:"available_compute_units"`
}
