package allocation

import "time"

// FractionStatus captures the lifecycle of a fractional GPU grant.
type FractionStatus string

const (
	StatusPending        FractionStatus = "PENDING"
	StatusProvisioning   FractionStatus = "PROVISIONING"
	StatusAllocated      FractionStatus = "ALLOCATED"
	StatusDeprovisioning FractionStatus = "DEPROVISIONING"
	StatusFailed         FractionStatus = "FAILED"
	StatusReleased       FractionStatus = "RELEASED"
)

// GPUFraction is a sub-allocation of a single GPU, expressed as a share in
// (0,1] together with the memory and compute it pins. MemoryMB never
// exceeds the owning GPU's total; the orchestrator enforces this when the
// grant is applied.
type GPUFraction struct {
	FractionID   string         `json:"fraction_id"`
	GPUID        string         `json:"gpu_id"`
	Size         float64        `json:"size"`
	MemoryMB     int            `json:"memory_mb"`
	ComputeUnits int            `json:"compute_units"`
	Status       FractionStatus `json:"status"`
	WorkloadID   string         `json:"workload_id"`
	AllocatedAt  time.Time      `json:"allocated_at,omitempty"`
	ReleasedAt   time.Time      `json:"released_at,omitempty"`
}
