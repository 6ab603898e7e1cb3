// Package resource holds the typed per-GPU capacity record owned by the
// orchestrator.
package resource

import "github.com/inferenceops/fractal/model/allocation"

// Capacity tracks total and remaining capacity for one GPU. The record is
// mutated only by the orchestrator under its lock.
type Capacity struct {
	GPUID             string              `json:"gpu_id"`
	GPUType           string              `json:"gpu_type"`
	TotalMemoryMB     int                 `json:"total_memory_mb"`
	AvailableMemoryMB int                 `json:"available_memory_mb"`
	TotalCompute      int                 `json:"total_compute_units"`
	AvailableCompute  int                 `json:"available_compute_units"`
	AvailableFraction float64             `json:"available_fraction"`
	ActiveFractions   map[string]struct{} `json:"-"`
}

// NewCapacity builds a fully available capacity record.
func NewCapacity(gpuID, gpuType string, memoryMB, computeUnits int) *Capacity {
	return &Capacity{
		GPUID:             gpuID,
		GPUType:           gpuType,
		TotalMemoryMB:     memoryMB,
		AvailableMemoryMB: memoryMB,
		TotalCompute:      computeUnits,
		AvailableCompute:  computeUnits,
		AvailableFraction: 1.0,
		ActiveFractions:   map[string]struct{}{},
	}
}

// Snapshot returns the availability view used for one matching pass.
func (c *Capacity) Snapshot() allocation.CapacitySnapshot {
	return allocation.CapacitySnapshot{
		GPUID:             c.GPUID,
		AvailableFraction: c.AvailableFraction,
		AvailableMemoryMB: c.AvailableMemoryMB,
		AvailableCompute:  c.AvailableCompute,
	}
}

// Apply pins the fraction's share on the record.
func (c *Capacity) Apply(f *allocation.GPUFraction) {
	c.AvailableFraction -= f.Size
	if c.AvailableFraction < 0 {
		c.AvailableFraction = 0
	}
	c.AvailableMemoryMB -= f.MemoryMB
	if c.AvailableMemoryMB < 0 {
		c.AvailableMemoryMB = 0
	}
	c.AvailableCompute -= f.ComputeUnits
	if c.AvailableCompute < 0 {
		c.AvailableCompute = 0
	}
	c.ActiveFractions[f.FractionID] = struct{}{}
}

// Restore returns the fraction's share to the record.
func (c *Capacity) Restore(f *allocation.GPUFraction) {
	c.AvailableFraction += f.Size
	if c.AvailableFraction > 1 {
		c.AvailableFraction = 1
	}
	c.AvailableMemoryMB += f.MemoryMB
	if c.AvailableMemoryMB > c.TotalMemoryMB {
		c.AvailableMemoryMB = c.TotalMemoryMB
	}
	c.AvailableCompute += f.ComputeUnits
	if c.AvailableCompute > c.TotalCompute {
		c.AvailableCompute = c.TotalCompute
	}
	delete(c.ActiveFractions, f.FractionID)
}
