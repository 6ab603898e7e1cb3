// Package allocator schedules pending allocation requests against capacity
// snapshots supplied by the orchestrator. Requests are served in strict
// priority order with FIFO tie-break, matched first-fit across the GPU
// pool. Provisioning and deprovisioning latency is modelled as a deferred
// completion so no caller is ever parked on a sleep.
package allocator
