// Package orchestrator owns the GPU pool: one capacity record and one
// memory-isolation instance per GPU. It routes allocation requests to the
// allocation manager and keeps capacity and range bookkeeping consistent as
// grants are applied and released. Capacity exhaustion is soft — a request
// that fits nowhere simply stays pending until it expires.
package orchestrator
