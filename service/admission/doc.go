// Package admission implements the request admission side of the control
// plane: a priority queue with bounded depth and a threshold driven flow
// controller that maps queue depth and wait time onto backpressure
// actions. Wait time is the authoritative signal — it escalates the
// severity level derived from depth but never de-escalates it.
package admission
