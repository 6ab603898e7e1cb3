// Package dispatcher bridges the admission queue and the GPU pool. A
// polling loop drains admitted requests into a work queue; a pool of
// workers translates each into a fractional allocation request, drives a
// scheduling pass and completes the queue entry.
package dispatcher
