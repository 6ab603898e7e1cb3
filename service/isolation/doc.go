// Package isolation implements the per-GPU free-range memory allocator.
// Every fraction granted on a GPU receives a contiguous byte range; the
// allocator uses first-fit over the sorted allocated ranges and reports
// fragmentation over the free gaps.
package isolation
