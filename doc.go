// Package fractal assembles the control plane for fractional GPU
// allocation: a catalog of GPU profiles, an orchestrated pool with
// per-GPU memory isolation, an admission queue guarded by flow control,
// and a dispatcher moving admitted work onto the pool. The Service type
// wires the pieces together; the sub-packages remain usable on their own.
package fractal
