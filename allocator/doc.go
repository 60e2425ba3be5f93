// Package allocator implements the hierarchical resource accounting of a
// coordination session: a swarm-level pool is carved into per-run
// allocations, and each run allocation is carved into per-step
// allocations. Run allocations and run contexts persist in the cache with
// explicit TTLs; step allocations are process-local and reconcile back
// into their parent on release.
package allocator
