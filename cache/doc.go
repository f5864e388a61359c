// Package cache implements the two-tier content cache.
//
// The memory tier holds at most Options.MaxEntries entries and evicts the
// oldest-inserted entry first. The durable tier lives in an
// interfaces.DurableStorage under Options.Dir and is bounded by expiry only.
// Each tier has its own TTL; an entry past its expiry is never returned and is
// removed on lookup or by Sweep.
//
// Put writes the memory tier synchronously and the durable tier in the
// background. Without durable storage the cache is memory-only, which is not
// an error.
package cache
