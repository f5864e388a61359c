// Package registry keeps the local index of content descriptors.
//
// A ContentRegistry answers "where can I fetch X" without I/O. Its index is
// loaded from an interfaces.Catalog with Sync, either on demand or
// periodically with Run:
//
//	reg := registry.NewContentRegistry(catalog, log)
//	if err := reg.Sync(ctx); err != nil {
//	    // reads keep working on the previous index; reg.Stale() is true
//	}
//	desc, err := reg.Resolve(id)
//
// # Consistency
//
// The catalog is the source of truth. Register and Delete write to the
// catalog first and update the index only after the catalog accepted the
// change, so a failed remote write never leaves local state behind.
// Registering a known id merges source locations; mirrors are added, never
// dropped.
//
// A failed Sync keeps the previous index and marks the registry stale rather
// than clearing it.
//
// MockCatalog is a testify mock of interfaces.Catalog for tests of code
// depending on the registry.
package registry
