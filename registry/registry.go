package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// ContentRegistry is the local index of content descriptors, synchronised
// from a remote catalog. It is the single writer of descriptors: uploads
// register through it and the catalog is written before the index.
type ContentRegistry struct {
	catalog interfaces.Catalog
	log     *slog.Logger

	// writeMu serialises Sync, Register and Delete. A Sync holds it from List
	// to the index swap so a registration cannot land in between and be lost.
	writeMu sync.Mutex

	mu       sync.RWMutex
	index    map[interfaces.ContentID]interfaces.ContentDescriptor
	stale    bool
	lastSync time.Time
}

// NewContentRegistry creates an empty registry backed by catalog. Call Sync to
// load the descriptor set.
func NewContentRegistry(catalog interfaces.Catalog, log *slog.Logger) *ContentRegistry {
	return &ContentRegistry{
		catalog: catalog,
		log:     common.OrDefault(log),
		index:   make(map[interfaces.ContentID]interfaces.ContentDescriptor),
	}
}

// Sync replaces the index with the catalog's descriptor set. On failure the
// previous index is kept, the registry is marked stale and the error is
// returned. Registrations wait for an in-flight Sync to finish.
func (r *ContentRegistry) Sync(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	start := time.Now()

	descs, err := r.catalog.List(ctx)
	if err != nil {
		r.mu.Lock()
		r.stale = true
		size := len(r.index)
		r.mu.Unlock()

		r.log.Warn("Catalog sync failed, keeping previous index",
			slog.Int("descriptors", size),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("catalog sync failed: %w", err)
	}

	index := make(map[interfaces.ContentID]interfaces.ContentDescriptor, len(descs))
	for _, desc := range descs {
		if err := desc.Validate(); err != nil {
			r.log.Warn("Skipping invalid descriptor", slog.String("content_id", string(desc.ID)), "err", err)
			continue
		}
		if existing, ok := index[desc.ID]; ok {
			desc = existing.MergeSources(desc)
		}
		index[desc.ID] = desc
	}

	r.mu.Lock()
	r.index = index
	r.stale = false
	r.lastSync = time.Now()
	r.mu.Unlock()

	r.log.Info("Synchronised content registry",
		slog.Int("descriptors", len(index)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Resolve returns the descriptor for id, or ErrNotRegistered. It performs no
// I/O.
func (r *ContentRegistry) Resolve(id interfaces.ContentID) (interfaces.ContentDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.index[id]
	r.mu.RUnlock()

	if !ok {
		return interfaces.ContentDescriptor{}, fmt.Errorf("%w: %s", interfaces.ErrNotRegistered, id)
	}
	return clone(desc), nil
}

// Register writes desc to the catalog and, once that succeeds, to the index.
// Registering a known id merges the source locations of both descriptors. A
// failed catalog write leaves the index untouched.
func (r *ContentRegistry) Register(ctx context.Context, desc interfaces.ContentDescriptor) (interfaces.ContentID, error) {
	if err := desc.Validate(); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}
	if desc.CreatedAt.IsZero() {
		desc.CreatedAt = time.Now().UTC()
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	existing, ok := r.index[desc.ID]
	r.mu.RUnlock()
	if ok {
		desc = existing.MergeSources(desc)
	}

	if err := r.catalog.Insert(ctx, desc); err != nil {
		r.log.Error("Failed to register content",
			slog.String("content_id", desc.ID.Short()),
			"err", err)
		return "", fmt.Errorf("catalog insert failed: %w", err)
	}

	r.mu.Lock()
	r.index[desc.ID] = clone(desc)
	r.mu.Unlock()

	r.log.Debug("Registered content",
		slog.String("content_id", desc.ID.Short()),
		slog.String("kind", desc.Kind.String()),
		slog.Int("sources", len(desc.SourceLocations)),
		slog.Int("chunks", len(desc.ChunkManifest)))

	return desc.ID, nil
}

// Delete removes id from the catalog and then from the index.
func (r *ContentRegistry) Delete(ctx context.Context, id interfaces.ContentID) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.catalog.Delete(ctx, id); err != nil {
		return fmt.Errorf("catalog delete failed: %w", err)
	}

	r.mu.Lock()
	delete(r.index, id)
	r.mu.Unlock()
	return nil
}

// List returns the descriptors of the given kind.
func (r *ContentRegistry) List(kind interfaces.ContentKind) []interfaces.ContentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []interfaces.ContentDescriptor
	for _, desc := range r.index {
		if desc.Kind == kind {
			out = append(out, clone(desc))
		}
	}
	return out
}

// Len returns the number of indexed descriptors.
func (r *ContentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Stale reports whether the last sync failed.
func (r *ContentRegistry) Stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// LastSync returns the time of the last successful sync.
func (r *ContentRegistry) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

// Run syncs every interval until ctx is done. Failures are logged and leave
// the registry stale until the next successful sync.
func (r *ContentRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Sync(ctx)
		}
	}
}

func clone(desc interfaces.ContentDescriptor) interfaces.ContentDescriptor {
	desc.SourceLocations = append([]string(nil), desc.SourceLocations...)
	desc.ChunkManifest = append([]interfaces.ContentID(nil), desc.ChunkManifest...)
	return desc
}
