// Package offline downloads ranges of content into durable storage so they
// can be read without network access.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

const (
	// DefaultMaxRange bounds the number of ids in one download.
	DefaultMaxRange = 604
	// DefaultConcurrency bounds parallel fetches within one download.
	DefaultConcurrency = 3
)

// Options configures a Bundler. Zero values select the defaults.
type Options struct {
	MaxRange    int
	Concurrency int
	Now         func() time.Time
}

// Progress reports one finished id of a download.
type Progress struct {
	ID    interfaces.ContentID
	Done  int
	Total int
	// Err is nil for ids stored or already available.
	Err error
}

// ProgressFunc receives progress updates. Calls are serialised.
type ProgressFunc func(Progress)

// Result counts the outcome of a download.
type Result struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Bundler downloads ranges of ids into durable storage and tracks them in a
// manifest. Only one download runs at a time.
type Bundler struct {
	storage interfaces.DurableStorage
	fetcher interfaces.ContentFetcher
	seq     interfaces.Sequencer
	opts    Options
	log     *slog.Logger

	busy atomic.Bool

	mu       sync.Mutex
	manifest *Manifest
}

// New creates a bundler. A nil storage makes every download a no-op.
func New(storage interfaces.DurableStorage, fetcher interfaces.ContentFetcher, seq interfaces.Sequencer, opts Options, log *slog.Logger) *Bundler {
	if opts.MaxRange <= 0 {
		opts.MaxRange = DefaultMaxRange
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bundler{
		storage: storage,
		fetcher: fetcher,
		seq:     seq,
		opts:    opts,
		log:     common.OrDefault(log),
	}
}

// DownloadRange stores every id from start to end inclusive. Ids already in
// the manifest count as succeeded without any I/O. Failures of single ids are
// counted, never returned; the only errors are an invalid range
// (interfaces.ErrInvalidRange), a concurrent download
// (interfaces.ErrBundleInProgress) and cancellation, which returns the counts
// so far together with ctx.Err().
//
// Without durable storage nothing is downloaded and the zero Result is
// returned.
func (b *Bundler) DownloadRange(ctx context.Context, start, end interfaces.ContentID, onProgress ProgressFunc) (Result, error) {
	ids, err := b.seq.Range(start, end)
	if err != nil {
		if !errors.Is(err, interfaces.ErrInvalidRange) {
			err = fmt.Errorf("%w: %v", interfaces.ErrInvalidRange, err)
		}
		return Result{}, err
	}
	if len(ids) > b.opts.MaxRange {
		return Result{}, fmt.Errorf("%w: %d ids exceeds the limit of %d", interfaces.ErrInvalidRange, len(ids), b.opts.MaxRange)
	}

	if b.storage == nil {
		b.log.Info("Offline download skipped, no durable storage", slog.Int("ids", len(ids)))
		return Result{}, nil
	}

	if !b.busy.CompareAndSwap(false, true) {
		return Result{}, interfaces.ErrBundleInProgress
	}
	defer b.busy.Store(false)

	if err := b.load(ctx); err != nil {
		return Result{}, err
	}

	started := time.Now()
	var (
		progressMu sync.Mutex
		res        Result
		done       int
	)
	report := func(id interfaces.ContentID, err error) {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		if err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
		if onProgress != nil {
			onProgress(Progress{ID: id, Done: done, Total: len(ids), Err: err})
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(b.opts.Concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if b.has(id) {
				report(id, nil)
				return nil
			}
			err := b.store(ctx, id)
			if err != nil && ctx.Err() != nil {
				// Abandoned, not failed.
				return nil
			}
			if err != nil {
				b.log.Debug("Offline download of id failed", slog.String("content_id", id.Short()), "err", err)
			}
			report(id, err)
			return nil
		})
	}
	_ = g.Wait()

	progressMu.Lock()
	final := res
	progressMu.Unlock()

	b.log.Info("Offline download finished",
		slog.String("start", string(start)),
		slog.String("end", string(end)),
		slog.Int("succeeded", final.Succeeded),
		slog.Int("failed", final.Failed),
		slog.Duration("duration", time.Since(started)))

	if err := ctx.Err(); err != nil {
		return final, err
	}
	return final, nil
}

// store fetches id, writes it and only then records it in the manifest.
func (b *Bundler) store(ctx context.Context, id interfaces.ContentID) error {
	data, err := b.fetcher.Fetch(ctx, id)
	if err != nil {
		return err
	}

	path := dataPath(id)
	if err := b.storage.WriteFile(ctx, path, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", id.Short(), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.manifest.Entries[id] = Entry{ID: id, Path: path, Size: int64(len(data)), StoredAt: b.opts.Now()}
	if err := b.saveLocked(ctx); err != nil {
		delete(b.manifest.Entries, id)
		return err
	}
	return nil
}

// Available reports whether id has been downloaded.
func (b *Bundler) Available(ctx context.Context, id interfaces.ContentID) (bool, error) {
	if b.storage == nil {
		return false, nil
	}
	if err := b.load(ctx); err != nil {
		return false, err
	}
	return b.has(id), nil
}

// Read returns the downloaded payload of id, or an error wrapping
// interfaces.ErrContentNotFound if it is not available offline. A manifest
// entry whose file has gone missing is dropped.
func (b *Bundler) Read(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	if b.storage == nil {
		return nil, fmt.Errorf("%w: %s not available offline", interfaces.ErrContentNotFound, id)
	}
	if err := b.load(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	entry, ok := b.manifest.Entries[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not available offline", interfaces.ErrContentNotFound, id)
	}

	data, err := b.storage.ReadFile(ctx, entry.Path)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		b.log.Warn("Offline file missing, dropping manifest entry", slog.String("content_id", id.Short()))
		if rmErr := b.Remove(ctx, id); rmErr != nil {
			b.log.Debug("Failed to drop manifest entry", slog.String("content_id", id.Short()), "err", rmErr)
		}
		return nil, fmt.Errorf("%w: %s not available offline", interfaces.ErrContentNotFound, id)
	}
	return data, err
}

// Remove deletes id from offline storage.
func (b *Bundler) Remove(ctx context.Context, id interfaces.ContentID) error {
	if b.storage == nil {
		return nil
	}
	if err := b.load(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.manifest.Entries[id]
	if !ok {
		return nil
	}
	delete(b.manifest.Entries, id)
	if err := b.saveLocked(ctx); err != nil {
		b.manifest.Entries[id] = entry
		return err
	}
	return b.storage.Remove(ctx, entry.Path)
}

// Clear deletes every downloaded payload and the manifest.
func (b *Bundler) Clear(ctx context.Context) error {
	if b.storage == nil {
		return nil
	}
	if b.busy.Load() {
		return interfaces.ErrBundleInProgress
	}
	if err := b.load(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cleared := len(b.manifest.Entries)
	var errs []error
	for id, entry := range b.manifest.Entries {
		if err := b.storage.Remove(ctx, entry.Path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		delete(b.manifest.Entries, id)
	}
	if len(errs) > 0 {
		if err := b.saveLocked(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	if err := b.storage.Remove(ctx, ManifestPath); err != nil {
		return err
	}
	b.log.Info("Cleared offline content", slog.Int("entries", cleared))
	return nil
}

// Entries returns the manifest entries ordered by id.
func (b *Bundler) Entries(ctx context.Context) ([]Entry, error) {
	if b.storage == nil {
		return nil, nil
	}
	if err := b.load(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manifest.sorted(), nil
}

// InProgress reports whether a download is running.
func (b *Bundler) InProgress() bool {
	return b.busy.Load()
}

func (b *Bundler) has(id interfaces.ContentID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.manifest.Entries[id]
	return ok
}

// load reads the manifest once. A missing manifest is an empty one; an
// unreadable one is replaced.
func (b *Bundler) load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.manifest != nil {
		return nil
	}

	data, err := b.storage.ReadFile(ctx, ManifestPath)
	switch {
	case errors.Is(err, interfaces.ErrContentNotFound):
		b.manifest = newManifest()
	case err != nil:
		return fmt.Errorf("failed to read offline manifest: %w", err)
	default:
		m, err := decodeManifest(data)
		if err != nil {
			b.log.Warn("Discarding unreadable offline manifest", "err", err)
			m = newManifest()
		}
		b.manifest = m
	}
	return nil
}

func (b *Bundler) saveLocked(ctx context.Context) error {
	data, err := b.manifest.encode()
	if err != nil {
		return err
	}
	if err := b.storage.WriteFile(ctx, ManifestPath, data); err != nil {
		return fmt.Errorf("failed to write offline manifest: %w", err)
	}
	return nil
}
