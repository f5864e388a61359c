// Package delivery is the caller-facing facade of the content layer. A Service
// is built from explicit collaborators and owns the registry, cache, fetch
// pipeline, prefetcher, uploader and offline bundler built on them.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	rtmetrics "runtime/metrics"
	"sync"
	"time"

	"github.com/zonebnation/ebizimba-content/cache"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/fetch"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/metrics"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/prefetch"
	"github.com/zonebnation/ebizimba-content/registry"
	"github.com/zonebnation/ebizimba-content/sequence"
	"github.com/zonebnation/ebizimba-content/upload"
)

// PrefetchConfig sets the default prefetch window.
type PrefetchConfig struct {
	Forward     int
	Backward    int
	Concurrency int
}

// Config wires a Service. Catalog and Gateways are required.
type Config struct {
	Catalog  interfaces.Catalog
	Gateways interfaces.GatewayFactory

	// Durable enables the durable cache tier and offline downloads.
	Durable interfaces.DurableStorage
	// Publisher enables uploads.
	Publisher interfaces.Publisher
	// Sequencer orders ids for prefetching and offline ranges. Nil uses the
	// page sequence.
	Sequencer interfaces.Sequencer

	Cache           cache.Options
	Policy          fetch.Policy
	UploadThreshold int
	ChunkSize       int
	Prefetch        PrefetchConfig
	Offline         offline.Options
	Memory          MemoryWatch

	Metrics *metrics.ContentMetrics
	Log     *slog.Logger

	// Closers are released by Close after the service's own components.
	Closers []io.Closer
}

// MemoryWatch makes Run clear the memory cache tier whenever the heap is
// above LimitBytes. A zero limit or interval disables it.
type MemoryWatch struct {
	LimitBytes uint64
	Interval   time.Duration
}

// Service implements the caller-facing content API.
type Service struct {
	registry   *registry.ContentRegistry
	cache      *cache.Store
	pipeline   *fetch.Pipeline
	prefetcher *prefetch.Prefetcher
	uploader   *upload.Uploader
	bundler    *offline.Bundler

	cfg       Config
	metrics   *metrics.ContentMetrics
	log       *slog.Logger
	heapBytes func() uint64

	closeOnce sync.Once
}

// New builds a service. It does not sync the registry; call Sync before
// serving.
func New(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("delivery: catalog is required")
	}
	if cfg.Gateways == nil {
		return nil, errors.New("delivery: gateway factory is required")
	}
	if cfg.Sequencer == nil {
		cfg.Sequencer = sequence.Pages()
	}
	if cfg.Prefetch.Forward == 0 && cfg.Prefetch.Backward == 0 {
		cfg.Prefetch.Forward = prefetch.DefaultForward
		cfg.Prefetch.Backward = prefetch.DefaultBackward
	}
	log := common.OrDefault(cfg.Log)

	s := &Service{cfg: cfg, metrics: cfg.Metrics, log: log, heapBytes: readHeapBytes}

	cacheOpts := cfg.Cache
	if cfg.Metrics != nil {
		cacheOpts.Metrics = cfg.Metrics
	}

	s.registry = registry.NewContentRegistry(cfg.Catalog, log.With("component", "registry"))
	s.cache = cache.NewStore(cfg.Durable, cacheOpts, log.With("component", "cache"))
	s.bundler = offline.New(cfg.Durable, fetcherFunc(s.fetchForBundle), cfg.Sequencer, cfg.Offline, log.With("component", "offline"))

	pipelineCfg := fetch.Config{
		Registry: s.registry,
		Cache:    s.cache,
		Gateways: cfg.Gateways,
		Policy:   cfg.Policy,
		Log:      log.With("component", "fetch"),
	}
	if cfg.Durable != nil {
		pipelineCfg.Offline = s.bundler
	}
	if cfg.Metrics != nil {
		pipelineCfg.Metrics = cfg.Metrics
	}
	s.pipeline = fetch.New(pipelineCfg)

	s.prefetcher = prefetch.New(s.pipeline, cfg.Sequencer, cfg.Prefetch.Concurrency, log.With("component", "prefetch"))
	if cfg.Publisher != nil {
		s.uploader = upload.New(cfg.Publisher, s.registry, log.With("component", "upload"))
	}
	return s, nil
}

// fetcherFunc adapts a function to interfaces.ContentFetcher.
type fetcherFunc func(ctx context.Context, id interfaces.ContentID) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	return f(ctx, id)
}

func (s *Service) fetchForBundle(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	return s.pipeline.Fetch(ctx, id)
}

// Fetch returns the bytes of id. The slice is the caller's own; the cached
// copy shared by coalesced callers is never handed out.
func (s *Service) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	data, err := s.pipeline.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

// Reload drops any cached copy of id and fetches it again.
func (s *Service) Reload(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	if err := s.Invalidate(ctx, id); err != nil {
		return nil, err
	}
	return s.Fetch(ctx, id)
}

// Resolve returns the descriptor of id.
func (s *Service) Resolve(id interfaces.ContentID) (interfaces.ContentDescriptor, error) {
	return s.registry.Resolve(id)
}

// List returns the registered descriptors of kind.
func (s *Service) List(kind interfaces.ContentKind) []interfaces.ContentDescriptor {
	return s.registry.List(kind)
}

// PrefetchRange warms the cache with the neighbours of id and returns without
// waiting. Negative counts select the configured window.
func (s *Service) PrefetchRange(ctx context.Context, id interfaces.ContentID, forward, backward int) *prefetch.Job {
	if forward < 0 {
		forward = s.cfg.Prefetch.Forward
	}
	if backward < 0 {
		backward = s.cfg.Prefetch.Backward
	}
	return s.prefetcher.Warm(ctx, id, forward, backward)
}

// UploadLarge stores a document payload under title and returns its id.
func (s *Service) UploadLarge(ctx context.Context, payload []byte, title string) (interfaces.ContentID, error) {
	return s.Upload(ctx, payload, upload.Options{Title: title, Kind: interfaces.DocumentKind})
}

// Upload stores payload with the given options. Zero sizes select the
// configured threshold and chunk size.
func (s *Service) Upload(ctx context.Context, payload []byte, opts upload.Options) (interfaces.ContentID, error) {
	if s.uploader == nil {
		return "", fmt.Errorf("%w: no publish targets configured", interfaces.ErrStorageUnavailable)
	}
	if opts.ThresholdBytes == 0 {
		opts.ThresholdBytes = s.cfg.UploadThreshold
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = s.cfg.ChunkSize
	}

	id, err := s.uploader.Upload(ctx, payload, opts)
	if s.metrics != nil {
		s.metrics.UploadCompleted(len(payload), err)
	}
	return id, err
}

// DownloadOfflineRange stores every id from start to end for offline use.
func (s *Service) DownloadOfflineRange(ctx context.Context, start, end interfaces.ContentID, onProgress offline.ProgressFunc) (offline.Result, error) {
	res, err := s.bundler.DownloadRange(ctx, start, end, onProgress)
	if s.metrics != nil && (res.Succeeded > 0 || res.Failed > 0) {
		s.metrics.OfflineDownloaded(res.Succeeded, res.Failed)
	}
	return res, err
}

// OfflineAvailable reports whether id has been downloaded for offline use.
func (s *Service) OfflineAvailable(ctx context.Context, id interfaces.ContentID) (bool, error) {
	return s.bundler.Available(ctx, id)
}

// RemoveOffline deletes the offline copy of id.
func (s *Service) RemoveOffline(ctx context.Context, id interfaces.ContentID) error {
	return s.bundler.Remove(ctx, id)
}

// ClearOffline deletes every offline copy.
func (s *Service) ClearOffline(ctx context.Context) error {
	return s.bundler.Clear(ctx)
}

// Invalidate removes id from both cache tiers.
func (s *Service) Invalidate(ctx context.Context, id interfaces.ContentID) error {
	if err := s.cache.Invalidate(ctx, string(id)); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", id.Short(), err)
	}
	return nil
}

// ClearAll empties both cache tiers. Offline downloads are kept.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.cache.Purge(ctx)
}

// ClearMemory drops the memory cache tier. Durable entries and offline
// downloads are kept.
func (s *Service) ClearMemory() {
	s.cache.Clear()
}

// Sync reloads the registry from the catalog.
func (s *Service) Sync(ctx context.Context) error {
	return s.registry.Sync(ctx)
}

// Status describes the service state.
type Status struct {
	Descriptors     int       `json:"descriptors"`
	Stale           bool      `json:"stale"`
	LastSync        time.Time `json:"last_sync"`
	CachedEntries   int       `json:"cached_entries"`
	DurableCache    bool      `json:"durable_cache"`
	OfflineRunning  bool      `json:"offline_running"`
	PrefetchRunning int       `json:"prefetch_running"`
	UploadsEnabled  bool      `json:"uploads_enabled"`
}

// Status returns the current service state.
func (s *Service) Status() Status {
	return Status{
		Descriptors:     s.registry.Len(),
		Stale:           s.registry.Stale(),
		LastSync:        s.registry.LastSync(),
		CachedEntries:   s.cache.Len(),
		DurableCache:    s.cache.HasDurable(),
		OfflineRunning:  s.bundler.InProgress(),
		PrefetchRunning: s.prefetcher.Running(),
		UploadsEnabled:  s.uploader != nil,
	}
}

// Run keeps the registry in sync, sweeps expired cache entries and, if
// configured, watches the heap until ctx is done. Non-positive intervals
// disable the respective loop.
func (s *Service) Run(ctx context.Context, syncInterval, sweepInterval time.Duration) {
	var wg sync.WaitGroup
	if syncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.registry.Run(ctx, syncInterval)
		}()
	}
	if sweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.cache.RunSweeper(ctx, sweepInterval)
		}()
	}
	if mw := s.cfg.Memory; mw.LimitBytes > 0 && mw.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watchMemory(ctx, mw)
		}()
	}
	wg.Wait()
}

func (s *Service) watchMemory(ctx context.Context, mw MemoryWatch) {
	ticker := time.NewTicker(mw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if heap := s.heapBytes(); heap > mw.LimitBytes {
				s.log.Warn("Heap above limit, clearing memory cache",
					slog.Uint64("heap_bytes", heap),
					slog.Uint64("limit_bytes", mw.LimitBytes))
				s.ClearMemory()
			}
		}
	}
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// readHeapBytes returns the bytes held by live and unswept heap objects.
func readHeapBytes() uint64 {
	sample := []rtmetrics.Sample{{Name: heapObjectsMetric}}
	rtmetrics.Read(sample)
	if sample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// Close stops prefetching, waits for pending cache writes and releases the
// configured closers.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.prefetcher.Stop()
		if err := s.cache.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range s.cfg.Closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
