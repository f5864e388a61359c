package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zonebnation/ebizimba-content/cache"
	"github.com/zonebnation/ebizimba-content/catalog"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/config"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/metrics"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/storage"
)

// Open builds a service from cfg: catalog, durable storage, gateways and
// publishers are created as configured and the registry is synced once. A
// failed initial sync leaves the registry empty and stale; it is not an error.
// m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.ContentMetrics, log *slog.Logger) (*Service, error) {
	log = common.OrDefault(log)
	var closers []io.Closer
	fail := func(err error) (*Service, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	pages := cfg.Sequence.Pattern()
	mapping := catalog.RowMapping{
		Gateways: cfg.Catalog.Gateways,
		PageID: func(n int) (interfaces.ContentID, bool) {
			if n < pages.First || n > pages.Last {
				return "", false
			}
			return pages.ID(n), true
		},
	}

	var cat interfaces.Catalog
	switch cfg.Catalog.Type {
	case config.CatalogHTTP:
		cat = catalog.NewHTTPCatalog(cfg.Catalog.URL, catalog.HTTPCatalogOptions{
			Table:   cfg.Catalog.Table,
			APIKey:  cfg.Catalog.APIKey,
			Mapping: mapping,
		}, log)
	case config.CatalogSQLite:
		sq, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path, mapping, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, sq)
		cat = sq
	case config.CatalogYAML:
		cat = catalog.NewYAMLCatalog(cfg.Catalog.Path, log)
	case config.CatalogMemory:
		cat = catalog.NewMemoryCatalog()
	default:
		return fail(fmt.Errorf("unknown catalog type %q", cfg.Catalog.Type))
	}

	var durable interfaces.DurableStorage
	switch cfg.Durable.Type {
	case config.DurableFile:
		fs, err := storage.NewFileStorage(cfg.Durable.Path, log)
		if err != nil {
			return fail(err)
		}
		durable = fs
	case config.DurableBadger:
		bs, err := storage.NewBadgerStorage(cfg.Durable.Path, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, bs)
		durable = bs
	case config.DurableNone:
	default:
		return fail(fmt.Errorf("unknown durable storage type %q", cfg.Durable.Type))
	}

	factory := storage.NewGatewayFactory(log, storage.FactoryOptions{
		RatePerSecond:    cfg.Fetch.RatePerSecond,
		RateBurst:        cfg.Fetch.RateBurst,
		GitHubRawBaseURL: cfg.Fetch.GitHubRawBaseURL,
	})

	var publisher interfaces.Publisher
	if len(cfg.Upload.Publishers) > 0 {
		mp, err := factory.CreateMultiPublisher(cfg.Upload.Publishers)
		if err != nil {
			return fail(err)
		}
		publisher = mp
	}

	svc, err := New(Config{
		Catalog:   cat,
		Gateways:  factory,
		Durable:   durable,
		Publisher: publisher,
		Sequencer: pages,
		Cache: cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			MemoryTTL:  cfg.Cache.MemoryTTL.Duration,
			DurableTTL: cfg.Cache.DurableTTL.Duration,
		},
		Memory: MemoryWatch{
			LimitBytes: uint64(cfg.Cache.HeapLimitMB) << 20,
			Interval:   cfg.Cache.MemoryCheckInterval.Duration,
		},
		Policy:          cfg.Fetch.Policy(),
		UploadThreshold: cfg.Upload.ThresholdBytes,
		ChunkSize:       cfg.Upload.ChunkSize,
		Prefetch: PrefetchConfig{
			Forward:     cfg.Prefetch.Forward,
			Backward:    cfg.Prefetch.Backward,
			Concurrency: cfg.Prefetch.Concurrency,
		},
		Offline: offline.Options{
			MaxRange:    cfg.Offline.MaxRange,
			Concurrency: cfg.Offline.Concurrency,
		},
		Metrics: m,
		Log:     log,
		Closers: closers,
	})
	if err != nil {
		return fail(err)
	}

	if err := svc.Sync(ctx); err != nil {
		log.Warn("Initial registry sync failed, starting stale", "err", err)
	}
	return svc, nil
}
