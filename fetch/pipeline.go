package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zonebnation/ebizimba-content/cache"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// Fetch outcomes reported to Metrics.
const (
	OutcomeCacheHit      = "cache_hit"
	OutcomeOffline       = "offline"
	OutcomeFetched       = "fetched"
	OutcomeNotRegistered = "not_registered"
	OutcomeExhausted     = "exhausted"
	OutcomeCanceled      = "canceled"
	OutcomeError         = "error"
)

// Resolver looks up descriptors. *registry.ContentRegistry implements it.
type Resolver interface {
	Resolve(id interfaces.ContentID) (interfaces.ContentDescriptor, error)
}

// Cache is the subset of *cache.Store used by the pipeline.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, data []byte, hint cache.TierHint)
}

// OfflineReader serves content downloaded for offline use. Read returns an
// error wrapping interfaces.ErrContentNotFound for ids it does not hold.
type OfflineReader interface {
	Read(ctx context.Context, id interfaces.ContentID) ([]byte, error)
}

// Metrics receives fetch events. Implementations must be safe for concurrent
// use.
type Metrics interface {
	FetchCompleted(outcome string, d time.Duration)
	SourceTried(gateway string, err error)
	FetchCoalesced()
}

// Config wires a Pipeline. Registry, Cache and Gateways are required.
type Config struct {
	Registry Resolver
	Cache    Cache
	Gateways interfaces.GatewayFactory
	Offline  OfflineReader
	Policy   Policy
	Metrics  Metrics
	Log      *slog.Logger
}

// Pipeline turns content ids into bytes: cache first, then offline bundles,
// then the descriptor's sources in priority order under the retry policy.
// Concurrent fetches of one id share a single source trial sequence.
type Pipeline struct {
	registry Resolver
	cache    Cache
	gateways interfaces.GatewayFactory
	offline  OfflineReader
	policy   Policy
	metrics  Metrics
	log      *slog.Logger

	flights *coalescer

	// sleep waits out retry delays; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		gateways: cfg.Gateways,
		offline:  cfg.Offline,
		policy:   cfg.Policy.withDefaults(),
		metrics:  cfg.Metrics,
		log:      common.OrDefault(cfg.Log),
		flights:  newCoalescer(),
		sleep:    sleepCtx,
	}
}

// Policy returns the effective fetch policy.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// Fetch returns the bytes of id. On success the payload has been put into the
// cache. Errors wrap interfaces.ErrNotRegistered, interfaces.ErrSourcesExhausted
// (as *interfaces.FetchError) or the context's error.
//
// A caller that gives up stops waiting immediately. The underlying fetch keeps
// running for other waiters and is cancelled once nobody waits for it; an
// abandoned fetch does not populate the cache.
func (p *Pipeline) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()

	if err := id.Validate(); err != nil {
		p.completed(OutcomeNotRegistered, start)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrNotRegistered, err)
	}

	if data, ok := p.cache.Get(ctx, string(id)); ok {
		p.completed(OutcomeCacheHit, start)
		return data, nil
	}

	var outcome string
	data, err, shared := p.flights.do(ctx, string(id), func(fctx context.Context) ([]byte, error) {
		var data []byte
		var err error
		data, outcome, err = p.load(fctx, id)
		return data, err
	})
	if shared && p.metrics != nil {
		p.metrics.FetchCoalesced()
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			p.completed(OutcomeCanceled, start)
		case errors.Is(err, interfaces.ErrNotRegistered):
			p.completed(OutcomeNotRegistered, start)
		case errors.Is(err, interfaces.ErrSourcesExhausted):
			p.completed(OutcomeExhausted, start)
		default:
			p.completed(OutcomeError, start)
		}
		return nil, err
	}

	if !shared {
		p.completed(outcome, start)
	} else {
		p.completed(OutcomeFetched, start)
	}
	return data, nil
}

// load runs inside a flight. Its context is cancelled when every waiter has
// given up.
func (p *Pipeline) load(ctx context.Context, id interfaces.ContentID) ([]byte, string, error) {
	// A flight for id may have completed between the caller's miss and now.
	if data, ok := p.cache.Get(ctx, string(id)); ok {
		return data, OutcomeCacheHit, nil
	}

	if p.offline != nil {
		data, err := p.offline.Read(ctx, id)
		if err == nil {
			p.cache.Put(ctx, string(id), data, cache.TierMemoryOnly)
			return data, OutcomeOffline, nil
		}
		if !errors.Is(err, interfaces.ErrContentNotFound) {
			p.log.Warn("Offline read failed", slog.String("content_id", id.Short()), "err", err)
		}
	}

	desc, err := p.registry.Resolve(id)
	if err != nil {
		return nil, OutcomeNotRegistered, err
	}

	var data []byte
	if desc.IsChunked() {
		data, err = p.fetchChunks(ctx, desc)
	} else {
		data, err = p.fetchSources(ctx, id, desc.SourceLocations)
	}
	if err != nil {
		return nil, OutcomeError, err
	}

	if ctx.Err() != nil {
		return nil, OutcomeCanceled, ctx.Err()
	}
	p.cache.Put(ctx, string(id), data, cache.TierAll)
	return data, OutcomeFetched, nil
}

func (p *Pipeline) fetchSources(ctx context.Context, id interfaces.ContentID, sources []string) ([]byte, error) {
	a := newAttempt(id)
	a.transition(Resolving)
	a.Sources = sources
	return p.drive(ctx, a)
}

// drive runs a resolved Attempt through its sources until one succeeds or
// every source is exhausted.
func (p *Pipeline) drive(ctx context.Context, a *Attempt) ([]byte, error) {
	id := a.ContentID
	if len(a.Sources) == 0 {
		a.transition(Exhausted)
		return nil, a.exhaustedError()
	}
	a.wait = p.policy.newBackOff()
	a.transition(Fetching)

	for {
		switch a.State {
		case Fetching:
			data, err := p.tryOnce(ctx, id, a.Location())
			if err == nil {
				a.transition(Success)
				p.log.Debug("Fetched content",
					slog.String("content_id", id.Short()),
					slog.Int("source", a.SourceIndex),
					slog.Int("bytes", len(data)))
				return data, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.fail(err)
			p.log.Debug("Source attempt failed",
				slog.String("content_id", id.Short()),
				slog.String("location", a.Location()),
				slog.Int("retry", a.RetryCount),
				"err", err)

			if a.RetryCount < p.policy.MaxRetriesPerSource && !errors.Is(err, interfaces.ErrInvalidLocationURI) {
				a.transition(Retrying)
			} else {
				a.transition(NextSource)
			}

		case Retrying:
			if err := p.sleep(ctx, a.wait.NextBackOff()); err != nil {
				return nil, err
			}
			a.transition(Fetching)

		case NextSource:
			a.advance()
			if a.SourceIndex >= len(a.Sources) {
				a.transition(Exhausted)
			} else {
				a.transition(Fetching)
			}

		case Exhausted:
			err := a.exhaustedError()
			p.log.Warn("All sources exhausted",
				slog.String("content_id", id.Short()),
				slog.Int("sources", len(a.Sources)),
				"err", err)
			return nil, err

		default:
			return nil, fmt.Errorf("fetch %s: unexpected state %s", id, a.State)
		}
	}
}

// tryOnce performs a single request against one source.
func (p *Pipeline) tryOnce(ctx context.Context, id interfaces.ContentID, template string) ([]byte, error) {
	gw, err := p.gateways.GatewayFor(template)
	if err != nil {
		if !errors.Is(err, interfaces.ErrInvalidLocationURI) {
			err = fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
		}
		p.sourceTried("invalid", err)
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, p.policy.AttemptTimeout)
	defer cancel()

	data, err := gw.Fetch(actx, interfaces.ExpandTemplate(template, id), id)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, interfaces.ErrTransientFetch):
			err = fmt.Errorf("%w: timed out after %s: %v", interfaces.ErrTransientFetch, p.policy.AttemptTimeout, err)
		case !errors.Is(err, interfaces.ErrTransientFetch):
			err = fmt.Errorf("%w: %v", interfaces.ErrTransientFetch, err)
		}
	}
	p.sourceTried(gw.Name(), err)
	return data, err
}

// fetchChunks fetches every chunk of a chunked asset with bounded concurrency
// and concatenates them in manifest order. Chunks are not cached on their own.
func (p *Pipeline) fetchChunks(ctx context.Context, parent interfaces.ContentDescriptor) ([]byte, error) {
	parts := make([][]byte, len(parent.ChunkManifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.policy.ChunkConcurrency)
	for i, chunkID := range parent.ChunkManifest {
		g.Go(func() error {
			chunk, err := p.registry.Resolve(chunkID)
			if err != nil {
				return fmt.Errorf("chunk %d of %s: %w", i, parent.ID, err)
			}
			if chunk.IsChunked() {
				return fmt.Errorf("chunk %d of %s: nested chunk manifest", i, parent.ID)
			}
			data, err := p.fetchSources(gctx, chunkID, chunk.SourceLocations)
			if err != nil {
				return fmt.Errorf("chunk %d of %s: %w", i, parent.ID, err)
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := bytes.Join(parts, nil)
	if parent.SizeBytes > 0 && int64(len(data)) != parent.SizeBytes {
		p.log.Warn("Assembled size differs from descriptor",
			slog.String("content_id", parent.ID.Short()),
			slog.Int64("expected", parent.SizeBytes),
			slog.Int("actual", len(data)))
	}
	return data, nil
}

func (p *Pipeline) completed(outcome string, start time.Time) {
	if p.metrics != nil {
		p.metrics.FetchCompleted(outcome, time.Since(start))
	}
}

func (p *Pipeline) sourceTried(gateway string, err error) {
	if p.metrics != nil {
		p.metrics.SourceTried(gateway, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
