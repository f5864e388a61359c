package cache

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

const (
	// DefaultMaxEntries bounds the memory tier.
	DefaultMaxEntries = 20
	// DefaultMemoryTTL is the session-scale lifetime of memory entries.
	DefaultMemoryTTL = time.Hour
	// DefaultDurableTTL is the lifetime of durable entries.
	DefaultDurableTTL = 7 * 24 * time.Hour
	// DefaultDir is the durable storage directory holding cache envelopes.
	DefaultDir = "cache"
)

// Tier names used in metrics.
const (
	TierMemory  = "memory"
	TierDurable = "durable"
)

// Eviction reasons used in metrics.
const (
	EvictCapacity   = "capacity"
	EvictExpired    = "expired"
	EvictCleared    = "cleared"
	EvictInvalidate = "invalidated"
)

// TierHint selects which tiers Put writes to.
type TierHint int

const (
	// TierAll writes the memory tier and, when available, the durable tier.
	TierAll TierHint = iota
	// TierMemoryOnly keeps the entry out of durable storage.
	TierMemoryOnly
)

// Metrics receives cache events. Implementations must be safe for concurrent
// use.
type Metrics interface {
	CacheHit(tier string)
	CacheMiss()
	CacheEvicted(reason string, n int)
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	MaxEntries int
	MemoryTTL  time.Duration
	DurableTTL time.Duration
	Dir        string

	// Now is the clock; tests override it.
	Now func() time.Time

	// Metrics may be nil.
	Metrics Metrics
}

func (o *Options) setDefaults() {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.MemoryTTL <= 0 {
		o.MemoryTTL = DefaultMemoryTTL
	}
	if o.DurableTTL <= 0 {
		o.DurableTTL = DefaultDurableTTL
	}
	if o.Dir == "" {
		o.Dir = DefaultDir
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Store is a two-tier cache: a bounded in-memory tier in front of an optional
// durable tier. It is the only component that evicts entries.
//
// Payloads returned by Get are shared with the cache and must not be
// modified.
type Store struct {
	durable interfaces.DurableStorage
	opts    Options
	log     *slog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // of *Entry, oldest insertion first
	// versions increase on every Put and Invalidate of a key. Durable writes
	// and promotions carrying an older version are dropped.
	versions map[string]uint64
	closed   bool

	durableMu sync.Mutex
	writes    sync.WaitGroup
}

// NewStore creates a cache. A nil durable storage makes the cache memory-only.
func NewStore(durable interfaces.DurableStorage, opts Options, log *slog.Logger) *Store {
	opts.setDefaults()
	return &Store{
		durable:  durable,
		opts:     opts,
		log:      common.OrDefault(log),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		versions: make(map[string]uint64),
	}
}

// HasDurable reports whether the durable tier is available.
func (s *Store) HasDurable() bool {
	return s.durable != nil
}

// Get returns the payload cached for key. The memory tier is checked first,
// then the durable tier; a durable hit is promoted into memory. Expired
// entries are removed and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	now := s.opts.Now()

	s.mu.Lock()
	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*Entry)
		if !entry.Expired(now) {
			s.mu.Unlock()
			s.hit(TierMemory)
			return entry.Payload, true
		}
		s.removeLocked(el)
		s.evicted(EvictExpired, 1)
	}
	version := s.versions[key]
	s.mu.Unlock()

	if s.durable == nil {
		s.miss()
		return nil, false
	}

	entry, ok := s.readDurable(ctx, key, version, now)
	if !ok {
		s.miss()
		return nil, false
	}

	memExpiry := now.Add(s.opts.MemoryTTL)
	if entry.ExpiresAt.Before(memExpiry) {
		memExpiry = entry.ExpiresAt
	}
	promoted := &Entry{Key: key, Payload: entry.Payload, FetchedAt: entry.FetchedAt, ExpiresAt: memExpiry}

	s.mu.Lock()
	if s.versions[key] == version {
		if _, ok := s.entries[key]; !ok {
			s.insertLocked(promoted)
		}
	}
	s.mu.Unlock()
	s.EvictIfOverCapacity()

	s.hit(TierDurable)
	return entry.Payload, true
}

func (s *Store) readDurable(ctx context.Context, key string, version uint64, now time.Time) (Entry, bool) {
	path := s.durablePath(key)

	data, err := s.durable.ReadFile(ctx, path)
	if err != nil {
		if !errors.Is(err, interfaces.ErrContentNotFound) {
			s.log.Debug("Durable cache read failed", slog.String("key", key), "err", err)
		}
		return Entry{}, false
	}

	entry, err := decodeEnvelope(key, data)
	if err != nil || entry.Expired(now) {
		if err != nil {
			s.log.Warn("Dropping unreadable cache entry", slog.String("key", key), "err", err)
		} else {
			s.evicted(EvictExpired, 1)
		}
		s.durableMu.Lock()
		s.mu.Lock()
		current := s.versions[key] == version
		s.mu.Unlock()
		if current {
			if rmErr := s.durable.Remove(ctx, path); rmErr != nil {
				s.log.Debug("Failed to remove durable cache entry", slog.String("key", key), "err", rmErr)
			}
		}
		s.durableMu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

// Put caches data under key. The memory tier is written before Put returns;
// the durable write, if any, happens in the background and never blocks the
// caller. Use Flush to wait for it.
func (s *Store) Put(ctx context.Context, key string, data []byte, hint TierHint) {
	now := s.opts.Now()
	payload := append([]byte(nil), data...)

	s.mu.Lock()
	s.versions[key]++
	version := s.versions[key]
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	s.insertLocked(&Entry{Key: key, Payload: payload, FetchedAt: now, ExpiresAt: now.Add(s.opts.MemoryTTL)})
	writeDurable := s.durable != nil && hint == TierAll && !s.closed
	if writeDurable {
		s.writes.Add(1)
	}
	s.mu.Unlock()

	s.EvictIfOverCapacity()

	if !writeDurable {
		return
	}

	envelope := encodeEnvelope(Entry{Key: key, Payload: payload, FetchedAt: now, ExpiresAt: now.Add(s.opts.DurableTTL)})
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.writes.Done()
		s.writeDurable(bg, key, version, envelope)
	}()
}

func (s *Store) writeDurable(ctx context.Context, key string, version uint64, envelope []byte) {
	s.durableMu.Lock()
	defer s.durableMu.Unlock()

	s.mu.Lock()
	current := s.versions[key] == version
	s.mu.Unlock()
	if !current {
		return
	}

	var err error
	if ew, ok := s.durable.(interfaces.ExpiringWriter); ok {
		err = ew.WriteFileTTL(ctx, s.durablePath(key), envelope, s.opts.DurableTTL)
	} else {
		err = s.durable.WriteFile(ctx, s.durablePath(key), envelope)
	}
	if err != nil {
		s.log.Warn("Durable cache write failed", slog.String("key", key), "err", err)
	}
}

// EvictIfOverCapacity evicts the oldest-inserted memory entries until the
// memory tier is within its bound. The durable tier is bounded by expiry only.
func (s *Store) EvictIfOverCapacity() {
	s.mu.Lock()
	n := 0
	for s.order.Len() > s.opts.MaxEntries {
		s.removeLocked(s.order.Front())
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		s.evicted(EvictCapacity, n)
	}
}

// Clear drops every memory entry. Durable entries are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	n := s.order.Len()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	s.mu.Unlock()

	if n > 0 {
		s.evicted(EvictCleared, n)
	}
	s.log.Info("Cleared memory cache", slog.Int("entries", n))
}

// Invalidate removes key from both tiers. A pending durable write for key is
// discarded.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	s.mu.Lock()
	s.versions[key]++
	el, ok := s.entries[key]
	if ok {
		s.removeLocked(el)
	}
	s.mu.Unlock()
	if ok {
		s.evicted(EvictInvalidate, 1)
	}

	if s.durable == nil {
		return nil
	}

	s.durableMu.Lock()
	defer s.durableMu.Unlock()
	return s.durable.Remove(ctx, s.durablePath(key))
}

// Purge drops every entry from both tiers. Pending durable writes are
// discarded.
func (s *Store) Purge(ctx context.Context) error {
	s.mu.Lock()
	for key := range s.versions {
		s.versions[key]++
	}
	n := s.order.Len()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	s.mu.Unlock()

	if n > 0 {
		s.evicted(EvictCleared, n)
	}
	s.log.Info("Purged content cache", slog.Int("entries", n))

	if s.durable == nil {
		return nil
	}
	s.durableMu.Lock()
	defer s.durableMu.Unlock()
	return s.durable.Remove(ctx, s.opts.Dir)
}

// Sweep removes expired memory entries and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.opts.Now()

	s.mu.Lock()
	n := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry).Expired(now) {
			s.removeLocked(el)
			n++
		}
		el = next
	}
	s.mu.Unlock()

	if n > 0 {
		s.evicted(EvictExpired, n)
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.log.Debug("Swept expired cache entries", slog.Int("entries", n))
			}
		}
	}
}

// Len returns the number of memory entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Contains reports whether key is held in the memory tier, expired or not.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Flush waits for pending durable writes.
func (s *Store) Flush() {
	s.writes.Wait()
}

// Close stops durable writes and waits for pending ones.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
	return nil
}

func (s *Store) durablePath(key string) string {
	return s.opts.Dir + "/" + url.PathEscape(key)
}

func (s *Store) insertLocked(e *Entry) {
	s.entries[e.Key] = s.order.PushBack(e)
}

func (s *Store) removeLocked(el *list.Element) {
	delete(s.entries, el.Value.(*Entry).Key)
	s.order.Remove(el)
}

func (s *Store) hit(tier string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CacheHit(tier)
	}
}

func (s *Store) miss() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CacheMiss()
	}
}

func (s *Store) evicted(reason string, n int) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CacheEvicted(reason, n)
	}
}
