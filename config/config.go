// Package config loads the TOML configuration of the content service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zonebnation/ebizimba-content/cache"
	"github.com/zonebnation/ebizimba-content/catalog"
	"github.com/zonebnation/ebizimba-content/fetch"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/prefetch"
	"github.com/zonebnation/ebizimba-content/sequence"
	"github.com/zonebnation/ebizimba-content/upload"
)

// Catalog types.
const (
	CatalogMemory = "memory"
	CatalogHTTP   = "http"
	CatalogSQLite = "sqlite"
	CatalogYAML   = "yaml"
)

// Durable storage types.
const (
	DurableNone   = "none"
	DurableFile   = "file"
	DurableBadger = "badger"
)

// Duration is a time.Duration written as a string such as "20s" or "168h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Durable  DurableConfig  `toml:"durable"`
	Cache    CacheConfig    `toml:"cache"`
	Fetch    FetchConfig    `toml:"fetch"`
	Upload   UploadConfig   `toml:"upload"`
	Prefetch PrefetchConfig `toml:"prefetch"`
	Offline  OfflineConfig  `toml:"offline"`
	Sequence SequenceConfig `toml:"sequence"`
}

type ServerConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	MetricsAddr      string   `toml:"metrics_addr"`
	EnablePprof      bool     `toml:"enable_pprof"`
	DrainDuration    Duration `toml:"drain_duration"`
	ShutdownDuration Duration `toml:"shutdown_duration"`
	ReadTimeout      Duration `toml:"read_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`
	// MaxUploadBytes bounds request bodies of the upload endpoint.
	MaxUploadBytes int64 `toml:"max_upload_bytes"`
}

type LogConfig struct {
	Debug bool `toml:"debug"`
	JSON  bool `toml:"json"`
	UID   bool `toml:"uid"`
}

// CatalogConfig selects the descriptor source.
type CatalogConfig struct {
	Type string `toml:"type"`
	// URL is the REST endpoint of the http catalog.
	URL    string `toml:"url"`
	Table  string `toml:"table"`
	APIKey string `toml:"api_key"`
	// Path is the database of the sqlite catalog or the seed file of the yaml
	// catalog.
	Path         string   `toml:"path"`
	SyncInterval Duration `toml:"sync_interval"`
	// Gateways are the templates used for rows that carry only a CID.
	Gateways []string `toml:"gateways"`
}

type DurableConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type CacheConfig struct {
	MaxEntries    int      `toml:"max_entries"`
	MemoryTTL     Duration `toml:"memory_ttl"`
	DurableTTL    Duration `toml:"durable_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	// HeapLimitMB clears the memory tier when the Go heap grows past it; zero
	// disables the check.
	HeapLimitMB         int      `toml:"heap_limit_mb"`
	MemoryCheckInterval Duration `toml:"memory_check_interval"`
}

type FetchConfig struct {
	MaxRetriesPerSource int      `toml:"max_retries_per_source"`
	RetryDelay          Duration `toml:"retry_delay"`
	BackoffFactor       float64  `toml:"backoff_factor"`
	AttemptTimeout      Duration `toml:"attempt_timeout"`
	ChunkConcurrency    int      `toml:"chunk_concurrency"`
	// RatePerSecond limits requests per gateway host; zero disables limiting.
	RatePerSecond    float64 `toml:"rate_per_second"`
	RateBurst        int     `toml:"rate_burst"`
	GitHubRawBaseURL string  `toml:"github_raw_base_url"`
}

type UploadConfig struct {
	// Publishers are file, s3 or ipfs URIs uploads are stored to.
	Publishers     []string `toml:"publishers"`
	ThresholdBytes int      `toml:"threshold_bytes"`
	ChunkSize      int      `toml:"chunk_size"`
}

type PrefetchConfig struct {
	Forward     int `toml:"forward"`
	Backward    int `toml:"backward"`
	Concurrency int `toml:"concurrency"`
}

type OfflineConfig struct {
	MaxRange    int `toml:"max_range"`
	Concurrency int `toml:"concurrency"`
}

// SequenceConfig describes the numbered id sequence used for prefetching and
// offline ranges.
type SequenceConfig struct {
	Prefix string `toml:"prefix"`
	Width  int    `toml:"width"`
	First  int    `toml:"first"`
	Last   int    `toml:"last"`
}

// Pattern returns the configured sequence.
func (c SequenceConfig) Pattern() sequence.Pattern {
	return sequence.Pattern{Prefix: c.Prefix, Width: c.Width, First: c.First, Last: c.Last}
}

// Policy returns the configured fetch policy.
func (c FetchConfig) Policy() fetch.Policy {
	return fetch.Policy{
		MaxRetriesPerSource: c.MaxRetriesPerSource,
		RetryDelay:          c.RetryDelay.Duration,
		BackoffFactor:       c.BackoffFactor,
		AttemptTimeout:      c.AttemptTimeout.Duration,
		ChunkConcurrency:    c.ChunkConcurrency,
	}
}

// Default returns the default configuration: an in-memory catalog, no durable
// storage and the default cache, fetch and sequence parameters.
func Default() *Config {
	policy := fetch.DefaultPolicy()
	pages := sequence.Pages()
	return &Config{
		Server: ServerConfig{
			ListenAddr:       "127.0.0.1:8080",
			MetricsAddr:      "127.0.0.1:8090",
			DrainDuration:    Duration{45 * time.Second},
			ShutdownDuration: Duration{30 * time.Second},
			ReadTimeout:      Duration{60 * time.Second},
			WriteTimeout:     Duration{60 * time.Second},
			MaxUploadBytes:   256 << 20,
		},
		Catalog: CatalogConfig{
			Type:         CatalogMemory,
			Table:        "ipfs_content",
			SyncInterval: Duration{5 * time.Minute},
			Gateways:     append([]string(nil), catalog.DefaultGatewayTemplates...),
		},
		Durable: DurableConfig{Type: DurableNone},
		Cache: CacheConfig{
			MaxEntries:          cache.DefaultMaxEntries,
			MemoryTTL:           Duration{cache.DefaultMemoryTTL},
			DurableTTL:          Duration{cache.DefaultDurableTTL},
			SweepInterval:       Duration{time.Minute},
			HeapLimitMB:         200,
			MemoryCheckInterval: Duration{30 * time.Second},
		},
		Fetch: FetchConfig{
			MaxRetriesPerSource: policy.MaxRetriesPerSource,
			RetryDelay:          Duration{policy.RetryDelay},
			BackoffFactor:       policy.BackoffFactor,
			AttemptTimeout:      Duration{policy.AttemptTimeout},
			ChunkConcurrency:    policy.ChunkConcurrency,
		},
		Upload: UploadConfig{
			ThresholdBytes: upload.DefaultThreshold,
			ChunkSize:      upload.DefaultChunkSize,
		},
		Prefetch: PrefetchConfig{
			Forward:     prefetch.DefaultForward,
			Backward:    prefetch.DefaultBackward,
			Concurrency: prefetch.DefaultConcurrency,
		},
		Offline: OfflineConfig{
			MaxRange:    offline.DefaultMaxRange,
			Concurrency: offline.DefaultConcurrency,
		},
		Sequence: SequenceConfig{
			Prefix: pages.Prefix,
			Width:  pages.Width,
			First:  pages.First,
			Last:   pages.Last,
		},
	}
}

// Load reads the TOML file at path over the defaults and validates the
// result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Catalog.Type {
	case CatalogMemory:
	case CatalogHTTP:
		if c.Catalog.URL == "" {
			errs = append(errs, errors.New("catalog.url is required for the http catalog"))
		}
	case CatalogSQLite, CatalogYAML:
		if c.Catalog.Path == "" {
			errs = append(errs, fmt.Errorf("catalog.path is required for the %s catalog", c.Catalog.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown catalog.type %q", c.Catalog.Type))
	}
	for _, gw := range c.Catalog.Gateways {
		if _, err := interfaces.NewSourceLocation(gw); err != nil {
			errs = append(errs, fmt.Errorf("catalog.gateways: %w", err))
		}
	}

	switch c.Durable.Type {
	case DurableNone:
	case DurableFile:
		if c.Durable.Path == "" {
			errs = append(errs, errors.New("durable.path is required for file storage"))
		}
	case DurableBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown durable.type %q", c.Durable.Type))
	}

	for _, uri := range c.Upload.Publishers {
		loc, err := interfaces.NewSourceLocation(uri)
		if err != nil {
			errs = append(errs, fmt.Errorf("upload.publishers: %w", err))
			continue
		}
		switch loc.Scheme {
		case "file", "s3", "ipfs":
		default:
			errs = append(errs, fmt.Errorf("upload.publishers: cannot publish to %s", uri))
		}
	}

	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.HeapLimitMB < 0 {
		errs = append(errs, errors.New("cache.heap_limit_mb must not be negative"))
	}
	if c.Cache.HeapLimitMB > 0 && c.Cache.MemoryCheckInterval.Duration <= 0 {
		errs = append(errs, errors.New("cache.memory_check_interval must be positive when heap_limit_mb is set"))
	}
	if c.Fetch.MaxRetriesPerSource <= 0 {
		errs = append(errs, errors.New("fetch.max_retries_per_source must be positive"))
	}
	if c.Fetch.AttemptTimeout.Duration <= 0 {
		errs = append(errs, errors.New("fetch.attempt_timeout must be positive"))
	}
	if c.Fetch.RatePerSecond < 0 {
		errs = append(errs, errors.New("fetch.rate_per_second must not be negative"))
	}
	if c.Upload.ThresholdBytes <= 0 || c.Upload.ChunkSize <= 0 {
		errs = append(errs, errors.New("upload.threshold_bytes and upload.chunk_size must be positive"))
	}
	if c.Prefetch.Forward < 0 || c.Prefetch.Backward < 0 {
		errs = append(errs, errors.New("prefetch window must not be negative"))
	}
	if c.Sequence.Width <= 0 || c.Sequence.First > c.Sequence.Last {
		errs = append(errs, errors.New("sequence needs a positive width and first <= last"))
	}

	return errors.Join(errs...)
}
