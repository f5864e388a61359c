package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, CatalogMemory, cfg.Catalog.Type)
	assert.Equal(t, DurableNone, cfg.Durable.Type)
	assert.Equal(t, 20, cfg.Cache.MaxEntries)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.DurableTTL.Duration)
	assert.Equal(t, 1<<20, cfg.Upload.ThresholdBytes)
	assert.Equal(t, 5, cfg.Prefetch.Forward)
	assert.Equal(t, 2, cfg.Prefetch.Backward)
	assert.Len(t, cfg.Catalog.Gateways, 3)
	assert.Equal(t, 200, cfg.Cache.HeapLimitMB)
	assert.Equal(t, 30*time.Second, cfg.Cache.MemoryCheckInterval.Duration)

	p := cfg.Sequence.Pattern()
	assert.EqualValues(t, "quran-page-604", p.ID(604))
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[server]
listen_addr = "0.0.0.0:9000"

[catalog]
type = "sqlite"
path = "/var/lib/content/catalog.db"
sync_interval = "30s"

[durable]
type = "badger"

[cache]
max_entries = 50
memory_ttl = "10m"

[fetch]
max_retries_per_source = 3
retry_delay = "100ms"
attempt_timeout = "5s"
rate_per_second = 10
rate_burst = 5

[upload]
publishers = ["file:///srv/mirror", "ipfs://localhost:5001"]
chunk_size = 524288
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.MetricsAddr)
	assert.Equal(t, CatalogSQLite, cfg.Catalog.Type)
	assert.Equal(t, 30*time.Second, cfg.Catalog.SyncInterval.Duration)
	assert.Equal(t, DurableBadger, cfg.Durable.Type)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MemoryTTL.Duration)
	assert.Equal(t, 524288, cfg.Upload.ChunkSize)
	assert.Equal(t, 1<<20, cfg.Upload.ThresholdBytes)

	policy := cfg.Fetch.Policy()
	assert.Equal(t, 3, policy.MaxRetriesPerSource)
	assert.Equal(t, 100*time.Millisecond, policy.RetryDelay)
	assert.Equal(t, 5*time.Second, policy.AttemptTimeout)
	assert.Equal(t, 2.0, policy.BackoffFactor)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[cache]\nmax_entires = 5\n"},
		{"bad duration", "[fetch]\nretry_delay = \"soon\"\n"},
		{"http catalog without url", "[catalog]\ntype = \"http\"\n"},
		{"unknown catalog", "[catalog]\ntype = \"ldap\"\n"},
		{"file storage without path", "[durable]\ntype = \"file\"\n"},
		{"gateway publisher", "[upload]\npublishers = [\"https://ipfs.io/ipfs\"]\n"},
		{"zero cache", "[cache]\nmax_entries = 0\n"},
		{"negative heap limit", "[cache]\nheap_limit_mb = -1\n"},
		{"heap limit without interval", "[cache]\nheap_limit_mb = 100\nmemory_check_interval = \"0s\"\n"},
		{"negative window", "[prefetch]\nforward = -1\n"},
		{"bad sequence", "[sequence]\nfirst = 10\nlast = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
