package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonebnation/ebizimba-content/cache"
	"github.com/zonebnation/ebizimba-content/fetch"
)

var (
	_ cache.Metrics = (*ContentMetrics)(nil)
	_ fetch.Metrics = (*ContentMetrics)(nil)
)

func TestContentMetrics(t *testing.T) {
	m := NewContentMetrics("test")

	m.CacheHit(cache.TierMemory)
	m.CacheHit(cache.TierMemory)
	m.CacheHit(cache.TierDurable)
	m.CacheMiss()
	m.CacheEvicted(cache.EvictCapacity, 3)
	m.FetchCompleted(fetch.OutcomeFetched, 120*time.Millisecond)
	m.SourceTried("https-ipfs.io", nil)
	m.SourceTried("https-ipfs.io", errors.New("502"))
	m.FetchCoalesced()
	m.UploadCompleted(2048, nil)
	m.OfflineDownloaded(7, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits.WithLabelValues(cache.TierMemory)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits.WithLabelValues(cache.TierDurable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheEvictions.WithLabelValues(cache.EvictCapacity)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues(fetch.OutcomeFetched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceAttempts.WithLabelValues("https-ipfs.io", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceAttempts.WithLabelValues("https-ipfs.io", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.coalesced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.bundledItems.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.bundledItems.WithLabelValues("error")))
}

func TestMetricsServer(t *testing.T) {
	m := NewContentMetrics("ebizimba_content")
	m.CacheMiss()

	srv := httptest.NewServer(NewMetricsServer("", m).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ebizimba_content_cache_misses_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
