package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// maxResponseSize bounds a single gateway response.
const maxResponseSize = 256 << 20

// HTTPGateway fetches content with plain GET requests, e.g. from public IPFS
// gateways (https://ipfs.io/ipfs/{id}) or image hosts.
type HTTPGateway struct {
	client *http.Client
	name   string
	log    *slog.Logger
}

// NewHTTPGateway creates a gateway using client. A nil client gets a default
// one; request deadlines come from the caller's context.
func NewHTTPGateway(name string, client *http.Client, log *slog.Logger) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPGateway{
		client: client,
		name:   name,
		log:    common.OrDefault(log),
	}
}

// Fetch GETs location. Any transport error or non-2xx status is a transient
// failure.
func (g *HTTPGateway) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrTransientFetch, g.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned status %d", interfaces.ErrTransientFetch, g.name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading body: %v", interfaces.ErrTransientFetch, g.name, err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: %s: response exceeds %d bytes", interfaces.ErrTransientFetch, g.name, maxResponseSize)
	}

	g.log.Debug("Fetched content over HTTP",
		slog.String("gateway", g.name),
		slog.String("content_id", id.Short()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Name returns a unique identifier for this gateway.
func (g *HTTPGateway) Name() string {
	return g.name
}
