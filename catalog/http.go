package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// DefaultTable is the table holding content rows.
const DefaultTable = "ipfs_content"

// HTTPCatalog is a catalog backed by a PostgREST endpoint, such as the REST
// interface of a Supabase project.
type HTTPCatalog struct {
	baseURL    string
	table      string
	apiKey     string
	mapping    RowMapping
	httpClient *http.Client
	log        *slog.Logger
}

// HTTPCatalogOptions configures an HTTPCatalog.
type HTTPCatalogOptions struct {
	// Table defaults to DefaultTable.
	Table string

	// APIKey is sent as the apikey header and as a bearer token.
	APIKey string

	Mapping RowMapping

	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration
}

// NewHTTPCatalog creates a catalog client for the REST endpoint at baseURL
// (e.g. "https://project.supabase.co/rest/v1").
func NewHTTPCatalog(baseURL string, opts HTTPCatalogOptions, log *slog.Logger) *HTTPCatalog {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &HTTPCatalog{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		table:   opts.Table,
		apiKey:  opts.APIKey,
		mapping: opts.Mapping,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		log: common.OrDefault(log),
	}
}

// List fetches every row. Rows that do not map to a valid descriptor are
// logged and skipped.
func (c *HTTPCatalog) List(ctx context.Context) ([]interfaces.ContentDescriptor, error) {
	start := time.Now()

	req, err := c.newRequest(ctx, http.MethodGet, c.tableURL(url.Values{"select": {"*"}}), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog list request failed with code %d: %s", resp.StatusCode, string(body))
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}

	descs := make([]interfaces.ContentDescriptor, 0, len(rows))
	for _, row := range rows {
		desc, err := c.mapping.Descriptor(row)
		if err != nil {
			c.log.Warn("Skipping catalog row", slog.String("cid", row.CID), "err", err)
			continue
		}
		descs = append(descs, desc)
	}

	c.log.Debug("Listed catalog",
		slog.Int("rows", len(rows)),
		slog.Int("descriptors", len(descs)),
		slog.Duration("duration", time.Since(start)))

	return descs, nil
}

// Insert upserts the descriptor's row.
func (c *HTTPCatalog) Insert(ctx context.Context, desc interfaces.ContentDescriptor) error {
	body, err := json.Marshal(RowFromDescriptor(desc))
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.tableURL(url.Values{"on_conflict": {"cid"}}), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	return c.do(req, "insert")
}

// Delete removes the row for id.
func (c *HTTPCatalog) Delete(ctx context.Context, id interfaces.ContentID) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.tableURL(url.Values{"cid": {"eq." + string(id)}}), nil)
	if err != nil {
		return err
	}
	return c.do(req, "delete")
}

func (c *HTTPCatalog) do(req *http.Request, op string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("catalog %s request failed with code %d: %s", op, resp.StatusCode, string(body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPCatalog) tableURL(query url.Values) string {
	return fmt.Sprintf("%s/%s?%s", c.baseURL, c.table, query.Encode())
}

func (c *HTTPCatalog) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
